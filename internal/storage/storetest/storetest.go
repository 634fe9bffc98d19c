// Package storetest holds behaviour tests shared by every storage.Store
// implementation.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streamer-sales/sales-gateway/internal/storage"
)

// Run exercises newStore against the storage.Store contract.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("request journal", func(t *testing.T) { testRequestJournal(t, newStore(t)) })
	t.Run("list requests", func(t *testing.T) { testListRequests(t, newStore(t)) })
	t.Run("conversations", func(t *testing.T) { testConversations(t, newStore(t)) })
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
}

func testRequestJournal(t *testing.T, s storage.Store) {
	ctx := context.Background()

	if _, err := s.GetRequest(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetRequest(missing) error = %v, want ErrNotFound", err)
	}

	rec := &storage.RequestRecord{
		RequestID: "req-1",
		UserID:    "u1",
		Status:    storage.StatusRunning,
		State:     "GENERATING",
	}
	if err := s.SaveRequest(ctx, rec); err != nil {
		t.Fatalf("SaveRequest() error = %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("SaveRequest should stamp CreatedAt")
	}

	rec.Status = storage.StatusFailed
	rec.State = "FAILED"
	rec.Text = "宝子们好。"
	rec.Chunks = 1
	rec.CompletionTokens = 4
	rec.Degraded = []string{"tts"}
	rec.Error = "dg: stage_timeout"
	rec.Duration = 1500 * time.Millisecond
	if err := s.SaveRequest(ctx, rec); err != nil {
		t.Fatalf("SaveRequest(update) error = %v", err)
	}

	got, err := s.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if got.Status != storage.StatusFailed || got.State != "FAILED" {
		t.Errorf("status = %q state = %q", got.Status, got.State)
	}
	if got.Text != "宝子们好。" || got.Chunks != 1 || got.CompletionTokens != 4 {
		t.Errorf("record = %+v", got)
	}
	if len(got.Degraded) != 1 || got.Degraded[0] != "tts" {
		t.Errorf("degraded = %v", got.Degraded)
	}
	if got.Duration != 1500*time.Millisecond || got.Error != "dg: stage_timeout" {
		t.Errorf("duration = %v error = %q", got.Duration, got.Error)
	}
}

func testListRequests(t *testing.T, s storage.Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, user := range []string{"u1", "u2", "u1", "u1"} {
		rec := &storage.RequestRecord{
			RequestID: "req-" + string(rune('a'+i)),
			UserID:    user,
			Status:    storage.StatusDone,
			State:     "DONE",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveRequest(ctx, rec); err != nil {
			t.Fatalf("SaveRequest() error = %v", err)
		}
	}

	recs, err := s.ListRequests(ctx, storage.ListOptions{UserID: "u1", Limit: 2})
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("ListRequests() count = %d, want 2", len(recs))
	}
	if recs[0].RequestID != "req-d" || recs[1].RequestID != "req-c" {
		t.Errorf("order = %s, %s; want newest first", recs[0].RequestID, recs[1].RequestID)
	}

	all, err := s.ListRequests(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListRequests(all) count = %d, want 4", len(all))
	}
}

func testConversations(t *testing.T, s storage.Store) {
	ctx := context.Background()

	empty, err := s.GetConversation(ctx, "conv-x")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty conversation, got %d", len(empty))
	}

	var msgs []storage.ConversationMessage
	for _, raw := range []string{
		`{"messageIndex":2,"role":"assistant","message":"第二条"}`,
		`{"messageIndex":0,"role":"user","message":"第一条"}`,
		`{"messageIndex":1,"role":"assistant","message":"中间"}`,
	} {
		m, err := storage.ParseConversationMessage(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("ParseConversationMessage() error = %v", err)
		}
		msgs = append(msgs, m)
	}

	if err := s.PutConversation(ctx, "conv-1", msgs); err != nil {
		t.Fatalf("PutConversation() error = %v", err)
	}
	got, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("messages = %d, want 3", len(got))
	}
	for i, m := range got {
		if m.Index != i {
			t.Errorf("message %d has index %d", i, m.Index)
		}
	}
	var first map[string]any
	if err := json.Unmarshal(got[0].Raw, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first["message"] != "第一条" {
		t.Errorf("body not preserved: %v", first)
	}

	if err := s.PutConversation(ctx, "conv-1", msgs[:1]); err != nil {
		t.Fatalf("PutConversation(replace) error = %v", err)
	}
	got, _ = s.GetConversation(ctx, "conv-1")
	if len(got) != 1 || got[0].Index != 2 {
		t.Errorf("replace did not overwrite: %+v", got)
	}
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()

	if _, err := s.GetUser(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetUser() error = %v, want ErrNotFound", err)
	}

	u := &storage.User{ID: 1, Username: "streamer", Email: "streamer@example.com", IPAddress: "127.0.0.1"}
	created, err := s.EnsureUser(ctx, u)
	if err != nil || !created {
		t.Fatalf("EnsureUser() = %v, %v; want true, nil", created, err)
	}
	created, err = s.EnsureUser(ctx, &storage.User{ID: 1, Username: "other"})
	if err != nil || created {
		t.Fatalf("EnsureUser(existing) = %v, %v; want false, nil", created, err)
	}

	got, err := s.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.Username != "streamer" || got.Email != "streamer@example.com" {
		t.Errorf("user = %+v", got)
	}
}
