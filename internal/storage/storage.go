// Package storage defines the persistence interfaces for the request
// journal, the frontend conversation history and user profiles.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: not found")

// RequestStatus is the lifecycle status of a journaled request.
type RequestStatus string

const (
	StatusRunning RequestStatus = "running"
	StatusDone    RequestStatus = "done"
	StatusFailed  RequestStatus = "failed"
)

// RequestRecord is the journal entry for one chat request. It is rewritten
// on every pipeline state change.
type RequestRecord struct {
	RequestID        string        `json:"request_id"`
	UserID           string        `json:"user_id"`
	Status           RequestStatus `json:"status"`
	State            string        `json:"state"`
	PromptStage      string        `json:"prompt_stage,omitempty"`
	Text             string        `json:"text"`
	Chunks           int           `json:"chunks"`
	CompletionTokens int           `json:"completion_tokens"`
	MergedAudio      string        `json:"merged_audio,omitempty"`
	Video            string        `json:"video,omitempty"`
	Degraded         []string      `json:"degraded,omitempty"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ListOptions for paginated queries.
type ListOptions struct {
	UserID string
	Limit  int
	Offset int
}

// ConversationMessage is one frontend chat bubble. Its body is kept verbatim;
// only messageIndex is interpreted, for ordering.
type ConversationMessage struct {
	Index int
	Raw   json.RawMessage
}

// ParseConversationMessage reads messageIndex out of a raw message object.
func ParseConversationMessage(raw json.RawMessage) (ConversationMessage, error) {
	var head struct {
		Index *int `json:"messageIndex"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ConversationMessage{}, fmt.Errorf("invalid conversation message: %w", err)
	}
	if head.Index == nil {
		return ConversationMessage{}, errors.New("conversation message has no messageIndex")
	}
	return ConversationMessage{Index: *head.Index, Raw: append(json.RawMessage(nil), raw...)}, nil
}

// MarshalJSON emits the original message body.
func (m ConversationMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw, nil
}

// SortByIndex orders messages by messageIndex, keeping insertion order on ties.
func SortByIndex(msgs []ConversationMessage) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Index < msgs[j].Index })
}

// User is a streamer account profile. Credentials are not stored here.
type User struct {
	ID        int64     `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestJournal records pipeline outcomes.
type RequestJournal interface {
	// SaveRequest inserts or replaces a record.
	SaveRequest(ctx context.Context, rec *RequestRecord) error
	// GetRequest returns ErrNotFound for unknown ids.
	GetRequest(ctx context.Context, requestID string) (*RequestRecord, error)
	// ListRequests returns records newest first.
	ListRequests(ctx context.Context, opts ListOptions) ([]*RequestRecord, error)
}

// ConversationStore keeps the frontend message history per conversation.
type ConversationStore interface {
	// GetConversation returns messages sorted by messageIndex, or an empty
	// list for an unknown id.
	GetConversation(ctx context.Context, id string) ([]ConversationMessage, error)
	// PutConversation replaces the whole message list.
	PutConversation(ctx context.Context, id string, msgs []ConversationMessage) error
}

// UserStore reads user profiles.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	// EnsureUser creates u when no user with u.ID exists. It reports whether
	// a user was created.
	EnsureUser(ctx context.Context, u *User) (bool, error)
}

// Store is everything the service persists.
type Store interface {
	RequestJournal
	ConversationStore
	UserStore
	Close() error
}
