package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/streamer-sales/sales-gateway/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu            sync.RWMutex
	requests      map[string]*storage.RequestRecord
	conversations map[string][]storage.ConversationMessage
	users         map[int64]*storage.User
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		requests:      make(map[string]*storage.RequestRecord),
		conversations: make(map[string][]storage.ConversationMessage),
		users:         make(map[int64]*storage.User),
	}
}

func (s *Store) SaveRequest(ctx context.Context, rec *storage.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	cp := *rec
	cp.Degraded = append([]string(nil), rec.Degraded...)
	s.requests[rec.RequestID] = &cp
	return nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (*storage.RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.requests[requestID]
	if !exists {
		return nil, fmt.Errorf("request %s: %w", requestID, storage.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) ListRequests(ctx context.Context, opts storage.ListOptions) ([]*storage.RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*storage.RequestRecord
	for _, rec := range s.requests {
		if opts.UserID != "" && rec.UserID != opts.UserID {
			continue
		}
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}
	start := opts.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *Store) GetConversation(ctx context.Context, id string) ([]storage.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := append([]storage.ConversationMessage{}, s.conversations[id]...)
	storage.SortByIndex(msgs)
	return msgs, nil
}

func (s *Store) PutConversation(ctx context.Context, id string, msgs []storage.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[id] = append([]storage.ConversationMessage(nil), msgs...)
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[id]
	if !exists {
		return nil, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) EnsureUser(ctx context.Context, u *storage.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return false, nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	s.users[u.ID] = &cp
	return true, nil
}

func (s *Store) Close() error {
	return nil
}
