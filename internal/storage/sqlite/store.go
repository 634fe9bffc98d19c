package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/streamer-sales/sales-gateway/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			request_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			prompt_stage TEXT,
			text TEXT NOT NULL,
			chunks INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			merged_audio TEXT,
			video TEXT,
			degraded TEXT,
			error_message TEXT,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			conversation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			message_index INTEGER NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (conversation_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT,
			avatar TEXT,
			ip_address TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_user ON requests(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_index ON conversation_messages(conversation_id, message_index)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveRequest(ctx context.Context, rec *storage.RequestRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	degraded, err := json.Marshal(rec.Degraded)
	if err != nil {
		return fmt.Errorf("failed to marshal degraded stages: %w", err)
	}

	query := `INSERT INTO requests (request_id, user_id, status, state, prompt_stage, text, chunks,
	              completion_tokens, merged_audio, video, degraded, error_message, duration_ns, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(request_id) DO UPDATE SET
	              user_id=excluded.user_id, status=excluded.status, state=excluded.state,
	              prompt_stage=excluded.prompt_stage, text=excluded.text, chunks=excluded.chunks,
	              completion_tokens=excluded.completion_tokens, merged_audio=excluded.merged_audio,
	              video=excluded.video, degraded=excluded.degraded, error_message=excluded.error_message,
	              duration_ns=excluded.duration_ns, updated_at=excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		rec.RequestID, rec.UserID, string(rec.Status), rec.State, rec.PromptStage, rec.Text, rec.Chunks,
		rec.CompletionTokens, rec.MergedAudio, rec.Video, string(degraded), rec.Error,
		int64(rec.Duration), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

const requestColumns = `request_id, user_id, status, state, prompt_stage, text, chunks, completion_tokens,
	merged_audio, video, degraded, error_message, duration_ns, created_at, updated_at`

// requestRow mirrors the requests table.
type requestRow struct {
	RequestID        string         `db:"request_id"`
	UserID           string         `db:"user_id"`
	Status           string         `db:"status"`
	State            string         `db:"state"`
	PromptStage      sql.NullString `db:"prompt_stage"`
	Text             string         `db:"text"`
	Chunks           int            `db:"chunks"`
	CompletionTokens int            `db:"completion_tokens"`
	MergedAudio      sql.NullString `db:"merged_audio"`
	Video            sql.NullString `db:"video"`
	Degraded         sql.NullString `db:"degraded"`
	Error            sql.NullString `db:"error_message"`
	Duration         int64          `db:"duration_ns"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (row *requestRow) record() (*storage.RequestRecord, error) {
	rec := &storage.RequestRecord{
		RequestID:        row.RequestID,
		UserID:           row.UserID,
		Status:           storage.RequestStatus(row.Status),
		State:            row.State,
		PromptStage:      row.PromptStage.String,
		Text:             row.Text,
		Chunks:           row.Chunks,
		CompletionTokens: row.CompletionTokens,
		MergedAudio:      row.MergedAudio.String,
		Video:            row.Video.String,
		Error:            row.Error.String,
		Duration:         time.Duration(row.Duration),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.Degraded.Valid && row.Degraded.String != "" && row.Degraded.String != "null" {
		if err := json.Unmarshal([]byte(row.Degraded.String), &rec.Degraded); err != nil {
			return nil, fmt.Errorf("failed to unmarshal degraded stages: %w", err)
		}
	}
	return rec, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (*storage.RequestRecord, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE request_id = ?`

	var row requestRow
	err := s.db.GetContext(ctx, &row, query, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", requestID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return row.record()
}

func (s *Store) ListRequests(ctx context.Context, opts storage.ListOptions) ([]*storage.RequestRecord, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100 // default limit
	}

	query := `SELECT ` + requestColumns + ` FROM requests
	          WHERE (? = '' OR user_id = ?)
	          ORDER BY created_at DESC
	          LIMIT ? OFFSET ?`

	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, query, opts.UserID, opts.UserID, limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}

	records := make([]*storage.RequestRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) ([]storage.ConversationMessage, error) {
	query := `SELECT message_index, body FROM conversation_messages
	          WHERE conversation_id = ?
	          ORDER BY message_index ASC, position ASC`

	var rows []struct {
		Index int    `db:"message_index"`
		Body  string `db:"body"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	msgs := make([]storage.ConversationMessage, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, storage.ConversationMessage{Index: row.Index, Raw: []byte(row.Body)})
	}
	return msgs, nil
}

func (s *Store) PutConversation(ctx context.Context, id string, msgs []storage.ConversationMessage) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}

	query := `INSERT INTO conversation_messages (conversation_id, position, message_index, body)
	          VALUES (?, ?, ?, ?)`
	for pos, msg := range msgs {
		if _, err := tx.ExecContext(ctx, query, id, pos, msg.Index, string(msg.Raw)); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	query := `SELECT user_id, username, email, avatar, ip_address, created_at FROM users WHERE user_id = ?`

	var row struct {
		ID        int64          `db:"user_id"`
		Username  string         `db:"username"`
		Email     sql.NullString `db:"email"`
		Avatar    sql.NullString `db:"avatar"`
		IPAddress sql.NullString `db:"ip_address"`
		CreatedAt time.Time      `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &storage.User{
		ID:        row.ID,
		Username:  row.Username,
		Email:     row.Email.String,
		Avatar:    row.Avatar.String,
		IPAddress: row.IPAddress.String,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *Store) EnsureUser(ctx context.Context, u *storage.User) (bool, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	query := `INSERT INTO users (user_id, username, email, avatar, ip_address, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)
	          ON CONFLICT(user_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.Email, u.Avatar, u.IPAddress, u.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
