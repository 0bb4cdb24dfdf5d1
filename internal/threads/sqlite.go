package threads

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/arcflow/agentcore/internal/agent"
)

// SQLiteStore implements agent.ThreadStore on a local SQLite database,
// for development and single-node deployments that don't want to run
// Postgres.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	clock clock
}

// NewSQLiteStore opens (and if needed creates) a SQLite-backed thread
// store at path. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time; a larger pool just produces
	// SQLITE_BUSY under concurrency.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, clock: monotonicClock()}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS thread_messages (
			id             TEXT PRIMARY KEY,
			thread_id      TEXT NOT NULL,
			kind           TEXT NOT NULL,
			content        TEXT NOT NULL DEFAULT 'null',
			is_llm_visible INTEGER NOT NULL DEFAULT 1,
			created_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_thread_messages_thread
			ON thread_messages (thread_id, created_at);
		CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			sandbox    TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetLatestMessage returns the most recent message of any of the given
// kinds, or nil when the thread has none.
func (s *SQLiteStore) GetLatestMessage(ctx context.Context, threadID string, kinds []agent.MessageKind) (*agent.ThreadMessage, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(kinds))
	args := make([]any, 0, len(kinds)+1)
	args = append(args, threadID)
	for i, k := range kinds {
		placeholders[i] = "?"
		args = append(args, string(k))
	}
	query := fmt.Sprintf(`
		SELECT id, thread_id, kind, content, is_llm_visible, created_at
		FROM thread_messages
		WHERE thread_id = ? AND kind IN (%s)
		ORDER BY created_at DESC
		LIMIT 1
	`, strings.Join(placeholders, ","))

	row := s.db.QueryRowContext(ctx, query, args...)
	msg, err := scanSQLiteMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest message: %w", err)
	}
	return msg, nil
}

// AddMessage appends a message and returns its assigned id.
func (s *SQLiteStore) AddMessage(ctx context.Context, threadID string, kind agent.MessageKind, content json.RawMessage, isLLMVisible bool) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	createdAt := s.clock()
	s.mu.Unlock()

	if len(content) == 0 {
		content = json.RawMessage("null")
	}
	visible := 0
	if isLLMVisible {
		visible = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_messages (id, thread_id, kind, content, is_llm_visible, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, threadID, string(kind), string(content), visible, createdAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	return id, nil
}

// DeleteMessage removes a message by id. Deleting an absent id succeeds.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM thread_messages WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// History returns the most recent limit messages in insertion order.
func (s *SQLiteStore) History(ctx context.Context, threadID string, limit int) ([]*agent.ThreadMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, kind, content, is_llm_visible, created_at
		FROM thread_messages
		WHERE thread_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var newestFirst []*agent.ThreadMessage
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	out := make([]*agent.ThreadMessage, len(newestFirst))
	for i, msg := range newestFirst {
		out[len(newestFirst)-1-i] = msg
	}
	return out, nil
}

// GetProject loads a project with its sandbox descriptor.
func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*agent.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, sandbox FROM projects WHERE id = ?
	`, projectID)

	var project agent.Project
	var sandboxJSON sql.NullString
	if err := row.Scan(&project.ID, &project.AccountID, &sandboxJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	if sandboxJSON.Valid && sandboxJSON.String != "" {
		var descriptor agent.SandboxDescriptor
		if err := json.Unmarshal([]byte(sandboxJSON.String), &descriptor); err != nil {
			return nil, fmt.Errorf("decode sandbox descriptor: %w", err)
		}
		project.Sandbox = &descriptor
	}
	return &project, nil
}

// CreateProject inserts a project row if absent.
func (s *SQLiteStore) CreateProject(ctx context.Context, projectID, accountID string) error {
	now := time.Now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, projectID, accountID, now, now)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// SetSandbox stores (or clears, with nil) the project's sandbox descriptor.
func (s *SQLiteStore) SetSandbox(ctx context.Context, projectID string, descriptor *agent.SandboxDescriptor) error {
	var payload any
	if descriptor != nil {
		data, err := json.Marshal(descriptor)
		if err != nil {
			return fmt.Errorf("encode sandbox descriptor: %w", err)
		}
		payload = string(data)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET sandbox = ?, updated_at = ? WHERE id = ?
	`, payload, time.Now().UTC().UnixNano(), projectID)
	if err != nil {
		return fmt.Errorf("set sandbox: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return nil
}

func scanSQLiteMessage(row rowScanner) (*agent.ThreadMessage, error) {
	var msg agent.ThreadMessage
	var kind, content string
	var visible int
	var createdAt int64
	if err := row.Scan(&msg.ID, &msg.ThreadID, &kind, &content, &visible, &createdAt); err != nil {
		return nil, err
	}
	msg.Kind = agent.MessageKind(kind)
	msg.Content = json.RawMessage(content)
	msg.IsLLMVisible = visible != 0
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	return &msg, nil
}

var _ agent.ThreadStore = (*SQLiteStore)(nil)
