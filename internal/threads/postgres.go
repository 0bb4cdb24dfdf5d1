package threads

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/arcflow/agentcore/internal/agent"
)

// PostgresStore implements agent.ThreadStore on Postgres (or CockroachDB,
// which speaks the same wire protocol).
type PostgresStore struct {
	db *sql.DB

	mu    sync.Mutex
	clock clock

	stmtLatest  *sql.Stmt
	stmtAdd     *sql.Stmt
	stmtDelete  *sql.Stmt
	stmtHistory *sql.Stmt
}

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStoreFromDSN opens a Postgres-backed thread store using a raw
// DSN/URL. The thread_messages and projects tables are created by the
// sessions migrator (006_threads); this store assumes they exist.
func NewPostgresStoreFromDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	store := &PostgresStore{db: db, clock: monotonicClock()}
	if err := store.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

// DB exposes the underlying connection for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtLatest, err = s.db.Prepare(`
		SELECT id, thread_id, kind, content, is_llm_visible, created_at
		FROM thread_messages
		WHERE thread_id = $1 AND kind = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare latest message: %w", err)
	}

	s.stmtAdd, err = s.db.Prepare(`
		INSERT INTO thread_messages (id, thread_id, kind, content, is_llm_visible, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare add message: %w", err)
	}

	s.stmtDelete, err = s.db.Prepare(`
		DELETE FROM thread_messages WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete message: %w", err)
	}

	s.stmtHistory, err = s.db.Prepare(`
		SELECT id, thread_id, kind, content, is_llm_visible, created_at
		FROM thread_messages
		WHERE thread_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history: %w", err)
	}

	return nil
}

// Close closes prepared statements and the connection.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtLatest, s.stmtAdd, s.stmtDelete, s.stmtHistory} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close postgres store: %v", errs)
	}
	return nil
}

// GetLatestMessage returns the most recent message of any of the given
// kinds, or nil when the thread has none.
func (s *PostgresStore) GetLatestMessage(ctx context.Context, threadID string, kinds []agent.MessageKind) (*agent.ThreadMessage, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	row := s.stmtLatest.QueryRowContext(ctx, threadID, pq.Array(names))
	msg, err := scanThreadMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest message: %w", err)
	}
	return msg, nil
}

// AddMessage appends a message and returns its assigned id. Timestamps
// are generated client side and strictly increase per store instance.
func (s *PostgresStore) AddMessage(ctx context.Context, threadID string, kind agent.MessageKind, content json.RawMessage, isLLMVisible bool) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	createdAt := s.clock()
	s.mu.Unlock()

	if len(content) == 0 {
		content = json.RawMessage("null")
	}
	if _, err := s.stmtAdd.ExecContext(ctx, id, threadID, string(kind), []byte(content), isLLMVisible, createdAt); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	return id, nil
}

// DeleteMessage removes a message by id. Deleting an absent id succeeds.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	if _, err := s.stmtDelete.ExecContext(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// History returns the most recent limit messages in insertion order.
func (s *PostgresStore) History(ctx context.Context, threadID string, limit int) ([]*agent.ThreadMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.stmtHistory.QueryContext(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var newestFirst []*agent.ThreadMessage
	for rows.Next() {
		msg, err := scanThreadMessage(rows)
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
func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*agent.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, sandbox FROM projects WHERE id = $1
	`, projectID)

	var project agent.Project
	var sandboxJSON []byte
	if err := row.Scan(&project.ID, &project.AccountID, &sandboxJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	if len(sandboxJSON) > 0 {
		var descriptor agent.SandboxDescriptor
		if err := json.Unmarshal(sandboxJSON, &descriptor); err != nil {
			return nil, fmt.Errorf("decode sandbox descriptor: %w", err)
		}
		project.Sandbox = &descriptor
	}
	return &project, nil
}

// CreateProject inserts a project row. Not part of agent.ThreadStore;
// used by the gateway and CLI when provisioning.
func (s *PostgresStore) CreateProject(ctx context.Context, projectID, accountID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, projectID, accountID, now, now)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// SetSandbox stores (or clears, with nil) the project's sandbox
// descriptor. The single-column write is what enforces the at-most-one
// descriptor per project invariant.
func (s *PostgresStore) SetSandbox(ctx context.Context, projectID string, descriptor *agent.SandboxDescriptor) error {
	var payload any
	if descriptor != nil {
		data, err := json.Marshal(descriptor)
		if err != nil {
			return fmt.Errorf("encode sandbox descriptor: %w", err)
		}
		payload = data
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET sandbox = $1, updated_at = $2 WHERE id = $3
	`, payload, time.Now().UTC(), projectID)
	if err != nil {
		return fmt.Errorf("set sandbox: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreadMessage(row rowScanner) (*agent.ThreadMessage, error) {
	var msg agent.ThreadMessage
	var kind string
	var content []byte
	if err := row.Scan(&msg.ID, &msg.ThreadID, &kind, &content, &msg.IsLLMVisible, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Kind = agent.MessageKind(kind)
	msg.Content = json.RawMessage(content)
	return &msg, nil
}

var _ agent.ThreadStore = (*PostgresStore)(nil)
