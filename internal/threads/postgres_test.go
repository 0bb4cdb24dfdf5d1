package threads

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/arcflow/agentcore/internal/agent"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}

	mock.ExpectPrepare("SELECT id, thread_id, kind, content, is_llm_visible, created_at")
	mock.ExpectPrepare("INSERT INTO thread_messages")
	mock.ExpectPrepare("DELETE FROM thread_messages")
	mock.ExpectPrepare("SELECT id, thread_id, kind, content, is_llm_visible, created_at")

	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore error: %v", err)
	}
	return store, mock
}

func TestPostgresStore_AddMessage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO thread_messages").
		WithArgs(sqlmock.AnyArg(), "thread-1", "user", []byte(`"hello"`), true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.AddMessage(context.Background(), "thread-1", agent.MessageKindUser, json.RawMessage(`"hello"`), true)
	if err != nil {
		t.Fatalf("AddMessage error: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty message id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_GetLatestMessageNoRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, thread_id, kind, content, is_llm_visible, created_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "thread_id", "kind", "content", "is_llm_visible", "created_at"}))

	msg, err := store.GetLatestMessage(context.Background(), "thread-1", []agent.MessageKind{agent.MessageKindUser})
	if err != nil {
		t.Fatalf("GetLatestMessage error: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message, got %+v", msg)
	}
}

func TestPostgresStore_GetLatestMessage(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "thread_id", "kind", "content", "is_llm_visible", "created_at"}).
		AddRow("msg-1", "thread-1", "assistant", []byte(`"done"`), true, now)
	mock.ExpectQuery("SELECT id, thread_id, kind, content, is_llm_visible, created_at").
		WillReturnRows(rows)

	msg, err := store.GetLatestMessage(context.Background(), "thread-1", []agent.MessageKind{agent.MessageKindAssistant})
	if err != nil {
		t.Fatalf("GetLatestMessage error: %v", err)
	}
	if msg == nil || msg.Kind != agent.MessageKindAssistant || msg.ID != "msg-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestPostgresStore_GetProjectNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, account_id, sandbox FROM projects").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "sandbox"}))

	_, err := store.GetProject(context.Background(), "missing")
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestPostgresStore_GetProjectWithSandbox(t *testing.T) {
	store, mock := newMockStore(t)

	descriptor := []byte(`{"type":"local","id":"sbx-1","state":"running","bootstrapped":true}`)
	mock.ExpectQuery("SELECT id, account_id, sandbox FROM projects").
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "sandbox"}).
			AddRow("proj-1", "acct-1", descriptor))

	project, err := store.GetProject(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("GetProject error: %v", err)
	}
	if project.Sandbox == nil || project.Sandbox.ID != "sbx-1" || project.Sandbox.Type != agent.SandboxTypeLocal {
		t.Fatalf("unexpected sandbox descriptor: %+v", project.Sandbox)
	}
	if !project.Sandbox.Bootstrapped {
		t.Fatal("expected bootstrapped descriptor")
	}
}

func TestPostgresStore_SetSandboxMissingProject(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE projects SET sandbox").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetSandbox(context.Background(), "missing", nil)
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestPostgresStore_HistoryReversesToInsertionOrder(t *testing.T) {
	store, mock := newMockStore(t)

	base := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "thread_id", "kind", "content", "is_llm_visible", "created_at"}).
		AddRow("msg-3", "thread-1", "assistant", []byte(`"c"`), true, base.Add(2*time.Second)).
		AddRow("msg-2", "thread-1", "tool", []byte(`"b"`), true, base.Add(time.Second)).
		AddRow("msg-1", "thread-1", "user", []byte(`"a"`), true, base)
	mock.ExpectQuery("SELECT id, thread_id, kind, content, is_llm_visible, created_at").
		WillReturnRows(rows)

	history, err := store.History(context.Background(), "thread-1", 3)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].ID != "msg-1" || history[2].ID != "msg-3" {
		t.Fatalf("expected insertion order, got %s..%s", history[0].ID, history[2].ID)
	}
}
