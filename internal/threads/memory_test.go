package threads

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/arcflow/agentcore/internal/agent"
)

func TestMemoryStore_MonotonicCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, err := store.AddMessage(ctx, "thread-1", agent.MessageKindUser, json.RawMessage(`"hi"`), true); err != nil {
			t.Fatalf("AddMessage error: %v", err)
		}
	}

	history, err := store.History(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(history) != 50 {
		t.Fatalf("expected 50 messages, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if !history[i].CreatedAt.After(history[i-1].CreatedAt) {
			t.Fatalf("created_at not strictly increasing at index %d", i)
		}
	}
}

func TestMemoryStore_GetLatestMessageFiltersKinds(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.AddMessage(ctx, "thread-1", agent.MessageKindUser, json.RawMessage(`"question"`), true); err != nil {
		t.Fatalf("AddMessage error: %v", err)
	}
	if _, err := store.AddMessage(ctx, "thread-1", agent.MessageKindAssistant, json.RawMessage(`"answer"`), true); err != nil {
		t.Fatalf("AddMessage error: %v", err)
	}
	if _, err := store.AddMessage(ctx, "thread-1", agent.MessageKindStatus, json.RawMessage(`{}`), false); err != nil {
		t.Fatalf("AddMessage error: %v", err)
	}

	latest, err := store.GetLatestMessage(ctx, "thread-1", []agent.MessageKind{agent.MessageKindUser, agent.MessageKindAssistant})
	if err != nil {
		t.Fatalf("GetLatestMessage error: %v", err)
	}
	if latest == nil || latest.Kind != agent.MessageKindAssistant {
		t.Fatalf("expected latest assistant message, got %+v", latest)
	}

	latest, err = store.GetLatestMessage(ctx, "thread-2", []agent.MessageKind{agent.MessageKindUser})
	if err != nil {
		t.Fatalf("GetLatestMessage error: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil for empty thread, got %+v", latest)
	}
}

func TestMemoryStore_DeleteMessageIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.AddMessage(ctx, "thread-1", agent.MessageKindImageContext, json.RawMessage(`{"caption":"a chart"}`), false)
	if err != nil {
		t.Fatalf("AddMessage error: %v", err)
	}
	if err := store.DeleteMessage(ctx, id); err != nil {
		t.Fatalf("DeleteMessage error: %v", err)
	}
	if err := store.DeleteMessage(ctx, id); err != nil {
		t.Fatalf("second DeleteMessage error: %v", err)
	}

	latest, err := store.GetLatestMessage(ctx, "thread-1", []agent.MessageKind{agent.MessageKindImageContext})
	if err != nil {
		t.Fatalf("GetLatestMessage error: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected image_context to be gone, got %+v", latest)
	}
}

func TestMemoryStore_AtMostOneSandboxPerProject(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateProject(ctx, "proj-1", "acct-1"); err != nil {
		t.Fatalf("CreateProject error: %v", err)
	}

	first := &agent.SandboxDescriptor{Type: agent.SandboxTypeLocal, ID: "sbx-a", State: agent.SandboxRunning}
	second := &agent.SandboxDescriptor{Type: agent.SandboxTypeManaged, ID: "sbx-b", State: agent.SandboxRunning}

	if err := store.SetSandbox(ctx, "proj-1", first); err != nil {
		t.Fatalf("SetSandbox error: %v", err)
	}
	if err := store.SetSandbox(ctx, "proj-1", second); err != nil {
		t.Fatalf("SetSandbox error: %v", err)
	}

	project, err := store.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetProject error: %v", err)
	}
	if project.Sandbox == nil || project.Sandbox.ID != "sbx-b" {
		t.Fatalf("expected only the latest sandbox descriptor, got %+v", project.Sandbox)
	}

	if err := store.SetSandbox(ctx, "proj-1", nil); err != nil {
		t.Fatalf("SetSandbox(nil) error: %v", err)
	}
	project, err = store.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetProject error: %v", err)
	}
	if project.Sandbox != nil {
		t.Fatalf("expected sandbox cleared, got %+v", project.Sandbox)
	}
}

func TestMemoryStore_GetProjectNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetProject(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing project")
	}
}

func TestMemoryStore_HistoryLimitKeepsNewest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var lastID string
	for i := 0; i < 10; i++ {
		id, err := store.AddMessage(ctx, "thread-1", agent.MessageKindUser, json.RawMessage(`"m"`), true)
		if err != nil {
			t.Fatalf("AddMessage error: %v", err)
		}
		lastID = id
	}

	history, err := store.History(ctx, "thread-1", 3)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[2].ID != lastID {
		t.Fatalf("expected newest message last, got %s", history[2].ID)
	}
}
