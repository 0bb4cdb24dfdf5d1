package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/pkg/models"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_DefaultsModel(t *testing.T) {
	p, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.defaultModel != DefaultModel {
		t.Errorf("defaultModel = %q, want %q", p.defaultModel, DefaultModel)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.SupportsTools() {
		t.Error("SupportsTools() = false, want true")
	}
	if len(p.Models()) == 0 {
		t.Error("Models() returned none")
	}
}

func TestToMessages(t *testing.T) {
	msgs := []agent.CompletionMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	out := toMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestToMessages_ToolRoundtrip(t *testing.T) {
	msgs := []agent.CompletionMessage{
		{
			Role: "assistant",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "calc", Input: json.RawMessage(`{"a":1}`)},
			},
		},
		{
			Role: "tool",
			ToolResults: []models.ToolResult{
				{ToolCallID: "call_1", Content: "2"},
			},
		},
	}
	out := toMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

type fakeTool struct{}

func (fakeTool) Name() string        { return "calc" }
func (fakeTool) Description() string { return "adds numbers" }
func (fakeTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"}}}`)
}
func (fakeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "2"}, nil
}

func TestToTools(t *testing.T) {
	out := toTools([]agent.Tool{fakeTool{}})
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
}
