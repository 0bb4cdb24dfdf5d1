package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	runtimetypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/pkg/models"
)

func TestConvertRuntimeMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "system", Content: "ignored here"},
		{Role: "user", Content: "run ls"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "use-1", Name: "shell", Input: json.RawMessage(`{"command":"ls"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "use-1", Content: "a.txt"},
		}},
	}

	converted := convertRuntimeMessages(messages)
	if len(converted) != 3 {
		t.Fatalf("expected 3 messages (system dropped), got %d", len(converted))
	}
	if converted[0].Role != runtimetypes.ConversationRoleUser {
		t.Fatalf("expected user role, got %v", converted[0].Role)
	}
	if converted[1].Role != runtimetypes.ConversationRoleAssistant {
		t.Fatalf("expected assistant role, got %v", converted[1].Role)
	}

	toolUse, ok := converted[1].Content[0].(*runtimetypes.ContentBlockMemberToolUse)
	if !ok {
		t.Fatalf("expected tool use block, got %T", converted[1].Content[0])
	}
	if aws.ToString(toolUse.Value.ToolUseId) != "use-1" || aws.ToString(toolUse.Value.Name) != "shell" {
		t.Fatalf("unexpected tool use %+v", toolUse.Value)
	}

	toolResult, ok := converted[2].Content[0].(*runtimetypes.ContentBlockMemberToolResult)
	if !ok {
		t.Fatalf("expected tool result block, got %T", converted[2].Content[0])
	}
	if aws.ToString(toolResult.Value.ToolUseId) != "use-1" {
		t.Fatalf("unexpected tool result %+v", toolResult.Value)
	}
}

func TestConvertRuntimeTools(t *testing.T) {
	cfg := convertRuntimeTools([]agent.Tool{schemaTool{}})
	if len(cfg.Tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(cfg.Tools))
	}
	spec, ok := cfg.Tools[0].(*runtimetypes.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("unexpected tool type %T", cfg.Tools[0])
	}
	if aws.ToString(spec.Value.Name) != "probe" {
		t.Fatalf("unexpected tool name %q", aws.ToString(spec.Value.Name))
	}
}

func TestImageBlockFromDataURL(t *testing.T) {
	block, ok := imageBlockFromDataURL("data:image/png;base64,aGVsbG8=")
	if !ok {
		t.Fatal("expected data URL to convert")
	}
	if block.Value.Format != runtimetypes.ImageFormatPng {
		t.Fatalf("expected png format, got %v", block.Value.Format)
	}

	if _, ok := imageBlockFromDataURL("https://example.com/x.png"); ok {
		t.Fatal("remote URLs must not convert")
	}
}

type schemaTool struct{}

func (schemaTool) Name() string            { return "probe" }
func (schemaTool) Description() string     { return "probe tool" }
func (schemaTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (schemaTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{}, nil
}
