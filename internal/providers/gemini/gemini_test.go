package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/pkg/models"
)

func TestNewGeminiProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), GeminiConfig{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestConvertMessages_RolesAndParts(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "run ls"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "shell", Input: json.RawMessage(`{"command":"ls"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "call-1", Content: `{"stdout":"a.txt"}`},
		}},
	}

	contents := convertMessages(messages)
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents (system skipped), got %d", len(contents))
	}

	if contents[0].Role != "user" || contents[0].Parts[0].Text != "run ls" {
		t.Fatalf("unexpected user content: %+v", contents[0])
	}

	fc := contents[1].Parts[0].FunctionCall
	if fc == nil || fc.Name != "shell" || fc.Args["command"] != "ls" {
		t.Fatalf("unexpected function call: %+v", fc)
	}

	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "shell" {
		t.Fatalf("expected function response resolved to tool name, got %+v", fr)
	}
	if fr.Response["stdout"] != "a.txt" {
		t.Fatalf("unexpected response payload: %+v", fr.Response)
	}
}

func TestConvertMessages_NonJSONToolResultWrapped(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "shell", Input: json.RawMessage(`{}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "call-1", Content: "plain text output", IsError: true},
		}},
	}

	contents := convertMessages(messages)
	fr := contents[1].Parts[0].FunctionResponse
	if fr.Response["result"] != "plain text output" {
		t.Fatalf("expected wrapped plain text, got %+v", fr.Response)
	}
	if fr.Response["error"] != true {
		t.Fatalf("expected error flag carried, got %+v", fr.Response)
	}
}

type schemaOnlyTool struct {
	name   string
	schema string
}

func (t schemaOnlyTool) Name() string            { return t.name }
func (t schemaOnlyTool) Description() string     { return "test tool" }
func (t schemaOnlyTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }
func (t schemaOnlyTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{}, nil
}

func TestConvertTools_SchemaMapping(t *testing.T) {
	tools := []agent.Tool{schemaOnlyTool{
		name: "create_file",
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "target path"},
				"mode": {"type": "string", "enum": ["append", "overwrite"]}
			},
			"required": ["path"]
		}`,
	}}

	converted := convertTools(tools)
	if len(converted) != 1 || len(converted[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected conversion result: %+v", converted)
	}
	decl := converted[0].FunctionDeclarations[0]
	if decl.Name != "create_file" {
		t.Fatalf("unexpected name %q", decl.Name)
	}
	if decl.Parameters.Type != "OBJECT" {
		t.Fatalf("unexpected type %q", decl.Parameters.Type)
	}
	if decl.Parameters.Properties["path"].Description != "target path" {
		t.Fatalf("property description lost: %+v", decl.Parameters.Properties["path"])
	}
	if len(decl.Parameters.Properties["mode"].Enum) != 2 {
		t.Fatalf("enum lost: %+v", decl.Parameters.Properties["mode"])
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "path" {
		t.Fatalf("required lost: %+v", decl.Parameters.Required)
	}
}

func TestConvertTools_SkipsInvalidSchema(t *testing.T) {
	tools := []agent.Tool{schemaOnlyTool{name: "broken", schema: `{not json`}}
	if converted := convertTools(tools); converted != nil {
		t.Fatalf("expected nil for all-invalid schemas, got %+v", converted)
	}
}

func TestConvertAttachment_DataURL(t *testing.T) {
	part, err := convertAttachment(models.Attachment{
		Type: "image",
		URL:  "data:image/png;base64,aGVsbG8=",
	})
	if err != nil {
		t.Fatalf("convertAttachment error: %v", err)
	}
	if part.InlineData == nil || part.InlineData.MIMEType != "image/png" {
		t.Fatalf("unexpected part: %+v", part)
	}
	if string(part.InlineData.Data) != "hello" {
		t.Fatalf("unexpected data %q", part.InlineData.Data)
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(errors.New("googleapi: Error 429: rate limit exceeded")) {
		t.Fatal("429 should be retryable")
	}
	if isRetryable(errors.New("googleapi: Error 400: invalid argument")) {
		t.Fatal("400 should not be retryable")
	}
	if isRetryable(nil) {
		t.Fatal("nil should not be retryable")
	}
}
