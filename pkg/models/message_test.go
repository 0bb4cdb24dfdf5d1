package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}
	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestAttachment_Struct(t *testing.T) {
	att := Attachment{
		ID:       "att-1",
		Type:     "image",
		URL:      "https://cdn.example.com/a.png",
		Filename: "a.png",
		MimeType: "image/png",
		Size:     2048,
	}
	data, err := json.Marshal(att)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Attachment
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != att {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, att)
	}
}

func TestToolCall_Struct(t *testing.T) {
	tc := ToolCall{
		ID:    "call-1",
		Name:  "shell",
		Input: json.RawMessage(`{"command":"ls"}`),
	}
	data, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ToolCall
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != tc.ID || decoded.Name != tc.Name {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	var input map[string]string
	if err := json.Unmarshal(decoded.Input, &input); err != nil {
		t.Fatalf("input not preserved: %v", err)
	}
	if input["command"] != "ls" {
		t.Fatalf("unexpected input %v", input)
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{
		ToolCallID: "call-1",
		Content:    "a.txt",
	}
	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// is_error is omitted when false.
	if string(data) != `{"tool_call_id":"call-1","content":"a.txt"}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	tr.IsError = true
	data, _ = json.Marshal(tr)
	var decoded ToolResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.IsError {
		t.Fatal("IsError lost in round trip")
	}
}

func TestAgent_Struct(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	agent := Agent{
		ID:           "agent-1",
		UserID:       "user-1",
		Name:         "researcher",
		SystemPrompt: "You are terse.",
		Model:        "claude-sonnet-4-5-20250929",
		Provider:     "anthropic",
		Tools:        []string{"shell", "browser"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	data, err := json.Marshal(agent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Agent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.SystemPrompt != agent.SystemPrompt || len(decoded.Tools) != 2 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
