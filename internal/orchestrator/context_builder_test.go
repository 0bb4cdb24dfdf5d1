package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/pkg/models"
)

func TestContextBuilder_ToolCatalogExcludesMCPPassthrough(t *testing.T) {
	registry := agent.NewToolRegistry()
	registry.Register(&echoTool{name: "shell_exec"})
	registry.Register(&echoTool{name: "mcp_bridge_tool", passthrough: true})

	store := newFakeStore()
	cb := NewContextBuilder(store, registry, ContextBuilderConfig{})

	built, err := cb.Build(context.Background(), "thread-1", "", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !contains(built.System, "shell_exec") {
		t.Errorf("expected system prompt to describe shell_exec")
	}
	if contains(built.System, "mcp_bridge_tool") {
		t.Errorf("expected system prompt to exclude MCP passthrough tool")
	}
}

func TestContextBuilder_AgentConfigReplacesDefaultPrompt(t *testing.T) {
	store := newFakeStore()
	cb := NewContextBuilder(store, nil, ContextBuilderConfig{})

	agentCfg := &models.Agent{SystemPrompt: "You are Foo."}
	built, err := cb.Build(context.Background(), "thread-1", "", agentCfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if built.System != "You are Foo." {
		t.Errorf("System = %q, want exact override", built.System)
	}
	if contains(built.System, "autonomous coding and research agent") {
		t.Errorf("default prompt text leaked through override")
	}
}

func TestContextBuilder_ImageContextConsumedOnce(t *testing.T) {
	store := newFakeStore()
	content, _ := json.Marshal(ImageContextContent{Caption: "a screenshot", ImageURL: "https://example.com/img.png"})
	id, err := store.AddMessage(context.Background(), "thread-1", agent.MessageKindImageContext, content, false)
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	cb := NewContextBuilder(store, nil, ContextBuilderConfig{})

	first, err := cb.BuildTemporaryMessage(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("BuildTemporaryMessage (first): %v", err)
	}
	if first == nil || len(first.Attachments) != 1 {
		t.Fatalf("expected first call to surface the image attachment, got %+v", first)
	}

	msg, _ := store.GetLatestMessage(context.Background(), "thread-1", []agent.MessageKind{agent.MessageKindImageContext})
	if msg != nil {
		t.Fatalf("expected image_context message %s to be deleted after one use", id)
	}

	second, err := cb.BuildTemporaryMessage(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("BuildTemporaryMessage (second): %v", err)
	}
	if second != nil {
		t.Fatalf("expected no temporary message on second call, got %+v", second)
	}
}

func TestContextBuilder_HistoryExcludesNonLLMVisible(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	visible, _ := json.Marshal("hello")
	hidden, _ := json.Marshal("secret")
	store.AddMessage(ctx, "thread-1", agent.MessageKindUser, visible, true)
	store.AddMessage(ctx, "thread-1", agent.MessageKindStatus, hidden, false)

	cb := NewContextBuilder(store, nil, ContextBuilderConfig{})
	built, err := cb.Build(ctx, "thread-1", "", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built.Messages) != 1 {
		t.Fatalf("expected 1 visible message, got %d", len(built.Messages))
	}
	if built.Messages[0].Content != "hello" {
		t.Errorf("Messages[0].Content = %q", built.Messages[0].Content)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestTrimToWindow_DropsOldestBeyondBudget(t *testing.T) {
	big := strings.Repeat("x", 1000)
	var history []agent.CompletionMessage
	for i := 0; i < 2000; i++ {
		history = append(history, agent.CompletionMessage{Role: "user", Content: big})
	}

	trimmed := trimToWindow(history, "gpt-4", "system prompt")
	if len(trimmed) == 0 {
		t.Fatal("expected some history to survive")
	}
	if len(trimmed) >= len(history) {
		t.Fatalf("expected trimming for a small window, kept %d of %d", len(trimmed), len(history))
	}
	// The newest message always survives trimming.
	if trimmed[len(trimmed)-1].Content != history[len(history)-1].Content {
		t.Fatal("trim must keep the newest messages")
	}
}

func TestTrimToWindow_KeepsEverythingUnderBudget(t *testing.T) {
	history := []agent.CompletionMessage{
		{Role: "user", Content: "short question"},
		{Role: "assistant", Content: "short answer"},
	}
	trimmed := trimToWindow(history, "", "system")
	if len(trimmed) != 2 {
		t.Fatalf("expected no trimming, got %d of 2", len(trimmed))
	}
}
