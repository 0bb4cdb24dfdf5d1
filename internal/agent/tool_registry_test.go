package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/arcflow/agentcore/internal/tools/policy"
)

type testRegistryTool struct {
	name string
}

func (t *testRegistryTool) Name() string            { return t.name }
func (t *testRegistryTool) Description() string     { return "registry test tool" }
func (t *testRegistryTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }
func (t *testRegistryTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{}, nil
}

func TestToolRegistry_Resolve_ExactMatchWins(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&testRegistryTool{name: "shell_exec"})

	tool, ok := r.Resolve("shell_exec")
	if !ok || tool.Name() != "shell_exec" {
		t.Fatalf("expected exact match, got %v, %v", tool, ok)
	}
}

func TestToolRegistry_Resolve_HyphenNormalizationOnMiss(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&testRegistryTool{name: "shell_exec"})

	tool, ok := r.Resolve("shell-exec")
	if !ok || tool.Name() != "shell_exec" {
		t.Fatalf("expected hyphen-normalized match, got %v, %v", tool, ok)
	}
}

func TestToolRegistry_Resolve_BothFormsEquivalent(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&testRegistryTool{name: "a_b_c"})

	hyphen, hyphenOK := r.Resolve("a-b-c")
	underscore, underscoreOK := r.Resolve("a_b_c")
	if !hyphenOK || !underscoreOK || hyphen.Name() != underscore.Name() {
		t.Fatalf("resolve(a-b-c) and resolve(a_b_c) must agree: %v/%v, %v/%v", hyphen, hyphenOK, underscore, underscoreOK)
	}
}

func TestToolRegistry_Resolve_MissWhenNeitherFormRegistered(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&testRegistryTool{name: "other_tool"})

	if _, ok := r.Resolve("missing-tool"); ok {
		t.Fatalf("expected miss for unregistered tool")
	}
}

func TestToolRegistry_PolicyFiltersAndDenies(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&testRegistryTool{name: "shell"})
	registry.Register(&testRegistryTool{name: "read_file"})

	resolver := policy.NewResolver()
	registry.SetPolicy(resolver, &policy.Policy{
		Profile: policy.ProfileFull,
		Deny:    []string{"shell"},
	})

	var advertised []string
	for _, tool := range registry.AsLLMTools() {
		advertised = append(advertised, tool.Name())
	}
	if len(advertised) != 1 || advertised[0] != "read_file" {
		t.Fatalf("expected only read_file advertised, got %v", advertised)
	}

	result, err := registry.Execute(context.Background(), "shell", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "denied by policy") {
		t.Fatalf("expected policy denial, got %+v", result)
	}

	result, err = registry.Execute(context.Background(), "read_file", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.IsError {
		t.Fatalf("read_file should pass policy, got %+v", result)
	}
}
