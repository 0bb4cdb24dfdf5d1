package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesSandboxBackend(t *testing.T) {
	path := writeConfig(t, `
tools:
  sandbox:
    backend: nope
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "sandbox.backend") {
		t.Fatalf("expected sandbox.backend error, got %v", err)
	}
}

func TestLoadValidatesDatabaseDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: oracle
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "database.driver") {
		t.Fatalf("expected database.driver error, got %v", err)
	}
}

func TestLoadValidatesBillingURL(t *testing.T) {
	path := writeConfig(t, `
billing:
  enabled: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "billing.url") {
		t.Fatalf("expected billing.url error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
agent:
  max_iterations: 50
  parallel_tools: true
tools:
  sandbox:
    backend: managed
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Agent.MaxIterations != 50 {
		t.Fatalf("expected max_iterations 50, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.NativeMaxAutoContinues != 25 {
		t.Fatalf("expected default native_max_auto_continues 25, got %d", cfg.Agent.NativeMaxAutoContinues)
	}
	if cfg.Agent.MaxXMLToolCalls != 10 {
		t.Fatalf("expected default max_xml_tool_calls 10, got %d", cfg.Agent.MaxXMLToolCalls)
	}
}

func TestLoadAppliesAgentDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.MaxIterations != 100 {
		t.Fatalf("expected default max_iterations 100, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Tools.Sandbox.Backend != "local" {
		t.Fatalf("expected default sandbox backend local, got %q", cfg.Tools.Sandbox.Backend)
	}
	if cfg.Workspace.Path != "/workspace" {
		t.Fatalf("expected default workspace path /workspace, got %q", cfg.Workspace.Path)
	}
}

func TestLoadValidatesAuthAPIKeys(t *testing.T) {
	path := writeConfig(t, `
auth:
  api_keys:
    - key: ""
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "auth.api_keys[0].key") {
		t.Fatalf("expected auth.api_keys[0].key error, got %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("AGENTCORE_HOST", "127.0.0.1")
	t.Setenv("SANDBOX_TYPE", "managed")
	t.Setenv("SANDBOX_IMAGE_NAME", "arcflow/agent-runtime:v2")
	t.Setenv("MAX_ITERATIONS", "7")
	t.Setenv("DATABASE_URL", "postgres://override@localhost:5432/agentcore?sslmode=disable")

	path := writeConfig(t, `
server:
  host: 0.0.0.0
database:
  url: postgres://default@localhost:5432/agentcore?sslmode=disable
tools:
  sandbox:
    backend: local
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected host override, got %q", cfg.Server.Host)
	}
	if cfg.Tools.Sandbox.Backend != "managed" {
		t.Fatalf("expected sandbox backend override, got %q", cfg.Tools.Sandbox.Backend)
	}
	if cfg.Tools.Sandbox.Image != "arcflow/agent-runtime:v2" {
		t.Fatalf("expected sandbox image override, got %q", cfg.Tools.Sandbox.Image)
	}
	if cfg.Agent.MaxIterations != 7 {
		t.Fatalf("expected max_iterations override, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Database.URL != "postgres://override@localhost:5432/agentcore?sslmode=disable" {
		t.Fatalf("expected database url override, got %q", cfg.Database.URL)
	}
}

func TestLoadValidatesWorkspaceMaxChars(t *testing.T) {
	path := writeConfig(t, `
workspace:
  max_chars: -5
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "workspace.max_chars") {
		t.Fatalf("expected workspace.max_chars error, got %v", err)
	}
}

func TestLoadValidatesPolicyRules(t *testing.T) {
	path := writeConfig(t, `
tools:
  policies:
    rules:
      - tool: shell
        action: maybe
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "rules[0].action") {
		t.Fatalf("expected rules action error, got %v", err)
	}
}

func TestLoadValidPolicyProfiles(t *testing.T) {
	profiles := []string{"coding", "readonly", "full", "minimal"}
	for _, profile := range profiles {
		t.Run(profile, func(t *testing.T) {
			path := writeConfig(t, `
tools:
  policies:
    profile: `+profile+`
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

			if _, err := Load(path); err != nil {
				t.Fatalf("expected config to load with profile %q, got %v", profile, err)
			}
		})
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
