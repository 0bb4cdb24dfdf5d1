package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the agent runtime.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Agent     AgentConfig     `yaml:"agent"`
	Billing   BillingConfig   `yaml:"billing"`
	Storage   StorageConfig   `yaml:"storage"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	LLM       LLMConfig       `yaml:"llm"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)

	// Apply defaults
	applyDefaults(&cfg)

	// Validate config
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAgentDefaults(&cfg.Agent)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyToolsDefaults(cfg)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 100
	}
	if cfg.NativeMaxAutoContinues == 0 {
		cfg.NativeMaxAutoContinues = 25
	}
	if cfg.MaxXMLToolCalls == 0 {
		cfg.MaxXMLToolCalls = 10
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "/workspace"
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 20000
	}
}

func applyToolsDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Tools.Sandbox.Backend == "" {
		cfg.Tools.Sandbox.Backend = "local"
	}
	if cfg.Tools.Sandbox.Image == "" {
		cfg.Tools.Sandbox.Image = "arcflow/agent-runtime:latest"
	}
	if cfg.Tools.Policies.Profile == "" {
		cfg.Tools.Policies.Profile = "full"
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("AGENTCORE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}

	if value := strings.TrimSpace(os.Getenv("SANDBOX_TYPE")); value != "" {
		cfg.Tools.Sandbox.Backend = value
	}
	if value := strings.TrimSpace(os.Getenv("SANDBOX_IMAGE_NAME")); value != "" {
		cfg.Tools.Sandbox.Image = value
	}
	if value := strings.TrimSpace(os.Getenv("DAYTONA_API_KEY")); value != "" {
		cfg.Tools.Sandbox.Daytona.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("DAYTONA_API_URL")); value != "" {
		cfg.Tools.Sandbox.Daytona.APIURL = value
	}
	if value := strings.TrimSpace(os.Getenv("DAYTONA_TARGET")); value != "" {
		cfg.Tools.Sandbox.Daytona.Target = value
	}

	if value := strings.TrimSpace(os.Getenv("MAX_ITERATIONS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Agent.MaxIterations = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("NATIVE_MAX_AUTO_CONTINUES")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Agent.NativeMaxAutoContinues = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("MAX_XML_TOOL_CALLS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Agent.MaxXMLToolCalls = parsed
		}
	}
}

type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if !validDatabaseDriver(cfg.Database.Driver) {
		issues = append(issues, "database.driver must be \"postgres\" or \"sqlite\"")
	}

	if cfg.Agent.MaxIterations < 0 {
		issues = append(issues, "agent.max_iterations must be >= 0")
	}
	if cfg.Agent.NativeMaxAutoContinues < 0 {
		issues = append(issues, "agent.native_max_auto_continues must be >= 0")
	}
	if cfg.Agent.MaxXMLToolCalls < 0 {
		issues = append(issues, "agent.max_xml_tool_calls must be >= 0")
	}
	if cfg.Billing.Enabled && strings.TrimSpace(cfg.Billing.URL) == "" {
		issues = append(issues, "billing.url is required when billing is enabled")
	}
	if cfg.Workspace.MaxChars < 0 {
		issues = append(issues, "workspace.max_chars must be >= 0")
	}

	if !validSandboxBackend(cfg.Tools.Sandbox.Backend) {
		issues = append(issues, "tools.sandbox.backend must be \"local\" or \"managed\"")
	}
	if cfg.Tools.Sandbox.VNCHostPort < 0 || cfg.Tools.Sandbox.VNCHostPort > 65535 {
		issues = append(issues, "tools.sandbox.vnc_host_port must be a valid port")
	}
	if cfg.Tools.Sandbox.WebHostPort < 0 || cfg.Tools.Sandbox.WebHostPort > 65535 {
		issues = append(issues, "tools.sandbox.web_host_port must be a valid port")
	}

	if !validPolicyProfile(cfg.Tools.Policies.Profile) {
		issues = append(issues, "tools.policies.profile must be \"coding\", \"readonly\", \"full\", or \"minimal\"")
	}
	for i, rule := range cfg.Tools.Policies.Rules {
		if strings.TrimSpace(rule.Tool) == "" {
			issues = append(issues, fmt.Sprintf("tools.policies.rules[%d].tool must be set", i))
		}
		switch strings.ToLower(strings.TrimSpace(rule.Action)) {
		case "allow", "deny":
		default:
			issues = append(issues, fmt.Sprintf("tools.policies.rules[%d].action must be \"allow\" or \"deny\"", i))
		}
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range cfg.Auth.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be set", i))
			continue
		}
		if _, ok := seenKeys[key]; ok {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be unique", i))
		} else {
			seenKeys[key] = struct{}{}
		}
	}

	if cfg.Tools.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}
	if cfg.Tools.Execution.MaxAttempts < 0 {
		issues = append(issues, "tools.execution.max_attempts must be >= 0")
	}
	if cfg.Tools.Execution.RetryBackoff < 0 {
		issues = append(issues, "tools.execution.retry_backoff must be >= 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}

func validDatabaseDriver(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "sqlite":
		return true
	default:
		return false
	}
}

func validSandboxBackend(backend string) bool {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "local", "managed":
		return true
	default:
		return false
	}
}

func validPolicyProfile(profile string) bool {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", "coding", "readonly", "full", "minimal":
		return true
	default:
		return false
	}
}
