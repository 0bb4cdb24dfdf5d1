package config

import "time"

type ToolsConfig struct {
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Execution ToolExecutionConfig `yaml:"execution"`
}

// ToolPoliciesConfig defines which tools an agent run may use.
type ToolPoliciesConfig struct {
	// Profile is a pre-configured tool access level.
	// Valid profiles: "coding", "readonly", "full", "minimal".
	// Empty means "full".
	Profile string `yaml:"profile"`

	// Rules define per-tool allow/deny behavior layered on the profile.
	Rules []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for a tool or tool pattern.
type ToolPolicyRule struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action"` // "allow" | "deny"
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	Parallelism  int                   `yaml:"parallelism"`
	Timeout      time.Duration         `yaml:"timeout"`
	MaxAttempts  int                   `yaml:"max_attempts"`
	RetryBackoff time.Duration         `yaml:"retry_backoff"`
	ResultGuard  ToolResultGuardConfig `yaml:"result_guard"`
}

// ToolResultGuardConfig controls redaction of tool results before persistence.
type ToolResultGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	Denylist        []string `yaml:"denylist"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	RedactionText   string   `yaml:"redaction_text"`
	TruncateSuffix  string   `yaml:"truncate_suffix"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"`
}

type SandboxConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend selects the sandbox provider: "local" (container runtime)
	// or "managed" (remote service).
	Backend string `yaml:"backend"`

	// Image is the agent runtime image started for new sandboxes.
	Image string `yaml:"image"`

	// VNCHostPort and WebHostPort pin the host-side mappings for the two
	// well-known container ports (6080 and 8080). Zero lets the runtime
	// assign them.
	VNCHostPort int `yaml:"vnc_host_port"`
	WebHostPort int `yaml:"web_host_port"`

	// Daytona configures the managed backend.
	Daytona SandboxDaytonaConfig `yaml:"daytona"`
}

// SandboxDaytonaConfig configures the Daytona sandbox backend.
type SandboxDaytonaConfig struct {
	APIKey         string         `yaml:"api_key"`
	JWTToken       string         `yaml:"jwt_token"`
	OrganizationID string         `yaml:"organization_id"`
	APIURL         string         `yaml:"api_url"`
	Target         string         `yaml:"target"`
	Snapshot       string         `yaml:"snapshot"`
	Image          string         `yaml:"image"`
	SandboxClass   string         `yaml:"class"`
	WorkspaceDir   string         `yaml:"workspace_dir"`
	NetworkAllow   string         `yaml:"network_allow_list"`
	ReuseSandbox   bool           `yaml:"reuse_sandbox"`
	AutoStop       *time.Duration `yaml:"auto_stop_interval"`
	AutoArchive    *time.Duration `yaml:"auto_archive_interval"`
	AutoDelete     *time.Duration `yaml:"auto_delete_interval"`
}
