package config

// WorkspaceConfig describes the agent-visible workspace inside a sandbox.
type WorkspaceConfig struct {
	// Path is the working directory inside the sandbox container.
	Path string `yaml:"path"`

	// MaxChars bounds how much workspace file content is surfaced into
	// the prompt context.
	MaxChars int `yaml:"max_chars"`
}
