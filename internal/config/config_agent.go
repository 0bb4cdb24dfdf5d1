package config

// AgentConfig bounds the outer agent iteration loop.
type AgentConfig struct {
	// MaxIterations caps loop iterations per invocation. Default: 100.
	MaxIterations int `yaml:"max_iterations"`

	// NativeMaxAutoContinues caps automatic continuations when the model
	// stops on a length limit rather than a terminator. Default: 25.
	NativeMaxAutoContinues int `yaml:"native_max_auto_continues"`

	// MaxXMLToolCalls caps tool invocations parsed from a single LLM
	// response. Default: 10.
	MaxXMLToolCalls int `yaml:"max_xml_tool_calls"`

	// ParallelTools dispatches all tool calls from one response concurrently.
	ParallelTools bool `yaml:"parallel_tools"`

	// ExecuteOnStream schedules tool execution as soon as a tag closes in
	// the stream instead of waiting for stream end.
	ExecuteOnStream bool `yaml:"execute_on_stream"`

	// Stream forwards thought/tool events to the caller as they happen.
	Stream bool `yaml:"stream"`
}

// BillingConfig points the driver's pre-iteration gate at a quota service.
// When disabled every check passes.
type BillingConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
}

// StorageConfig configures the object store used for browser screenshot
// uploads.
type StorageConfig struct {
	// Bucket is the S3 bucket screenshots are uploaded to. Empty disables
	// uploads; screenshots are then inlined as base64.
	Bucket string `yaml:"bucket"`

	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`

	// Prefix is prepended to every uploaded object key.
	Prefix string `yaml:"prefix"`

	// PublicBaseURL is the URL prefix substituted into persisted
	// browser_state messages in place of the raw object key.
	PublicBaseURL string `yaml:"public_base_url"`
}
