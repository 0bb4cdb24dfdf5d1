package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/arcflow/agentcore/internal/tools/policy"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Tools are registered by name and can be retrieved for execution during agent conversations.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema

	policyResolver *policy.Resolver
	toolPolicy     *policy.Policy
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
//
// The tool's Schema() is compiled eagerly so a malformed schema fails at
// registration time rather than on the first call. A tool whose schema
// fails to compile is still registered, just without argument validation.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	r.tools[name] = tool
	delete(r.schemas, name)

	raw := tool.Schema()
	if len(raw) == 0 {
		return
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, strings.NewReader(string(raw))); err != nil {
		return
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return
	}
	r.schemas[name] = schema
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Resolve looks up a tool by canonical name: an exact match always
// wins; hyphen-to-underscore normalization is applied
// only when the exact name isn't registered. resolve("a-b-c") therefore
// equals resolve("a_b_c") whenever "a_b_c" is registered, and both miss
// when neither form is.
func (r *ToolRegistry) Resolve(name string) (Tool, bool) {
	if tool, ok := r.Get(name); ok {
		return tool, true
	}
	normalized := strings.ReplaceAll(name, "-", "_")
	if normalized == name {
		return nil, false
	}
	return r.Get(normalized)
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result if the tool is not found or parameters are invalid.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	// Validate tool name
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}

	// Validate params size
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	tool, ok := r.Resolve(name)
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}

	if !r.policyAllows(tool.Name()) {
		return &ToolResult{
			Content: "tool denied by policy: " + tool.Name(),
			IsError: true,
		}, nil
	}

	if err := r.validateParams(tool.Name(), params); err != nil {
		return &ToolResult{
			Content: fmt.Sprintf("invalid arguments for tool %q: %v", name, err),
			IsError: true,
		}, nil
	}

	return tool.Execute(ctx, params)
}

// validateParams checks params against the tool's compiled JSON schema, if
// one was registered. A tool with no schema, or one that failed to compile
// at Register time, accepts any well-formed JSON.
func (r *ToolRegistry) validateParams(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc any
	if len(params) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("params not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// SetPolicy installs a tool policy on the registry. AsLLMTools stops
// advertising denied tools and Execute refuses to run them. A nil
// resolver or policy disables filtering.
func (r *ToolRegistry) SetPolicy(resolver *policy.Resolver, toolPolicy *policy.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policyResolver = resolver
	r.toolPolicy = toolPolicy
}

func (r *ToolRegistry) policyAllows(name string) bool {
	r.mu.RLock()
	resolver, toolPolicy := r.policyResolver, r.toolPolicy
	r.mu.RUnlock()
	if resolver == nil || toolPolicy == nil {
		return true
	}
	return resolver.IsAllowed(toolPolicy, name)
}

// AsLLMTools returns the registered tools the active policy allows, for
// passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	resolver, toolPolicy := r.policyResolver, r.toolPolicy
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	r.mu.RUnlock()
	return filterToolsByPolicy(resolver, toolPolicy, tools)
}

func filterToolsByPolicy(resolver *policy.Resolver, toolPolicy *policy.Policy, tools []Tool) []Tool {
	if resolver == nil || toolPolicy == nil {
		return tools
	}
	filtered := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if resolver.IsAllowed(toolPolicy, tool.Name()) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

func normalizeToolName(name string, resolver *policy.Resolver) string {
	if resolver == nil {
		return policy.NormalizeTool(name)
	}
	return resolver.CanonicalName(name)
}

func matchesToolPatterns(patterns []string, toolName string, resolver *policy.Resolver) bool {
	if len(patterns) == 0 {
		return false
	}
	name := normalizeToolName(toolName, resolver)
	for _, pattern := range patterns {
		if matchToolPattern(normalizeToolName(pattern, resolver), name) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}
