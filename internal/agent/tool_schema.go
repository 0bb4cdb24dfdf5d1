package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaForStruct reflects a JSON Schema for a tool's parameter struct,
// so a tool author declares a struct with json tags instead of
// hand-writing the schema literal. The schema is inlined (no $ref/$defs
// indirection) since LLM tool declarations want a self-contained object.
func SchemaForStruct(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

// XMLParamSchema describes one parameter of a tool's XML call form.
type XMLParamSchema struct {
	Name     string
	NodeType string // "attribute", "element", or "content"
	Required bool
}

// XMLTagSchema describes how a tool is invoked via the inline-XML format
// (Format B): a hyphenated tag name, with parameters carried as either
// attributes or child elements.
type XMLTagSchema struct {
	TagName    string
	Params     []XMLParamSchema
	UsesInvoke bool // true selects Format A (<invoke name="...">) instead of the inline tag
}

// XMLSchemaProvider is an optional interface a Tool can implement to
// additionally support the inline-XML call format alongside the
// structured JSON-schema format every Tool already supports via Schema().
// It is additive and type-asserted by ToolRegistry/ToolInvocationParser;
// tools that don't implement it remain structured-call only, so no
// existing Tool implementer breaks.
type XMLSchemaProvider interface {
	XMLSchema() XMLTagSchema
}

// xmlSchemas returns the registered XML tag schemas, keyed by tag name,
// for every tool in the registry that implements XMLSchemaProvider.
func (r *ToolRegistry) xmlSchemas() map[string]XMLTagSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]XMLTagSchema)
	for name, tool := range r.tools {
		provider, ok := tool.(XMLSchemaProvider)
		if !ok {
			continue
		}
		schema := provider.XMLSchema()
		if schema.TagName == "" {
			schema.TagName = name
		}
		out[schema.TagName] = schema
	}
	return out
}

// resolveXMLToolName maps an XML tag name back to the registered tool
// name it corresponds to. If no tool advertises that tag, ok is false.
func (r *ToolRegistry) resolveXMLToolName(tag string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, tool := range r.tools {
		provider, ok := tool.(XMLSchemaProvider)
		if !ok {
			continue
		}
		schema := provider.XMLSchema()
		tagName := schema.TagName
		if tagName == "" {
			tagName = name
		}
		if tagName == tag {
			return name, true
		}
	}
	return "", false
}
