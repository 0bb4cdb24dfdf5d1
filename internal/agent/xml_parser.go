package agent

import (
	"encoding/json"
	"encoding/xml"
	"strings"

	"github.com/arcflow/agentcore/pkg/models"
	"github.com/google/uuid"
)

// MaxParsedToolCalls caps the number of tool calls extracted from a single
// LLM response. Excess invocations are discarded with a warning event;
// this bounds worst-case per-turn work.
const MaxParsedToolCalls = 10

// ToolCallSource records which textual format a parsed tool call came from.
type ToolCallSource string

const (
	ToolCallSourceInvoke ToolCallSource = "invoke" // Format A: <function_calls><invoke name="X">
	ToolCallSourceInline ToolCallSource = "inline" // Format B: <tool-name attr="v">
)

// ParsedToolCall is the output of ToolInvocationParser: one tool
// invocation extracted from assistant text, with its kwargs and the
// format it was parsed from.
type ParsedToolCall struct {
	ID     string
	Name   string
	Kwargs map[string]string
	Source ToolCallSource
}

// ToParsedToolResult wraps a ParsedToolCall's kwargs into a models.ToolCall
// for dispatch through the existing ToolExecutor/ToolRegistry path.
func (p ParsedToolCall) ToModelsToolCall() (models.ToolCall, error) {
	input, err := kwargsToJSON(p.Kwargs)
	if err != nil {
		return models.ToolCall{}, err
	}
	return models.ToolCall{
		ID:    p.ID,
		Name:  p.Name,
		Input: input,
	}, nil
}

// xmlNode is the generic tree shape encoding/xml decodes any element
// into, used for the tolerant recursive tree-walk the parser needs:
// tags are not known up front, so we can't decode into named structs.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

// containerTags are transparent: the parser recursively flattens through
// them into the list of candidate tool elements instead of treating them
// as tool calls themselves.
var containerTags = map[string]bool{
	"dummy_root":     true,
	"function_calls": true,
	"tools":          true,
}

// ToolInvocationParser extracts ordered tool invocations from a block of
// assistant response text that may mix Format A (<function_calls><invoke
// name="X"><parameter name="p">v</parameter></invoke>) and Format B
// (inline hyphenated tags) calls, or contain none at all.
type ToolInvocationParser struct {
	registry *ToolRegistry
	maxCalls int
}

// NewToolInvocationParser constructs a parser bound to registry, used to
// normalize Format B tag names back to registered tool names.
func NewToolInvocationParser(registry *ToolRegistry) *ToolInvocationParser {
	return &ToolInvocationParser{registry: registry, maxCalls: MaxParsedToolCalls}
}

// ParseResult is the outcome of Parse: either a list of calls (possibly
// empty, meaning no tool calls were present) or a parse failure.
type ParseResult struct {
	Calls     []ParsedToolCall
	Truncated bool // true if more than maxCalls candidate elements were found
	Failed    bool // true if the XML fragment was malformed
}

// Parse extracts tool invocations embedded in text. Text segments that
// contain no XML-like tool markup simply yield an empty, non-failed
// result so callers can treat the text as plain assistant output.
func (p *ToolInvocationParser) Parse(text string) ParseResult {
	fragment := extractXMLFragment(text)
	if strings.TrimSpace(fragment) == "" {
		return ParseResult{}
	}

	wrapped := "<dummy_root>" + fragment + "</dummy_root>"
	var root xmlNode
	if err := xml.Unmarshal([]byte(wrapped), &root); err != nil {
		return ParseResult{Failed: true}
	}

	var candidates []xmlNode
	p.flatten(root, &candidates)

	truncated := false
	if len(candidates) > p.maxCalls {
		candidates = candidates[:p.maxCalls]
		truncated = true
	}

	calls := make([]ParsedToolCall, 0, len(candidates))
	for _, node := range candidates {
		call, ok := p.toCall(node)
		if ok {
			calls = append(calls, call)
		}
	}
	return ParseResult{Calls: calls, Truncated: truncated}
}

// flatten recursively walks container tags, appending leaf candidate
// elements (tool invocations) to out in source order.
func (p *ToolInvocationParser) flatten(node xmlNode, out *[]xmlNode) {
	for _, child := range node.Children {
		if containerTags[child.XMLName.Local] {
			p.flatten(child, out)
			continue
		}
		*out = append(*out, child)
	}
}

// toCall converts one candidate element into a ParsedToolCall, choosing
// Format A (invoke/parameter) or Format B (inline tag) based on the tag
// name.
func (p *ToolInvocationParser) toCall(node xmlNode) (ParsedToolCall, bool) {
	if node.XMLName.Local == "invoke" {
		return p.parseInvoke(node)
	}
	return p.parseInline(node)
}

// parseInvoke handles <invoke name="X"><parameter name="p">v</parameter>...</invoke>.
func (p *ToolInvocationParser) parseInvoke(node xmlNode) (ParsedToolCall, bool) {
	name := attrValue(node.Attrs, "name")
	if name == "" {
		return ParsedToolCall{}, false
	}
	kwargs := make(map[string]string)
	for _, child := range node.Children {
		if child.XMLName.Local != "parameter" {
			continue
		}
		paramName := attrValue(child.Attrs, "name")
		if paramName == "" {
			continue
		}
		kwargs[paramName] = strings.TrimSpace(child.Content)
	}
	return ParsedToolCall{
		ID:     uuid.NewString(),
		Name:   p.normalizeName(name),
		Kwargs: kwargs,
		Source: ToolCallSourceInvoke,
	}, true
}

// parseInline handles <tool-name-in-hyphens attr="v">content<child>v</child></tool-name-in-hyphens>.
func (p *ToolInvocationParser) parseInline(node xmlNode) (ParsedToolCall, bool) {
	if node.XMLName.Local == "" {
		return ParsedToolCall{}, false
	}
	kwargs := make(map[string]string)
	for _, attr := range node.Attrs {
		kwargs[attr.Name.Local] = attr.Value
	}
	if len(node.Children) == 0 {
		if content := strings.TrimSpace(node.Content); content != "" {
			kwargs["content"] = content
		}
	}
	for _, child := range node.Children {
		kwargs[child.XMLName.Local] = strings.TrimSpace(child.Content)
	}
	return ParsedToolCall{
		ID:     uuid.NewString(),
		Name:   p.normalizeName(node.XMLName.Local),
		Kwargs: kwargs,
		Source: ToolCallSourceInline,
	}, true
}

// normalizeName resolves a tag name to a registered tool name: first by
// exact registration, then via the XML-schema tag table, then by
// hyphen-to-underscore normalization (ToolRegistry.Resolve) as a last
// resort.
func (p *ToolInvocationParser) normalizeName(tag string) string {
	if p.registry == nil {
		return strings.ReplaceAll(tag, "-", "_")
	}
	if resolved, ok := p.registry.resolveXMLToolName(tag); ok {
		return resolved
	}
	if _, ok := p.registry.Resolve(tag); ok {
		return strings.ReplaceAll(tag, "-", "_")
	}
	return strings.ReplaceAll(tag, "-", "_")
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// extractXMLFragment returns the portion of text that looks like it
// contains tool-call markup (starting at the first '<'), so that parsers
// fed an entire assistant turn (prose plus tool calls) don't choke on
// the leading prose as malformed XML content outside a root element.
func extractXMLFragment(text string) string {
	idx := strings.IndexByte(text, '<')
	if idx < 0 {
		return ""
	}
	return text[idx:]
}

func kwargsToJSON(kwargs map[string]string) ([]byte, error) {
	return json.Marshal(kwargs)
}
