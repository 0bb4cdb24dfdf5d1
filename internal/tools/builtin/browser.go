package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/media"
	"github.com/arcflow/agentcore/internal/observability"
	"github.com/arcflow/agentcore/internal/tools/sandbox"
)

// automationBase is where the sandbox image serves its browser
// automation API. The tool reaches it by running curl inside the
// container, so the port never has to be exposed to the host.
const automationBase = "http://localhost:8003/api/automation"

const browserTimeout = 120 * time.Second

// BrowserTool drives the sandbox's in-container browser through the
// automation sub-API and records the resulting page state as a
// browser_state message for the next iteration's turn context.
type BrowserTool struct {
	ingestor *media.BrowserStateIngestor
}

// NewBrowserTool constructs a BrowserTool. ingestor may be nil, in which
// case page state is returned to the model but not persisted.
func NewBrowserTool(ingestor *media.BrowserStateIngestor) *BrowserTool {
	return &BrowserTool{ingestor: ingestor}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Control the sandbox browser: navigate, click, type, scroll, or extract page content. Returns the resulting page state."
}

func (t *BrowserTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["navigate", "click", "type", "scroll", "extract"], "description": "Browser action to perform"},
			"url": {"type": "string", "description": "Target URL (navigate)"},
			"selector": {"type": "string", "description": "Element selector (click, type, extract)"},
			"text": {"type": "string", "description": "Text to type (type)"},
			"direction": {"type": "string", "enum": ["up", "down"], "description": "Scroll direction (scroll)"}
		},
		"required": ["action"]
	}`)
}

type browserParams struct {
	Action    string `json:"action"`
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Text      string `json:"text,omitempty"`
	Direction string `json:"direction,omitempty"`
}

func (t *BrowserTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p browserParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Action == "" {
		return &agent.ToolResult{Content: "action is required", IsError: true}, nil
	}

	handle, ok := sandbox.FromContext(ctx)
	if !ok {
		return &agent.ToolResult{Content: "no sandbox available for this project", IsError: true}, nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("encode request: %v", err), IsError: true}, nil
	}

	endpoint := automationBase + "/" + url.PathEscape(p.Action)
	cmd := fmt.Sprintf("curl -sS -X POST -H 'Content-Type: application/json' -d %s %s",
		shellQuote(string(body)), endpoint)

	stdout, stderr, exitCode, err := handle.Exec(ctx, cmd, "", browserTimeout)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("browser automation failed: %v", err), IsError: true}, nil
	}
	if exitCode != 0 {
		return &agent.ToolResult{Content: fmt.Sprintf("browser automation failed (exit %d): %s", exitCode, stderr), IsError: true}, nil
	}

	raw := []byte(stdout)
	decoded := media.DecodeUTF8(raw)

	var state media.BrowserStateResponse
	if err := json.Unmarshal([]byte(decoded), &state); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("unexpected automation response: %s", truncate(decoded, 500)), IsError: true}, nil
	}

	if t.ingestor != nil {
		if threadID := observability.GetSessionID(ctx); threadID != "" {
			// Persistence failure doesn't fail the tool; the model still
			// gets the page state in its result.
			_, _ = t.ingestor.Ingest(ctx, threadID, raw)
		}
	}

	summary := state.Message
	if state.URL != "" {
		summary = fmt.Sprintf("%s (url: %s, title: %s)", state.Message, state.URL, state.Title)
	}
	return &agent.ToolResult{Content: summary}, nil
}

// shellQuote single-quotes s for safe interpolation into a shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ agent.Tool = (*BrowserTool)(nil)
