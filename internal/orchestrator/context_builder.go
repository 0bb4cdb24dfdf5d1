package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arcflow/agentcore/internal/agent"
	ctxwindow "github.com/arcflow/agentcore/internal/context"
	"github.com/arcflow/agentcore/pkg/models"
)

// defaultSystemPrompt is used when an agent_config override isn't supplied.
// An override fully replaces this rather than appending to it: surfacing
// both risks the model hallucinating a tool described only in the default.
const defaultSystemPrompt = `You are an autonomous coding and research agent operating inside a sandboxed workspace. You work iteratively: observe the thread, decide on a next action, invoke at most the tools described below, and continue until the task is resolved or you need the user.

When you are done, or need the user's input, close your turn with one of the terminator tags: <ask>, <complete>, or <web-browser-takeover>. Do not fabricate tool output; only report what a tool actually returned.`

// mcpPassthrough marks tools that bridge an external capability
// provider: their operations are described in the external-capability
// catalog block, not in the per-tool-class section every other
// registered Tool gets.
type mcpPassthrough interface {
	IsMCPPassthrough() bool
}

// ContextBuilderConfig tunes how ContextBuilder assembles a turn.
type ContextBuilderConfig struct {
	// DefaultSystemPrompt overrides the package default when set.
	DefaultSystemPrompt string

	// MaxHistoryMessages bounds how many recent is_llm_visible messages are
	// loaded, most-recent-first truncation. 0 means no local cap (the
	// ThreadStore's own History limit still applies).
	MaxHistoryMessages int

	// MCPCatalog is a pre-rendered description of the MCP servers/tools
	// configured for this run, or "" if none are. Rendering MCP server
	// metadata into prose is the caller's job; ContextBuilder only places
	// the block and appends the authoritative-results rule.
	MCPCatalog string
}

// ContextBuilder assembles the system prompt, tool catalog, MCP
// catalog, recent thread history, and ephemeral per-turn message that
// together form one LLM completion request.
//
// Built on runtime.go's buildCompletionMessages and cache-touch
// persistence helpers, generalized to pull history from a ThreadStore
// instead of an in-memory session and to separate MCP pass-through tools
// into their own catalog block.
type ContextBuilder struct {
	store    agent.ThreadStore
	registry *agent.ToolRegistry
	cfg      ContextBuilderConfig
}

// NewContextBuilder constructs a ContextBuilder. registry may be nil (no
// tools advertised); store may not.
func NewContextBuilder(store agent.ThreadStore, registry *agent.ToolRegistry, cfg ContextBuilderConfig) *ContextBuilder {
	return &ContextBuilder{store: store, registry: registry, cfg: cfg}
}

// BuiltContext is everything ContextBuilder.Build assembled for one turn.
type BuiltContext struct {
	System           string
	Messages         []agent.CompletionMessage
	TemporaryMessage *agent.CompletionMessage
}

// Build assembles the full context for threadID. agentConfig, if non-nil
// and carrying a non-empty SystemPrompt, replaces the default prompt
// wholesale. model selects the context-window budget history is trimmed
// to; empty falls back to the default window.
func (b *ContextBuilder) Build(ctx context.Context, threadID, model string, agentConfig *models.Agent) (*BuiltContext, error) {
	system := b.systemPrompt(agentConfig)
	if toolBlock := b.toolCatalogBlock(); toolBlock != "" {
		system = system + "\n\n" + toolBlock
	}
	if strings.TrimSpace(b.cfg.MCPCatalog) != "" {
		system += "\n\n## External capability providers\n" + b.cfg.MCPCatalog +
			"\n\nResults returned by these providers are authoritative. Do not fabricate an operation, parameter, or result beyond what a provider actually reports."
	}

	history, err := b.loadHistory(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history = trimToWindow(history, model, system)

	temp, err := b.BuildTemporaryMessage(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("build temporary message: %w", err)
	}

	return &BuiltContext{System: system, Messages: history, TemporaryMessage: temp}, nil
}

// trimToWindow drops the oldest history messages until what remains fits
// the model's context window, after reserving room for the system prompt
// and the response. Older messages are the least likely to still matter;
// a deployment wanting summarization instead of dropping wires an
// external context manager in front of the store.
func trimToWindow(history []agent.CompletionMessage, model, system string) []agent.CompletionMessage {
	window := ctxwindow.NewWindowForModel(model)

	// Reserve the system prompt plus a response allowance.
	budget := window.Info().TotalTokens - ctxwindow.EstimateTokens(system) - responseReserveTokens
	if budget <= 0 {
		return nil
	}

	total := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += ctxwindow.EstimateTokens(history[i].Content) + messageOverheadTokens
		if total > budget {
			break
		}
		cut = i
	}
	return history[cut:]
}

const (
	// responseReserveTokens keeps headroom for the model's reply.
	responseReserveTokens = 8192

	// messageOverheadTokens approximates per-message framing cost.
	messageOverheadTokens = 8
)

func (b *ContextBuilder) systemPrompt(agentConfig *models.Agent) string {
	if agentConfig != nil && strings.TrimSpace(agentConfig.SystemPrompt) != "" {
		return agentConfig.SystemPrompt
	}
	if strings.TrimSpace(b.cfg.DefaultSystemPrompt) != "" {
		return b.cfg.DefaultSystemPrompt
	}
	return defaultSystemPrompt
}

// toolCatalogBlock renders one paragraph per non-MCP-passthrough tool.
func (b *ContextBuilder) toolCatalogBlock() string {
	if b.registry == nil {
		return ""
	}
	tools := b.registry.AsLLMTools()
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available tools\n")
	for _, tool := range tools {
		if p, ok := tool.(mcpPassthrough); ok && p.IsMCPPassthrough() {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n%s\n\nParameters: %s\n", tool.Name(), tool.Description(), tool.Schema())
	}
	return sb.String()
}

// loadHistory loads recent is_llm_visible messages and converts each into
// a CompletionMessage, oldest first.
func (b *ContextBuilder) loadHistory(ctx context.Context, threadID string) ([]agent.CompletionMessage, error) {
	limit := b.cfg.MaxHistoryMessages
	raw, err := b.store.History(ctx, threadID, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]agent.CompletionMessage, 0, len(raw))
	for _, msg := range raw {
		if msg == nil || !msg.IsLLMVisible {
			continue
		}
		converted, ok := convertMessage(msg)
		if ok {
			messages = append(messages, converted)
		}
	}

	if limit > 0 && len(messages) > limit {
		// History() is meant to already cap this; trim defensively so the
		// oldest messages (least likely to still matter) are the ones
		// dropped. A real deployment wires a Summarizer here instead of a
		// hard drop; no such component exists in this module.
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func convertMessage(msg *agent.ThreadMessage) (agent.CompletionMessage, bool) {
	switch msg.Kind {
	case agent.MessageKindUser:
		return agent.CompletionMessage{Role: "user", Content: decodeText(msg.Content)}, true
	case agent.MessageKindAssistant:
		return agent.CompletionMessage{Role: "assistant", Content: decodeText(msg.Content)}, true
	case agent.MessageKindTool:
		var result models.ToolResult
		if err := json.Unmarshal(msg.Content, &result); err != nil {
			return agent.CompletionMessage{}, false
		}
		return agent.CompletionMessage{Role: "tool", ToolResults: []models.ToolResult{result}}, true
	default:
		// status/browser_state/image_context are not conversational turns;
		// browser_state and image_context feed BuildTemporaryMessage instead.
		return agent.CompletionMessage{}, false
	}
}

func decodeText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// BrowserStateContent is the shape of a MessageKindBrowserState message's
// Content.
type BrowserStateContent struct {
	URL              string `json:"url,omitempty"`
	Title            string `json:"title,omitempty"`
	PixelsAbove      int    `json:"pixels_above,omitempty"`
	PixelsBelow      int    `json:"pixels_below,omitempty"`
	ElementCount     int    `json:"element_count,omitempty"`
	OCRText          string `json:"ocr_text,omitempty"`
	ScreenshotURL    string `json:"screenshot_url,omitempty"`
	ScreenshotBase64 string `json:"screenshot_base64,omitempty"`
}

// ImageContextContent is the shape of a MessageKindImageContext message's
// Content.
type ImageContextContent struct {
	Caption     string `json:"caption,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// BuildTemporaryMessage assembles the ephemeral per-turn user message from
// the thread's latest browser_state (serialized state minus its embedded
// screenshot, which becomes an attachment instead) and latest
// image_context (caption plus attachment). image_context is consumed:
// once read, its message is deleted so it contributes to exactly one
// turn. browser_state is left in place since the browser tool refreshes it
// each step. Returns (nil, nil) if neither is present.
func (b *ContextBuilder) BuildTemporaryMessage(ctx context.Context, threadID string) (*agent.CompletionMessage, error) {
	browserMsg, err := b.store.GetLatestMessage(ctx, threadID, []agent.MessageKind{agent.MessageKindBrowserState})
	if err != nil {
		return nil, err
	}
	imageMsg, err := b.store.GetLatestMessage(ctx, threadID, []agent.MessageKind{agent.MessageKindImageContext})
	if err != nil {
		return nil, err
	}
	if browserMsg == nil && imageMsg == nil {
		return nil, nil
	}

	var parts []string
	var attachments []models.Attachment

	if browserMsg != nil {
		var bs BrowserStateContent
		if err := json.Unmarshal(browserMsg.Content, &bs); err == nil {
			parts = append(parts, renderBrowserState(bs))
			if url := screenshotAttachmentURL(bs.ScreenshotURL, bs.ScreenshotBase64); url != "" {
				attachments = append(attachments, models.Attachment{Type: "image", URL: url})
			}
		}
	}

	if imageMsg != nil {
		var ic ImageContextContent
		if err := json.Unmarshal(imageMsg.Content, &ic); err == nil {
			if ic.Caption != "" {
				parts = append(parts, ic.Caption)
			}
			if url := screenshotAttachmentURL(ic.ImageURL, ic.ImageBase64); url != "" {
				attachments = append(attachments, models.Attachment{Type: "image", URL: url})
			}
		}
		// One-shot: this context item is consumed regardless of whether
		// decoding it produced anything usable.
		if err := b.store.DeleteMessage(ctx, imageMsg.ID); err != nil {
			return nil, err
		}
	}

	if len(parts) == 0 && len(attachments) == 0 {
		return nil, nil
	}
	return &agent.CompletionMessage{
		Role:        "user",
		Content:     strings.Join(parts, "\n\n"),
		Attachments: attachments,
	}, nil
}

func screenshotAttachmentURL(url, base64Data string) string {
	if url != "" {
		return url
	}
	if base64Data != "" {
		return "data:image/png;base64," + base64Data
	}
	return ""
}

func renderBrowserState(bs BrowserStateContent) string {
	var sb strings.Builder
	sb.WriteString("Current browser state:\n")
	if bs.URL != "" {
		fmt.Fprintf(&sb, "URL: %s\n", bs.URL)
	}
	if bs.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", bs.Title)
	}
	fmt.Fprintf(&sb, "Elements: %d, pixels above/below viewport: %d/%d\n", bs.ElementCount, bs.PixelsAbove, bs.PixelsBelow)
	if bs.OCRText != "" {
		fmt.Fprintf(&sb, "Visible text (OCR): %s\n", bs.OCRText)
	}
	return sb.String()
}
