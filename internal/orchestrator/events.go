// Package orchestrator wires the agent package's primitives (ToolRegistry,
// ToolInvocationParser, ToolExecutor, ThreadStore) and the sandbox package's
// Provider together into the run_thread / AgentDriver loop. It lives above
// both because internal/tools/sandbox already imports internal/agent, so a
// package needing both without a cycle has to sit one level up.
package orchestrator

// StreamEventType is the wire-facing event vocabulary a thread run emits,
// distinct from the richer models.RuntimeEvent/ToolEvent types Runtime
// already uses internally: these five names are the ones a client consuming
// an agent run over SSE/websocket actually sees.
type StreamEventType string

const (
	EventThought       StreamEventType = "thought"
	EventToolCall      StreamEventType = "tool_call"
	EventToolResult    StreamEventType = "tool_result"
	EventFinalResponse StreamEventType = "final_response"
	EventError         StreamEventType = "error"
	EventStatus        StreamEventType = "status"
)

// StreamEvent is one emitted event. Only the fields relevant to Type are
// populated; the rest are zero.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// thought
	Content string `json:"content,omitempty"`

	// tool_call / tool_result
	ToolName   string            `json:"tool_name,omitempty"`
	ToolArgs   map[string]string `json:"tool_args,omitempty"`
	ToolOutput string            `json:"tool_output,omitempty"`
	IsError    bool              `json:"is_error,omitempty"`

	// error / status
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// IterationState is the bookkeeping a ResponseProcessor.Run call leaves
// behind for its caller once the event channel it writes to is closed.
// Reading it is only safe after the channel close has been observed (the
// Go memory model guarantees a channel close happens-before a receive that
// returns because of it, and every field here is written by the same
// goroutine that performs the close).
type IterationState struct {
	LastToolName             string
	TerminateRequested       bool
	ErrorFlagged             bool
	AccumulatedAssistantText string
}
