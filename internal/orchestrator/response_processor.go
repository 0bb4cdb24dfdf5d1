package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/pkg/models"
)

// ResponseProcessorConfig holds the per-run processing knobs:
// execute_on_stream, parallel_tools, and the per-response tool-call cap.
type ResponseProcessorConfig struct {
	// ParallelTools, when true, runs tool calls from one response
	// concurrently rather than in source order.
	ParallelTools bool

	// ExecuteOnStream, when true, starts each tool call the instant its
	// closing tag is seen in the buffer instead of waiting for the stream
	// to finish. Combined with ParallelTools=false, calls still execute in
	// source order but as each one becomes available rather than all at
	// the end.
	ExecuteOnStream bool

	// MaxToolCalls caps how many tool invocations one response may
	// schedule; extras are discarded with a status event. <= 0 uses
	// agent.MaxParsedToolCalls.
	MaxToolCalls int
}

// execOutcome tracks one scheduled tool call through to its result.
type execOutcome struct {
	call     agent.ParsedToolCall
	result   models.ToolResult
	executed bool
}

// ResponseProcessor is the rolling-buffer state machine that turns a
// stream of CompletionChunks into thought/tool_call/tool_result events,
// dispatches tool calls through ToolExecutor, and detects terminator tags.
//
// Built on event_emitter.go's typed-event vocabulary and runtime.go's
// streaming loop, generalized to scan for closed XML elements incrementally
// instead of requiring one complete response before parsing.
type ResponseProcessor struct {
	parser   *agent.ToolInvocationParser
	executor *agent.ToolExecutor
	store    agent.ThreadStore
	threadID string
	cfg      ResponseProcessorConfig
}

// NewResponseProcessor constructs a ResponseProcessor for one thread run.
func NewResponseProcessor(parser *agent.ToolInvocationParser, executor *agent.ToolExecutor, store agent.ThreadStore, threadID string, cfg ResponseProcessorConfig) *ResponseProcessor {
	return &ResponseProcessor{parser: parser, executor: executor, store: store, threadID: threadID, cfg: cfg}
}

// Run drains chunks, emitting events to out and filling state, then
// persists the turn's messages. It returns once chunks is closed, ctx is
// canceled, or a stream error chunk arrives. The caller is responsible for
// closing out after Run returns.
func (rp *ResponseProcessor) Run(ctx context.Context, chunks <-chan *agent.CompletionChunk, out chan<- StreamEvent, state *IterationState) {
	maxCalls := rp.cfg.MaxToolCalls
	if maxCalls <= 0 {
		maxCalls = agent.MaxParsedToolCalls
	}

	var buf strings.Builder
	scanPos := 0
	scheduledCount := 0
	warnedCap := false
	warnedParse := false
	var outcomes []*execOutcome
	var wg sync.WaitGroup

readLoop:
	for {
		select {
		case <-ctx.Done():
			state.ErrorFlagged = true
			out <- StreamEvent{Type: EventError, Message: ctx.Err().Error()}
			break readLoop
		case chunk, ok := <-chunks:
			if !ok {
				break readLoop
			}
			if chunk.Error != nil {
				state.ErrorFlagged = true
				out <- StreamEvent{Type: EventError, Message: chunk.Error.Error()}
				break readLoop
			}
			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				state.AccumulatedAssistantText += chunk.Text
				out <- StreamEvent{Type: EventThought, Content: chunk.Text}
			}

			for {
				full := buf.String()
				start, end, tagName, found := findNextClosedElement(full, scanPos)
				if !found {
					break
				}
				scanPos = end
				elementText := full[start:end]

				if agent.IsTerminator(tagName) {
					// Preempt: once a terminator tag closes, nothing after
					// it schedules further tool work even if more closed
					// elements follow later in the same buffer.
					state.TerminateRequested = true
					continue
				}
				if state.TerminateRequested {
					continue
				}

				parsed := rp.parser.Parse(elementText)
				if parsed.Failed {
					if !warnedParse {
						warnedParse = true
						out <- StreamEvent{Type: EventStatus, Status: "parse_warning", Message: "a malformed tool invocation was ignored"}
					}
					continue
				}
				if parsed.Truncated && !warnedCap {
					// The parser itself dropped invocations beyond its cap
					// (a single container block carrying too many invokes);
					// that discard warns the same way as the scheduling cap.
					warnedCap = true
					out <- StreamEvent{Type: EventStatus, Status: "max_tool_calls_exceeded", Message: fmt.Sprintf("discarded tool calls beyond the %d-call limit for this response", maxCalls)}
				}

				for _, call := range parsed.Calls {
					if scheduledCount >= maxCalls {
						if !warnedCap {
							warnedCap = true
							out <- StreamEvent{Type: EventStatus, Status: "max_tool_calls_exceeded", Message: fmt.Sprintf("discarded tool calls beyond the %d-call limit for this response", maxCalls)}
						}
						continue
					}
					scheduledCount++
					state.LastToolName = call.Name
					outcome := &execOutcome{call: call}
					outcomes = append(outcomes, outcome)
					out <- StreamEvent{Type: EventToolCall, ToolName: call.Name, ToolArgs: call.Kwargs}

					if rp.cfg.ExecuteOnStream {
						if rp.cfg.ParallelTools {
							wg.Add(1)
							go func(o *execOutcome) {
								defer wg.Done()
								o.result = rp.execOne(ctx, o.call)
								o.executed = true
							}(outcome)
						} else {
							outcome.result = rp.execOne(ctx, outcome.call)
							outcome.executed = true
						}
					}
				}
			}

			if chunk.Done {
				break readLoop
			}
		}
	}

	wg.Wait()

	// Calls not yet executed are the ones deferred because
	// ExecuteOnStream was false: run them now, respecting ParallelTools.
	var pending []*execOutcome
	for _, o := range outcomes {
		if !o.executed {
			pending = append(pending, o)
		}
	}
	if len(pending) > 0 {
		if rp.cfg.ParallelTools {
			var pendingWG sync.WaitGroup
			for _, o := range pending {
				pendingWG.Add(1)
				go func(o *execOutcome) {
					defer pendingWG.Done()
					o.result = rp.execOne(ctx, o.call)
				}(o)
			}
			pendingWG.Wait()
		} else {
			for _, o := range pending {
				o.result = rp.execOne(ctx, o.call)
			}
		}
	}

	for _, o := range outcomes {
		out <- StreamEvent{Type: EventToolResult, ToolName: o.call.Name, ToolOutput: o.result.Content, IsError: o.result.IsError}
	}

	rp.persist(ctx, state, outcomes)
}

// execOne dispatches one parsed call through the shared ToolExecutor,
// reusing its retry/timeout/concurrency machinery for a single-item batch.
func (rp *ResponseProcessor) execOne(ctx context.Context, call agent.ParsedToolCall) models.ToolResult {
	modelsCall, err := call.ToModelsToolCall()
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	results := rp.executor.ExecuteConcurrently(ctx, []models.ToolCall{modelsCall}, nil)
	if len(results) == 0 {
		return models.ToolResult{ToolCallID: call.ID, Content: "tool execution produced no result", IsError: true}
	}
	return results[0].Result
}

// persist writes the turn's messages in the guaranteed order: one
// assistant message with the full accumulated text, one tool message per
// executed call in source order, then one status message recording
// whether a terminator was seen.
func (rp *ResponseProcessor) persist(ctx context.Context, state *IterationState, outcomes []*execOutcome) {
	if rp.store == nil {
		return
	}
	assistantContent, _ := json.Marshal(state.AccumulatedAssistantText)
	if _, err := rp.store.AddMessage(ctx, rp.threadID, agent.MessageKindAssistant, assistantContent, true); err != nil {
		return
	}
	for _, o := range outcomes {
		toolContent, err := json.Marshal(o.result)
		if err != nil {
			continue
		}
		if _, err := rp.store.AddMessage(ctx, rp.threadID, agent.MessageKindTool, toolContent, true); err != nil {
			return
		}
	}
	statusContent, _ := json.Marshal(map[string]bool{"agent_should_terminate": state.TerminateRequested})
	_, _ = rp.store.AddMessage(ctx, rp.threadID, agent.MessageKindStatus, statusContent, false)
}

// findNextClosedElement returns the first fully-balanced top-level
// element in buf starting at or after from: an opening tag whose matching
// close tag has also arrived, with the byte span covering both. A
// self-closing tag (<x/>) at stack depth 0 counts as closed immediately.
// Mismatched or unclosed tags are tolerated the same way xml_parser.go's
// extractXMLFragment is: best effort, never a hard parse error here
// (Parse() on the extracted fragment is what can fail).
//
// found is false when the buffer has no more tags, or the next tag opened
// hasn't been closed yet (still streaming); callers should try again after
// the next chunk.
func findNextClosedElement(buf string, from int) (start, end int, tagName string, found bool) {
	type frame struct {
		name  string
		start int
	}
	var stack []frame
	i := from
	for i < len(buf) {
		lt := strings.IndexByte(buf[i:], '<')
		if lt < 0 {
			return 0, 0, "", false
		}
		pos := i + lt
		gt := strings.IndexByte(buf[pos:], '>')
		if gt < 0 {
			return 0, 0, "", false
		}
		tagEnd := pos + gt + 1
		tagContent := buf[pos+1 : pos+gt]

		if strings.HasPrefix(tagContent, "/") {
			name := strings.TrimSpace(tagContent[1:])
			if len(stack) > 0 && stack[len(stack)-1].name == name {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					return top.start, tagEnd, top.name, true
				}
			}
			i = tagEnd
			continue
		}

		selfClosing := strings.HasSuffix(tagContent, "/")
		body := tagContent
		if selfClosing {
			body = strings.TrimSuffix(body, "/")
		}
		nameEnd := strings.IndexAny(body, " \t\n")
		name := body
		if nameEnd >= 0 {
			name = body[:nameEnd]
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "?") || strings.HasPrefix(name, "!") {
			i = tagEnd
			continue
		}

		if selfClosing {
			if len(stack) == 0 {
				return pos, tagEnd, name, true
			}
			i = tagEnd
			continue
		}

		stack = append(stack, frame{name: name, start: pos})
		i = tagEnd
	}
	return 0, 0, "", false
}
