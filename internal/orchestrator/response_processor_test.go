package orchestrator

import (
	"context"
	"testing"

	"github.com/arcflow/agentcore/internal/agent"
)

func chunkChan(texts ...string) <-chan *agent.CompletionChunk {
	ch := make(chan *agent.CompletionChunk, len(texts)+1)
	for _, t := range texts {
		ch <- &agent.CompletionChunk{Text: t}
	}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch
}

func TestResponseProcessor_ExecutesToolAndPersistsInOrder(t *testing.T) {
	registry := agent.NewToolRegistry()
	tool := &echoTool{name: "shell_exec"}
	registry.Register(tool)
	executor := agent.NewToolExecutor(registry, agent.ToolExecConfig{})
	store := newFakeStore()
	parser := agent.NewToolInvocationParser(registry)

	rp := NewResponseProcessor(parser, executor, store, "thread-1", ResponseProcessorConfig{ExecuteOnStream: true})

	chunks := chunkChan(`Let me run that. <function_calls><invoke name="shell_exec"><parameter name="cmd">ls</parameter></invoke></function_calls>`)
	events := make(chan StreamEvent, 64)
	state := &IterationState{}

	rp.Run(context.Background(), chunks, events, state)
	close(events)

	var sawToolCall, sawToolResult bool
	for ev := range events {
		if ev.Type == EventToolCall {
			sawToolCall = true
		}
		if ev.Type == EventToolResult {
			sawToolResult = true
			if ev.IsError {
				t.Errorf("unexpected tool error: %s", ev.ToolOutput)
			}
		}
	}
	if !sawToolCall || !sawToolResult {
		t.Fatalf("expected both tool_call and tool_result events")
	}
	if tool.calls != 1 {
		t.Fatalf("expected 1 tool invocation, got %d", tool.calls)
	}
	if state.LastToolName != "shell_exec" {
		t.Errorf("LastToolName = %q", state.LastToolName)
	}

	history, _ := store.History(context.Background(), "thread-1", 0)
	if len(history) != 3 {
		t.Fatalf("expected assistant+tool+status messages, got %d", len(history))
	}
	if history[0].Kind != agent.MessageKindAssistant {
		t.Errorf("first persisted message kind = %s, want assistant", history[0].Kind)
	}
	if history[1].Kind != agent.MessageKindTool {
		t.Errorf("second persisted message kind = %s, want tool", history[1].Kind)
	}
	if history[2].Kind != agent.MessageKindStatus {
		t.Errorf("third persisted message kind = %s, want status", history[2].Kind)
	}
}

func TestResponseProcessor_TerminatorPreemptsLaterToolCalls(t *testing.T) {
	registry := agent.NewToolRegistry()
	tool := &echoTool{name: "shell_exec"}
	registry.Register(tool)
	executor := agent.NewToolExecutor(registry, agent.ToolExecConfig{})
	store := newFakeStore()
	parser := agent.NewToolInvocationParser(registry)

	rp := NewResponseProcessor(parser, executor, store, "thread-2", ResponseProcessorConfig{ExecuteOnStream: true})

	// A <complete> terminator closes before a later tool invocation;
	// nothing after the terminator may schedule.
	text := `<complete></complete><function_calls><invoke name="shell_exec"><parameter name="cmd">ls</parameter></invoke></function_calls>`
	chunks := chunkChan(text)
	events := make(chan StreamEvent, 64)
	state := &IterationState{}

	rp.Run(context.Background(), chunks, events, state)
	close(events)
	for range events {
	}

	if !state.TerminateRequested {
		t.Fatalf("expected TerminateRequested")
	}
	if tool.calls != 0 {
		t.Fatalf("expected no tool calls scheduled after terminator, got %d", tool.calls)
	}
}

func TestResponseProcessor_MaxToolCallsCapDiscardsExcess(t *testing.T) {
	registry := agent.NewToolRegistry()
	tool := &echoTool{name: "noop"}
	registry.Register(tool)
	executor := agent.NewToolExecutor(registry, agent.ToolExecConfig{})
	store := newFakeStore()
	parser := agent.NewToolInvocationParser(registry)

	rp := NewResponseProcessor(parser, executor, store, "thread-3", ResponseProcessorConfig{ExecuteOnStream: true, MaxToolCalls: 2})

	var text string
	for i := 0; i < 5; i++ {
		text += `<function_calls><invoke name="noop"><parameter name="i">x</parameter></invoke></function_calls>`
	}
	chunks := chunkChan(text)
	events := make(chan StreamEvent, 64)
	state := &IterationState{}

	rp.Run(context.Background(), chunks, events, state)
	close(events)

	var capWarning bool
	for ev := range events {
		if ev.Type == EventStatus && ev.Status == "max_tool_calls_exceeded" {
			capWarning = true
		}
	}
	if !capWarning {
		t.Errorf("expected a max_tool_calls_exceeded status event")
	}
	if tool.calls != 2 {
		t.Fatalf("expected exactly 2 tool invocations under the cap, got %d", tool.calls)
	}
}

func TestResponseProcessor_SingleBlockOverCapWarnsAndTruncates(t *testing.T) {
	registry := agent.NewToolRegistry()
	tool := &echoTool{name: "noop"}
	registry.Register(tool)
	executor := agent.NewToolExecutor(registry, agent.ToolExecConfig{})
	store := newFakeStore()
	parser := agent.NewToolInvocationParser(registry)

	rp := NewResponseProcessor(parser, executor, store, "thread-3b", ResponseProcessorConfig{ExecuteOnStream: true})

	// Twelve invokes inside ONE <function_calls> block: the parser itself
	// truncates at its cap, and that discard must still surface a warning.
	text := `<function_calls>`
	for i := 0; i < 12; i++ {
		text += `<invoke name="noop"><parameter name="i">x</parameter></invoke>`
	}
	text += `</function_calls>`

	events := make(chan StreamEvent, 64)
	state := &IterationState{}
	rp.Run(context.Background(), chunkChan(text), events, state)
	close(events)

	var capWarning bool
	var results int
	for ev := range events {
		if ev.Type == EventStatus && ev.Status == "max_tool_calls_exceeded" {
			capWarning = true
		}
		if ev.Type == EventToolResult {
			results++
		}
	}
	if !capWarning {
		t.Error("expected a max_tool_calls_exceeded status for a single over-cap block")
	}
	if results != agent.MaxParsedToolCalls {
		t.Fatalf("expected %d tool results, got %d", agent.MaxParsedToolCalls, results)
	}
	if tool.calls != agent.MaxParsedToolCalls {
		t.Fatalf("expected %d invocations, got %d", agent.MaxParsedToolCalls, tool.calls)
	}
}

func TestResponseProcessor_StreamErrorSetsErrorFlagged(t *testing.T) {
	registry := agent.NewToolRegistry()
	executor := agent.NewToolExecutor(registry, agent.ToolExecConfig{})
	store := newFakeStore()
	parser := agent.NewToolInvocationParser(registry)

	rp := NewResponseProcessor(parser, executor, store, "thread-4", ResponseProcessorConfig{})

	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: "partial"}
	ch <- &agent.CompletionChunk{Error: context.DeadlineExceeded}
	close(ch)

	events := make(chan StreamEvent, 16)
	state := &IterationState{}
	rp.Run(context.Background(), ch, events, state)
	close(events)

	var sawError bool
	for ev := range events {
		if ev.Type == EventError {
			sawError = true
		}
	}
	if !sawError || !state.ErrorFlagged {
		t.Fatalf("expected error event and ErrorFlagged, got sawError=%v ErrorFlagged=%v", sawError, state.ErrorFlagged)
	}
}

func TestResponseProcessor_DeferredExecutionRunsAtEndOfStream(t *testing.T) {
	registry := agent.NewToolRegistry()
	tool := &echoTool{name: "noop"}
	registry.Register(tool)
	executor := agent.NewToolExecutor(registry, agent.ToolExecConfig{})
	store := newFakeStore()
	parser := agent.NewToolInvocationParser(registry)

	// ExecuteOnStream false: calls are parsed but not run until drain.
	rp := NewResponseProcessor(parser, executor, store, "thread-5", ResponseProcessorConfig{ExecuteOnStream: false})

	text := `<function_calls><invoke name="noop"><parameter name="i">1</parameter></invoke></function_calls>`
	chunks := chunkChan(text)
	events := make(chan StreamEvent, 16)
	state := &IterationState{}

	rp.Run(context.Background(), chunks, events, state)
	close(events)
	for range events {
	}

	if tool.calls != 1 {
		t.Fatalf("expected deferred tool call to run once at drain, got %d", tool.calls)
	}
}
