package orchestrator

import (
	"context"
	"fmt"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/pkg/models"
)

// RunThreadRequest is the input to ThreadManager.RunThread.
type RunThreadRequest struct {
	ThreadID    string
	Model       string
	AgentConfig *models.Agent
	MaxTokens   int
	Config      ResponseProcessorConfig
}

// ThreadManager is the single entry point that turns a thread_id plus
// run configuration into an LLM completion call and a processed event
// stream. It owns a ToolRegistry/ToolExecutor for the call's lifetime
// rather than holding one globally, so a caller running several threads
// concurrently with different tool sets never shares registries between
// them.
type ThreadManager struct {
	provider agent.LLMProvider
	registry *agent.ToolRegistry
	executor *agent.ToolExecutor
	store    agent.ThreadStore
	builder  *ContextBuilder
}

// NewThreadManager constructs a ThreadManager bound to one run's provider,
// tool registry/executor, store, and context-building configuration.
func NewThreadManager(provider agent.LLMProvider, registry *agent.ToolRegistry, executor *agent.ToolExecutor, store agent.ThreadStore, contextCfg ContextBuilderConfig) *ThreadManager {
	return &ThreadManager{
		provider: provider,
		registry: registry,
		executor: executor,
		store:    store,
		builder:  NewContextBuilder(store, registry, contextCfg),
	}
}

// RunThread assembles context (via ContextBuilder), issues one streaming
// LLM call, and hands the resulting chunk stream to a fresh
// ResponseProcessor. temporaryMessage, if non-nil, overrides the ephemeral
// turn message ContextBuilder would otherwise build itself (the
// AgentDriver builds its own so it can inspect the result before the
// call; direct callers of ThreadManager can leave it nil and
// let ContextBuilder build one from the thread's latest browser_state/
// image_context messages).
//
// The returned IterationState must only be read after the returned
// channel has been fully drained and observed closed.
func (tm *ThreadManager) RunThread(ctx context.Context, req RunThreadRequest, temporaryMessage *agent.CompletionMessage) (<-chan StreamEvent, *IterationState, error) {
	built, err := tm.builder.Build(ctx, req.ThreadID, req.Model, req.AgentConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("build context: %w", err)
	}

	messages := built.Messages
	turn := temporaryMessage
	if turn == nil {
		turn = built.TemporaryMessage
	}
	if turn != nil {
		messages = append(messages, *turn)
	}

	completionReq := &agent.CompletionRequest{
		Model:     req.Model,
		System:    built.System,
		Messages:  messages,
		Tools:     tm.registry.AsLLMTools(),
		MaxTokens: req.MaxTokens,
	}

	chunks, err := tm.provider.Complete(ctx, completionReq)
	if err != nil {
		return nil, nil, agent.NewAgentError(agent.KindLLMStreamError, req.ThreadID, err)
	}

	parser := agent.NewToolInvocationParser(tm.registry)
	rp := NewResponseProcessor(parser, tm.executor, tm.store, req.ThreadID, req.Config)

	state := &IterationState{}
	events := make(chan StreamEvent, 32)
	go func() {
		defer close(events)
		rp.Run(ctx, chunks, events, state)
	}()

	return events, state, nil
}
