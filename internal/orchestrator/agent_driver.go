package orchestrator

import (
	"context"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/observability"
	"github.com/arcflow/agentcore/internal/tools/sandbox"
	"github.com/arcflow/agentcore/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// DriverConfig is the per-run configuration AgentDriver.Run is given.
type DriverConfig struct {
	Model       string
	AgentConfig *models.Agent
	MaxTokens   int

	// MaxIterations hard-caps the outer loop. <= 0 defaults to 100.
	MaxIterations int

	// Stream, when true, forwards thought/tool_call/tool_result events to
	// the caller as they happen. When false, the caller only sees the
	// terminal error/final_response/status event for the whole run.
	Stream bool

	ResponseProcessor ResponseProcessorConfig
}

const defaultMaxIterations = 100

// AgentDriver is the outer loop that, per iteration, gates on billing,
// checks whether the thread already ended on an assistant turn, builds the
// ephemeral per-turn message, ensures the project's sandbox is running,
// and drives one ThreadManager.RunThread call, continuing until a
// terminator tag closes, an error is flagged, or MaxIterations is reached.
//
// Built on runtime.go's top-level Run loop and thread.go's
// AgentIterationState, generalized from a single completion call into a
// multi-iteration thread-resident loop with sandbox lifecycle and billing
// gating interleaved.
type AgentDriver struct {
	threadManager  *ThreadManager
	store          agent.ThreadStore
	billing        agent.BillingService
	sandbox        sandbox.Provider
	contextBuilder *ContextBuilder
	tracer         *observability.Tracer
	metrics        *observability.Metrics
}

// NewAgentDriver constructs an AgentDriver. sandboxProvider may be nil if
// no tool in this deployment needs sandbox access (ctx is then never
// stamped with a Handle). tracer and metrics may both be nil; every call
// site below is a nil-check away from a no-op.
func NewAgentDriver(threadManager *ThreadManager, store agent.ThreadStore, billing agent.BillingService, sandboxProvider sandbox.Provider, tracer *observability.Tracer, metrics *observability.Metrics) *AgentDriver {
	return &AgentDriver{
		threadManager:  threadManager,
		store:          store,
		billing:        billing,
		sandbox:        sandboxProvider,
		contextBuilder: NewContextBuilder(store, nil, ContextBuilderConfig{}),
		tracer:         tracer,
		metrics:        metrics,
	}
}

// Run starts the iteration loop in a goroutine and returns its event
// stream. The stream is closed when the loop exits for any reason.
func (d *AgentDriver) Run(ctx context.Context, threadID, projectID string, cfg DriverConfig) <-chan StreamEvent {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	out := make(chan StreamEvent, 32)
	go func() {
		defer close(out)
		d.loop(ctx, threadID, projectID, cfg, maxIter, out)
	}()
	return out
}

func (d *AgentDriver) loop(ctx context.Context, threadID, projectID string, cfg DriverConfig, maxIter int, out chan<- StreamEvent) {
	project, err := d.store.GetProject(ctx, projectID)
	if err != nil {
		out <- StreamEvent{Type: EventError, Message: err.Error()}
		return
	}

	for iter := 0; iter < maxIter; iter++ {
		if ctx.Err() != nil {
			return
		}
		if d.runIteration(ctx, threadID, projectID, project, cfg, iter, out) {
			return
		}
	}
	// MaxIterations reached without a terminator: a natural exit, not an
	// error.
}

// runIteration runs one pass of the loop and reports whether the driver
// should stop (terminator seen, error flagged, billing denied, or the
// thread already ended on an assistant turn).
func (d *AgentDriver) runIteration(parentCtx context.Context, threadID, projectID string, project *agent.Project, cfg DriverConfig, iter int, out chan<- StreamEvent) (stop bool) {
	iterCtx := observability.AddSessionID(parentCtx, threadID)
	var span trace.Span
	if d.tracer != nil {
		iterCtx, span = d.tracer.Start(iterCtx, "agent.iteration")
		d.tracer.SetAttributes(span, "thread_id", threadID, "project_id", projectID, "iteration", iter)
		defer span.End()
	}

	status := "ok"
	if d.metrics != nil {
		defer func() { d.metrics.RecordRunAttempt(status) }()
	}
	fail := func(err error) bool {
		status = "error"
		if d.tracer != nil {
			d.tracer.RecordError(span, err)
		}
		if d.metrics != nil {
			d.metrics.RecordError("agent_driver", err.Error())
		}
		out <- StreamEvent{Type: EventError, Message: err.Error()}
		return true
	}

	canRun, billingMsg, _, err := d.billing.Check(iterCtx, project.AccountID)
	if err != nil {
		return fail(err)
	}
	if !canRun {
		status = "billing_denied"
		out <- StreamEvent{Type: EventStatus, Status: "billing_stopped", Message: billingMsg}
		return true
	}

	last, err := d.store.GetLatestMessage(iterCtx, threadID, []agent.MessageKind{agent.MessageKindAssistant, agent.MessageKindTool, agent.MessageKindUser})
	if err != nil {
		return fail(err)
	}
	if last != nil && last.Kind == agent.MessageKindAssistant {
		// Natural exit: the thread already ended on an assistant turn
		// with no pending user input to react to.
		return true
	}

	turnMessage, err := d.contextBuilder.BuildTemporaryMessage(iterCtx, threadID)
	if err != nil {
		return fail(err)
	}

	if d.sandbox != nil && project.Sandbox != nil {
		handle, err := d.sandbox.Ensure(iterCtx, projectID, toSandboxDescriptor(project.Sandbox))
		if err == nil {
			iterCtx = sandbox.WithHandle(iterCtx, handle)
		}
		// Ensure failing here doesn't abort the iteration: a tool that
		// actually needs the sandbox surfaces SandboxUnavailable itself
		// as a failed tool_result the model can react to.
	}

	events, state, err := d.threadManager.RunThread(iterCtx, RunThreadRequest{
		ThreadID:    threadID,
		Model:       cfg.Model,
		AgentConfig: cfg.AgentConfig,
		MaxTokens:   cfg.MaxTokens,
		Config:      cfg.ResponseProcessor,
	}, turnMessage)
	if err != nil {
		return fail(err)
	}

	if cfg.Stream {
		for ev := range events {
			out <- ev
		}
	} else {
		for range events {
		}
	}

	if state.ErrorFlagged {
		status = "error"
		out <- StreamEvent{Type: EventError, Message: "iteration failed while streaming the model response"}
		return true
	}
	if state.TerminateRequested {
		out <- StreamEvent{Type: EventFinalResponse, Content: state.AccumulatedAssistantText}
		return true
	}
	// Neither terminated nor errored: the caller loops for another
	// iteration. The agent never terminates mid-tool-execution;
	// RunThread already joined every scheduled tool call before
	// returning.
	return false
}

func toSandboxDescriptor(d *agent.SandboxDescriptor) *sandbox.Descriptor {
	if d == nil {
		return nil
	}
	return &sandbox.Descriptor{
		Type:         sandbox.BackendType(d.Type),
		ID:           d.ID,
		State:        sandbox.State(d.State),
		VNCEndpoint:  d.VNCEndpoint,
		WebEndpoint:  d.WebEndpoint,
		VNCPassword:  d.VNCPassword,
		HostPortMap:  d.HostPortMap,
		Bootstrapped: d.Bootstrapped,
		Metadata:     d.Metadata,
	}
}

func fromSandboxDescriptor(d *sandbox.Descriptor) *agent.SandboxDescriptor {
	if d == nil {
		return nil
	}
	return &agent.SandboxDescriptor{
		Type:         agent.SandboxType(d.Type),
		ID:           d.ID,
		State:        agent.SandboxState(d.State),
		VNCEndpoint:  d.VNCEndpoint,
		WebEndpoint:  d.WebEndpoint,
		VNCPassword:  d.VNCPassword,
		HostPortMap:  d.HostPortMap,
		Bootstrapped: d.Bootstrapped,
		Metadata:     d.Metadata,
	}
}
