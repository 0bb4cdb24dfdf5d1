package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/arcflow/agentcore/internal/observability"
	"github.com/arcflow/agentcore/internal/tools/policy"
	"github.com/arcflow/agentcore/pkg/models"
)

// ToolExecConfig configures tool execution behavior including concurrency,
// timeouts, and retry settings.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	MaxAttempts int

	// RetryBackoff waits between retries. Grows exponentially up to
	// MaxRetryBackoff when set; a single fixed wait otherwise.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps exponential backoff growth. If zero,
	// RetryBackoff is used as a fixed delay between attempts.
	MaxRetryBackoff time.Duration
}

// DefaultToolExecConfig returns sensible defaults for tool execution with
// 4 concurrent tools and 30 second timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
		RetryBackoff:   0,
	}
}

// ToolConfig holds per-tool configuration overrides layered on top of a
// ToolExecutor's default ToolExecConfig. A zero field means "use the
// executor default".
type ToolConfig struct {
	// Timeout overrides PerToolTimeout for this tool.
	Timeout time.Duration

	// MaxAttempts overrides the executor's MaxAttempts for this tool.
	MaxAttempts int

	// RetryBackoff overrides the executor's RetryBackoff for this tool.
	RetryBackoff time.Duration

	// Priority affects scheduling order when a caller sorts calls before
	// dispatch (higher runs first). Not enforced by the executor itself.
	Priority int
}

// ToolExecutor handles concurrent tool execution with timeouts, retry
// logic, per-tool overrides, and panic isolation. It never lets a tool
// failure or panic propagate out of Execute*, always returning a
// ToolResult instead.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig

	mu         sync.RWMutex
	toolConfig map[string]*ToolConfig

	guard         ToolResultGuard
	guardResolver *policy.Resolver

	metrics ExecutorMetrics
}

// NewToolExecutor creates a new tool executor with the given registry and configuration.
// Default values are applied if config fields are zero.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{
		registry:   registry,
		config:     config,
		toolConfig: make(map[string]*ToolConfig),
	}
}

// SetResultGuard installs a redaction/truncation guard applied to every
// result before it is returned to callers (and so before persistence).
// resolver may be nil; the guard then matches tool names literally.
func (e *ToolExecutor) SetResultGuard(guard ToolResultGuard, resolver *policy.Resolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guard = guard
	e.guardResolver = resolver
}

func (e *ToolExecutor) guardResult(toolName string, result models.ToolResult) models.ToolResult {
	e.mu.RLock()
	guard, resolver := e.guard, e.guardResolver
	e.mu.RUnlock()
	if !guard.active() {
		return result
	}
	return guard.Apply(toolName, result, resolver)
}

// ConfigureTool sets a per-tool override. Passing nil clears the override.
func (e *ToolExecutor) ConfigureTool(name string, config *ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if config == nil {
		delete(e.toolConfig, name)
		return
	}
	e.toolConfig[name] = config
}

func (e *ToolExecutor) configFor(name string) ToolExecConfig {
	e.mu.RLock()
	override, ok := e.toolConfig[name]
	e.mu.RUnlock()

	cfg := e.config
	if !ok || override == nil {
		return cfg
	}
	if override.Timeout > 0 {
		cfg.PerToolTimeout = override.Timeout
	}
	if override.MaxAttempts > 0 {
		cfg.MaxAttempts = override.MaxAttempts
	}
	if override.RetryBackoff > 0 {
		cfg.RetryBackoff = override.RetryBackoff
	}
	return cfg
}

// ExecutorMetrics tracks cumulative executor performance counters across
// every call this executor has dispatched.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// ExecutorMetricsSnapshot is a thread-safe copy of executor metrics at a point in time.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// Metrics returns a copy-safe snapshot of the executor's cumulative metrics.
func (e *ToolExecutor) Metrics() ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ToolExecResult contains the result of a tool execution including timing and timeout information.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// EventCallback is a non-blocking callback invoked for tool lifecycle events during execution.
type EventCallback func(*models.RuntimeEvent)

// ToolExecOverrideFunc resolves a per-call ToolExecConfig, letting a
// caller layer request-scoped overrides on top of an executor's
// configured defaults and per-tool config.
type ToolExecOverrideFunc func(call models.ToolCall) ToolExecConfig

// ExecuteConcurrently executes multiple tool calls with concurrency limits and timeouts.
// Results are returned in the same order as the input tool calls.
// The emit callback is called for lifecycle events (non-blocking, never blocks execution).
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, toolCalls []models.ToolCall, emit EventCallback) []ToolExecResult {
	return e.ExecuteConcurrentlyWithOverrides(ctx, toolCalls, emit, nil)
}

// ExecuteConcurrentlyWithOverrides is ExecuteConcurrently but lets the caller
// supply a resolver for per-call config overrides (timeout/attempts/backoff),
// taking priority over both the executor default and any ConfigureTool override.
func (e *ToolExecutor) ExecuteConcurrentlyWithOverrides(ctx context.Context, toolCalls []models.ToolCall, emit EventCallback, override ToolExecOverrideFunc) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ToolExecResult{
					Index:    idx,
					ToolCall: call,
					Result: models.ToolResult{
						ToolCallID: call.ID,
						Content:    "context canceled",
						IsError:    true,
					},
				}
				return
			}

			cfg := e.configFor(call.Name)
			if override != nil {
				cfg = override(call)
			}

			results[idx] = e.runWithRetry(ctx, idx, call, cfg, emit)
		}(i, tc)
	}

	wg.Wait()
	return results
}

func (e *ToolExecutor) runWithRetry(ctx context.Context, idx int, call models.ToolCall, cfg ToolExecConfig, emit EventCallback) ToolExecResult {
	startTime := time.Now()
	var result models.ToolResult
	var timedOut bool
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if emit != nil {
			emit(models.NewToolEvent(models.EventToolStarted, call.Name, call.ID).
				WithMeta("attempt", attempt))
		}

		toolCtx, cancel := context.WithTimeout(ctx, cfg.PerToolTimeout)
		toolCtx = observability.AddToolCallID(toolCtx, call.ID)
		result, timedOut = e.executeWithTimeout(toolCtx, call, cfg.PerToolTimeout)
		cancel()

		if attempt > 1 {
			e.metrics.mu.Lock()
			e.metrics.TotalRetries++
			e.metrics.mu.Unlock()
		}

		if !result.IsError {
			break
		}

		if attempt < maxAttempts {
			if emit != nil {
				eventType := models.EventToolFailed
				if timedOut {
					eventType = models.EventToolTimeout
				}
				emit(models.NewToolEvent(eventType, call.Name, call.ID).
					WithMeta("attempt", attempt).
					WithMeta("retrying", true))
			}
			backoff := retryBackoff(cfg, attempt)
			if backoff > 0 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					result = models.ToolResult{
						ToolCallID: call.ID,
						Content:    "tool execution canceled",
						IsError:    true,
					}
					attempt = maxAttempts
				}
			}
		}
	}

	endTime := time.Now()

	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	if result.IsError {
		e.metrics.TotalFailures++
		if timedOut {
			e.metrics.TotalTimeouts++
		}
	}
	e.metrics.mu.Unlock()

	if emit != nil {
		var eventType models.RuntimeEventType
		switch {
		case timedOut:
			eventType = models.EventToolTimeout
		case result.IsError:
			eventType = models.EventToolFailed
		default:
			eventType = models.EventToolCompleted
		}
		event := models.NewToolEvent(eventType, call.Name, call.ID)
		event.WithMeta("duration_ms", endTime.Sub(startTime).Milliseconds())
		emit(event)
	}

	return ToolExecResult{
		Index:     idx,
		ToolCall:  call,
		Result:    e.guardResult(call.Name, result),
		StartTime: startTime,
		EndTime:   endTime,
		TimedOut:  timedOut,
	}
}

// retryBackoff computes the delay before the next attempt, growing
// exponentially up to MaxRetryBackoff when set, otherwise a fixed delay.
func retryBackoff(cfg ToolExecConfig, attempt int) time.Duration {
	if cfg.RetryBackoff <= 0 {
		return 0
	}
	if cfg.MaxRetryBackoff <= 0 {
		return cfg.RetryBackoff
	}
	d := cfg.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if d > cfg.MaxRetryBackoff {
		d = cfg.MaxRetryBackoff
	}
	return d
}

// executeWithTimeout executes a single tool call with timeout handling and
// panic recovery; a panicking tool becomes a failed ToolResult, never a
// crash of the calling goroutine.
func (e *ToolExecutor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (models.ToolResult, bool) {
	type execResult struct {
		result *ToolResult
		err    error
	}

	resultChan := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				e.metrics.mu.Lock()
				e.metrics.TotalPanics++
				e.metrics.mu.Unlock()
				select {
				case resultChan <- execResult{err: fmt.Errorf("tool panic: %v\n%s", r, stack)}:
				default:
				}
			}
		}()

		result, err := e.registry.Execute(ctx, call.Name, call.Input)
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			runID := observability.GetRunID(ctx)
			sessionID := observability.GetSessionID(ctx)
			slog.Warn(
				"tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"run_id", runID,
				"session_id", sessionID,
			)
		}
	}()

	select {
	case <-ctx.Done():
		var content string
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			content = fmt.Sprintf("tool execution timed out after %v", timeout)
		} else {
			content = "tool execution canceled"
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    content,
			IsError:    true,
		}, errors.Is(ctx.Err(), context.DeadlineExceeded)
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    res.err.Error(),
				IsError:    true,
			}, false
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    res.result.Content,
			IsError:    res.result.IsError,
		}, false
	}
}

// ExecuteSequentially executes tool calls one at a time in order.
// Results are returned in the same order as the input calls.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	for i, tc := range toolCalls {
		cfg := e.configFor(tc.Name)
		results[i] = e.runWithRetry(ctx, i, tc, cfg, nil)
	}

	return results
}

// ExecuteSingle executes a single tool call by name with timeout and retry logic.
func (e *ToolExecutor) ExecuteSingle(ctx context.Context, name string, input json.RawMessage) (*ToolResult, error) {
	cfg := e.configFor(name)
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		toolCtx, cancel := context.WithTimeout(ctx, cfg.PerToolTimeout)
		result, err := e.registry.Execute(toolCtx, name, input)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			backoff := retryBackoff(cfg, attempt)
			if backoff > 0 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}
	return nil, lastErr
}

// ResultsToMessages converts tool execution results to the thread-message
// shape (ToolCallID/Content/IsError) suitable for conversation history.
func ResultsToMessages(results []ToolExecResult) []models.ToolResult {
	out := make([]models.ToolResult, len(results))
	for i, r := range results {
		out[i] = r.Result
	}
	return out
}

// AnyErrors returns true if any execution result is an error.
func AnyErrors(results []ToolExecResult) bool {
	for _, r := range results {
		if r.Result.IsError {
			return true
		}
	}
	return false
}

// AsJSON converts tool input to JSON if it is not already a json.RawMessage, []byte, or string.
func AsJSON(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
