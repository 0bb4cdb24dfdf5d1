package observability

import (
	"context"
	"testing"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("run_id", func(t *testing.T) {
		ctx = AddRunID(ctx, "run-123")
		if got := GetRunID(ctx); got != "run-123" {
			t.Errorf("expected 'run-123', got %s", got)
		}
	})

	t.Run("tool_call_id", func(t *testing.T) {
		ctx = AddToolCallID(ctx, "tool-456")
		if got := GetToolCallID(ctx); got != "tool-456" {
			t.Errorf("expected 'tool-456', got %s", got)
		}
	})

	t.Run("missing values", func(t *testing.T) {
		empty := context.Background()
		if got := GetRunID(empty); got != "" {
			t.Errorf("expected empty run id, got %s", got)
		}
		if got := GetToolCallID(empty); got != "" {
			t.Errorf("expected empty tool call id, got %s", got)
		}
	})
}
