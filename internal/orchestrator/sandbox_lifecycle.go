package orchestrator

import (
	"context"
	"fmt"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/tools/sandbox"
)

// EnsureProjectSandbox guarantees projectID has a running sandbox,
// creating one if the project has none yet, and persists the resulting
// descriptor through store.SetSandbox. This is the only path that should
// ever call sandbox.Provider.Create, which keeps "at most one sandbox per
// project" an invariant of this function rather than something every
// caller has to remember.
func EnsureProjectSandbox(ctx context.Context, provider sandbox.Provider, store agent.ThreadStore, projectID, vncPassword, image string) (sandbox.Handle, error) {
	project, err := store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	if project.Sandbox != nil {
		handle, err := provider.Ensure(ctx, projectID, toSandboxDescriptor(project.Sandbox))
		if err != nil {
			return nil, err
		}
		if err := store.SetSandbox(ctx, projectID, fromSandboxDescriptor(ptr(handle.Descriptor()))); err != nil {
			return nil, fmt.Errorf("persist sandbox descriptor: %w", err)
		}
		return handle, nil
	}

	handle, descriptor, err := provider.Create(ctx, projectID, vncPassword, image)
	if err != nil {
		return nil, err
	}
	if err := store.SetSandbox(ctx, projectID, fromSandboxDescriptor(descriptor)); err != nil {
		return nil, fmt.Errorf("persist sandbox descriptor: %w", err)
	}
	return handle, nil
}

// RemoveProjectSandbox tears down projectID's sandbox, if any, and clears
// the stored descriptor. Idempotent: a project with no sandbox is a no-op.
func RemoveProjectSandbox(ctx context.Context, provider sandbox.Provider, store agent.ThreadStore, projectID string) error {
	project, err := store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("get project: %w", err)
	}
	if project.Sandbox == nil {
		return nil
	}
	if _, err := provider.Remove(ctx, projectID, toSandboxDescriptor(project.Sandbox)); err != nil {
		return err
	}
	return store.SetSandbox(ctx, projectID, nil)
}

func ptr[T any](v T) *T { return &v }
