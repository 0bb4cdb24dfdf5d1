package sandbox

import (
	"context"
	"errors"
	"testing"
)

func TestDaytonaProvider_UnconfiguredIsUnavailableNotCached(t *testing.T) {
	t.Setenv("DAYTONA_API_KEY", "")
	t.Setenv("DAYTONA_JWT_TOKEN", "")

	provider := NewDaytonaProvider(DaytonaConfig{})
	descriptor := &Descriptor{Type: BackendTypeManaged, ID: "sbx-1", State: StateStopped}

	if _, err := provider.Ensure(context.Background(), "proj-1", descriptor); !errors.Is(err, ErrSandboxUnavailable) {
		t.Fatalf("expected ErrSandboxUnavailable, got %v", err)
	}

	// Each new top-level call re-attempts initialization: once the
	// credentials appear, the same provider value succeeds without a
	// process restart.
	t.Setenv("DAYTONA_API_KEY", "key-appeared-later")
	if _, err := provider.ensureClient(); err != nil {
		t.Fatalf("expected client init to succeed after reconfiguration, got %v", err)
	}
}

func TestDaytonaProvider_EnsureNilDescriptor(t *testing.T) {
	provider := NewDaytonaProvider(DaytonaConfig{APIKey: "k", APIURL: "https://daytona.example"})
	if _, err := provider.Ensure(context.Background(), "proj-1", nil); !errors.Is(err, ErrSandboxNotFound) {
		t.Fatalf("expected ErrSandboxNotFound for nil descriptor, got %v", err)
	}
}
