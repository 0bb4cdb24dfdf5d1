package sandbox

import (
	"context"
	"fmt"
	"os"
	"time"
)

// BackendType selects which SandboxProvider backend a Descriptor belongs to.
type BackendType string

const (
	BackendTypeLocal   BackendType = "local"
	BackendTypeManaged BackendType = "managed"
)

// State is the lifecycle state of a sandbox container/instance.
// Transitions: absent -> created -> running -> stopped -> removed.
// created and stopped both recover to running via restart; removed is terminal.
type State string

const (
	StateAbsent  State = "absent"
	StateCreated State = "created"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateRemoved State = "removed"
)

// Descriptor is the persisted record of a project's sandbox container or
// managed instance. Callers (the agent driver, via its ThreadStore) own
// storage of this value; Provider only reads and returns it.
type Descriptor struct {
	Type         BackendType       `json:"type"`
	ID           string            `json:"id"`
	State        State             `json:"state"`
	VNCEndpoint  string            `json:"vnc_endpoint,omitempty"`
	WebEndpoint  string            `json:"web_endpoint,omitempty"`
	VNCPassword  string            `json:"vnc_password,omitempty"`
	HostPortMap  map[int]int       `json:"host_port_map,omitempty"`
	Bootstrapped bool              `json:"bootstrapped"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Well-known ports the sandbox image exposes.
const (
	PortVNC = 6080
	PortWeb = 8080
)

// FileInfo describes one entry returned by Handle.List.
type FileInfo struct {
	Name    string
	Path    string
	IsDir   bool
	Size    int64
	Mode    string
	ModTime time.Time
}

// Handle exposes the filesystem and process-execution primitives a tool
// needs against a running sandbox. A Handle is bound to one Descriptor for
// its lifetime; callers obtain one from Provider.Ensure or Provider.Create.
type Handle interface {
	Descriptor() Descriptor

	Upload(ctx context.Context, path string, data []byte) error
	List(ctx context.Context, path string) ([]FileInfo, error)
	Mkdir(ctx context.Context, path string, perm os.FileMode) error
	Chmod(ctx context.Context, path string, perm os.FileMode) error
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) ([]byte, error)

	// Exec runs cmd in the sandbox. workdir defaults to /workspace when
	// empty; timeout <= 0 means no deadline beyond ctx's own.
	Exec(ctx context.Context, cmd string, workdir string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)

	// PreviewLink returns a reachable URL for a port exposed by the
	// sandbox, or ok=false if the backend has no preview routing for it.
	PreviewLink(containerPort int) (url string, ok bool)
}

// Provider is the pluggable sandbox backend abstraction. Exactly one
// concrete implementation per configured SANDBOX_TYPE backs the process;
// AgentDriver and tools only ever see this interface.
type Provider interface {
	// Ensure resolves descriptor (previously created for projectID) into a
	// running Handle: starts it if stopped, returns it unchanged if already
	// running. Idempotent. Returns ErrSandboxNotFound if descriptor is nil,
	// ErrSandboxUnavailable if the backend client cannot be initialized.
	Ensure(ctx context.Context, projectID string, descriptor *Descriptor) (Handle, error)

	// Create starts a new sandbox for projectID with the given VNC password
	// and image, returning the Handle and the Descriptor the caller must
	// persist. Maps PortVNC and PortWeb to host ports.
	Create(ctx context.Context, projectID, password, image string) (Handle, *Descriptor, error)

	// Remove stops and deletes the sandbox named by descriptor. Idempotent:
	// a nil or already-removed descriptor is a no-op success.
	Remove(ctx context.Context, projectID string, descriptor *Descriptor) (bool, error)
}

// Sentinel errors for the sandbox failure model. None of these are
// retried inside a Provider; callers decide.
var (
	// ErrSandboxUnavailable means the backend client could not be
	// initialized. Every operation returns it without retry within the
	// call; each new top-level call re-attempts initialization.
	ErrSandboxUnavailable = fmt.Errorf("sandbox backend unavailable")

	// ErrSandboxNotFound means Ensure was called with no descriptor, or a
	// descriptor naming a container the backend no longer has.
	ErrSandboxNotFound = fmt.Errorf("sandbox not found")
)

// ExecFailedError reports a non-zero exit from a Handle.Exec call whose
// caller treats failure as a typed error rather than inspecting exitCode.
type ExecFailedError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecFailedError) Error() string {
	return fmt.Sprintf("exec failed (exit %d): %s", e.ExitCode, e.Stderr)
}

// UploadFailedError reports a failed Handle.Upload/Mkdir/Chmod call.
type UploadFailedError struct {
	Path  string
	Cause error
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("upload failed for %s: %v", e.Path, e.Cause)
}

func (e *UploadFailedError) Unwrap() error { return e.Cause }

// handleCtxKey is the context.Context key a Handle is stashed under for
// the duration of one tool execution. Instead of a bespoke struct
// threaded through every Tool.Execute signature, the executing
// goroutine's ctx carries it and a tool retrieves it with FromContext.
type handleCtxKeyType struct{}

var handleCtxKey = handleCtxKeyType{}

// WithHandle returns a context carrying h, for a tool invoked during this
// call to retrieve via FromContext.
func WithHandle(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, handleCtxKey, h)
}

// FromContext retrieves the Handle stashed by WithHandle, if any.
func FromContext(ctx context.Context) (Handle, bool) {
	h, ok := ctx.Value(handleCtxKey).(Handle)
	return h, ok
}
