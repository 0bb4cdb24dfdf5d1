package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	apiclient "github.com/daytonaio/daytona/libs/api-client-go"
	toolbox "github.com/daytonaio/daytona/libs/toolbox-api-client-go"
)

// DaytonaProvider is the managed-remote-service SandboxProvider backend.
// It reuses daytonaClient's lazy-init/proxy-cache machinery from the
// one-shot code executor, generalized to a persistent
// create/ensure/remove-per-project lifecycle with a long-lived container
// per project rather than a delete-after-run sandbox.
type DaytonaProvider struct {
	cfg DaytonaConfig

	mu     sync.Mutex
	client *daytonaClient
}

// NewDaytonaProvider constructs a DaytonaProvider. The API client is not
// built until the first Ensure/Create/Remove call.
func NewDaytonaProvider(cfg DaytonaConfig) *DaytonaProvider {
	return &DaytonaProvider{cfg: cfg}
}

func (p *DaytonaProvider) ensureClient() (*daytonaClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	resolved, err := resolveDaytonaConfig(&p.cfg)
	if err != nil {
		return nil, ErrSandboxUnavailable
	}
	client, err := newDaytonaClient(resolved)
	if err != nil {
		return nil, ErrSandboxUnavailable
	}
	p.client = client
	return client, nil
}

func (p *DaytonaProvider) Ensure(ctx context.Context, projectID string, descriptor *Descriptor) (Handle, error) {
	if descriptor == nil {
		return nil, ErrSandboxNotFound
	}
	client, err := p.ensureClient()
	if err != nil {
		return nil, err
	}

	sandbox, httpResp, err := client.apiClient.SandboxAPI.GetSandbox(client.authContext(ctx), descriptor.ID).Execute()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxNotFound, formatAPIError(err, httpResp))
	}

	switch sandbox.GetState() {
	case apiclient.SANDBOXSTATE_STOPPED:
		if _, httpResp, err := client.apiClient.SandboxAPI.StartSandbox(client.authContext(ctx), descriptor.ID).Execute(); err != nil {
			return nil, fmt.Errorf("start sandbox %s: %w", descriptor.ID, formatAPIError(err, httpResp))
		}
	case apiclient.SANDBOXSTATE_STARTED:
		// already running; Ensure is idempotent.
	default:
		return nil, fmt.Errorf("%w: sandbox %s in state %s", ErrSandboxUnavailable, descriptor.ID, sandbox.GetState())
	}

	updated := *descriptor
	updated.State = StateRunning
	handle := &daytonaHandle{provider: p, client: client, descriptor: updated}
	if err := handle.bootstrapOnce(ctx); err != nil {
		return nil, err
	}
	return handle, nil
}

func (p *DaytonaProvider) Create(ctx context.Context, projectID, password, image string) (Handle, *Descriptor, error) {
	client, err := p.ensureClient()
	if err != nil {
		return nil, nil, err
	}

	createReq := apiclient.NewCreateSandbox()
	createReq.SetName(fmt.Sprintf("agent-sandbox-%s", projectID))
	if client.target != "" {
		createReq.SetTarget(client.target)
	}
	if image != "" {
		createReq.SetBuildInfo(apiclient.CreateBuildInfo{DockerfileContent: fmt.Sprintf("FROM %s", image)})
	} else if p.cfg.Snapshot != "" {
		createReq.SetSnapshot(p.cfg.Snapshot)
	}
	createReq.SetEnv(map[string]string{
		"VNC_PASSWORD":              password,
		"RESOLUTION":                "1024x768x24",
		"CHROME_PERSISTENT_SESSION": "true",
		"ANONYMIZED_TELEMETRY":      "false",
	})

	sandbox, httpResp, err := client.apiClient.SandboxAPI.CreateSandbox(client.authContext(ctx)).CreateSandbox(*createReq).Execute()
	if err != nil {
		return nil, nil, fmt.Errorf("create sandbox: %w", formatAPIError(err, httpResp))
	}
	if err := p.waitUntilStarted(ctx, client, sandbox.GetId()); err != nil {
		return nil, nil, err
	}

	descriptor := &Descriptor{
		Type:        BackendTypeManaged,
		ID:          sandbox.GetId(),
		State:       StateRunning,
		VNCPassword: password,
		HostPortMap: map[int]int{PortVNC: PortVNC, PortWeb: PortWeb},
	}

	handle := &daytonaHandle{provider: p, client: client, descriptor: *descriptor}
	if err := handle.bootstrapOnce(ctx); err != nil {
		return nil, nil, err
	}
	descriptor.Bootstrapped = true

	vncURL, err := client.getToolboxProxyURL(ctx, descriptor.ID, fmt.Sprintf("%d", PortVNC))
	if err == nil {
		descriptor.VNCEndpoint = vncURL
	}
	webURL, err := client.getToolboxProxyURL(ctx, descriptor.ID, fmt.Sprintf("%d", PortWeb))
	if err == nil {
		descriptor.WebEndpoint = webURL
	}
	handle.descriptor = *descriptor

	return handle, descriptor, nil
}

func (p *DaytonaProvider) waitUntilStarted(ctx context.Context, client *daytonaClient, sandboxID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		sandbox, httpResp, err := client.apiClient.SandboxAPI.GetSandbox(client.authContext(ctx), sandboxID).Execute()
		if err != nil {
			return fmt.Errorf("sandbox status: %w", formatAPIError(err, httpResp))
		}
		switch sandbox.GetState() {
		case apiclient.SANDBOXSTATE_STARTED:
			return nil
		case apiclient.SANDBOXSTATE_ERROR, apiclient.SANDBOXSTATE_BUILD_FAILED, apiclient.SANDBOXSTATE_DESTROYED:
			return fmt.Errorf("sandbox failed: %s", sandbox.GetState())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *DaytonaProvider) Remove(ctx context.Context, projectID string, descriptor *Descriptor) (bool, error) {
	if descriptor == nil || descriptor.State == StateRemoved || descriptor.State == StateAbsent {
		return true, nil
	}
	client, err := p.ensureClient()
	if err != nil {
		return false, err
	}
	if _, _, err := client.apiClient.SandboxAPI.DeleteSandbox(client.authContext(ctx), descriptor.ID).Execute(); err != nil {
		return false, fmt.Errorf("delete sandbox %s: %w", descriptor.ID, err)
	}
	return true, nil
}

// daytonaHandle implements Handle against one managed sandbox instance via
// its toolbox API (filesystem + process execution).
type daytonaHandle struct {
	provider   *DaytonaProvider
	client     *daytonaClient
	descriptor Descriptor

	bootOnce sync.Once
	bootErr  error
}

func (h *daytonaHandle) Descriptor() Descriptor { return h.descriptor }

func (h *daytonaHandle) toolbox(ctx context.Context) (*toolbox.APIClient, error) {
	return h.client.toolboxClient(ctx, h.descriptor.ID, "")
}

// bootstrapOnce runs the supervisord session bootstrap once per fresh
// Handle, matching the sandbox image's create_session + execute_session_command
// contract.
func (h *daytonaHandle) bootstrapOnce(ctx context.Context) error {
	if h.descriptor.Bootstrapped {
		return nil
	}
	h.bootOnce.Do(func() {
		_, _, _, err := h.Exec(ctx, "supervisord -c /etc/supervisor/supervisord.conf -n >/tmp/supervisord.log 2>&1 &", "", 10*time.Second)
		h.bootErr = err
	})
	return h.bootErr
}

func (h *daytonaHandle) Upload(ctx context.Context, path string, data []byte) error {
	tb, err := h.toolbox(ctx)
	if err != nil {
		return &UploadFailedError{Path: path, Cause: err}
	}
	f, err := os.CreateTemp("", "daytona-upload-*")
	if err != nil {
		return &UploadFailedError{Path: path, Cause: err}
	}
	defer os.Remove(f.Name())
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return &UploadFailedError{Path: path, Cause: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return &UploadFailedError{Path: path, Cause: err}
	}
	_, httpResp, err := tb.FileSystemAPI.UploadFile(ctx).Path(path).File(f).Execute()
	if err != nil {
		return &UploadFailedError{Path: path, Cause: formatToolboxError(err, httpResp)}
	}
	return nil
}

func (h *daytonaHandle) Mkdir(ctx context.Context, dirPath string, perm os.FileMode) error {
	tb, err := h.toolbox(ctx)
	if err != nil {
		return &UploadFailedError{Path: dirPath, Cause: err}
	}
	mode := fmt.Sprintf("0%o", perm.Perm())
	if httpResp, err := tb.FileSystemAPI.CreateFolder(ctx).Path(dirPath).Mode(mode).Execute(); err != nil {
		if httpResp == nil || httpResp.StatusCode != 409 {
			return &UploadFailedError{Path: dirPath, Cause: formatToolboxError(err, httpResp)}
		}
	}
	return nil
}

func (h *daytonaHandle) Chmod(ctx context.Context, path string, perm os.FileMode) error {
	tb, err := h.toolbox(ctx)
	if err != nil {
		return &UploadFailedError{Path: path, Cause: err}
	}
	mode := fmt.Sprintf("0%o", perm.Perm())
	if httpResp, err := tb.FileSystemAPI.SetFilePermissions(ctx).Path(path).Mode(mode).Execute(); err != nil {
		return &UploadFailedError{Path: path, Cause: formatToolboxError(err, httpResp)}
	}
	return nil
}

func (h *daytonaHandle) Exists(ctx context.Context, path string) (bool, error) {
	tb, err := h.toolbox(ctx)
	if err != nil {
		return false, err
	}
	_, httpResp, err := tb.FileSystemAPI.GetFileInfo(ctx).Path(path).Execute()
	if err != nil {
		if httpResp != nil && httpResp.StatusCode == 404 {
			return false, nil
		}
		return false, formatToolboxError(err, httpResp)
	}
	return true, nil
}

func (h *daytonaHandle) Read(ctx context.Context, path string) ([]byte, error) {
	tb, err := h.toolbox(ctx)
	if err != nil {
		return nil, err
	}
	reader, httpResp, err := tb.FileSystemAPI.DownloadFile(ctx).Path(path).Execute()
	if err != nil {
		return nil, &UploadFailedError{Path: path, Cause: formatToolboxError(err, httpResp)}
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (h *daytonaHandle) List(ctx context.Context, dirPath string) ([]FileInfo, error) {
	tb, err := h.toolbox(ctx)
	if err != nil {
		return nil, err
	}
	entries, httpResp, err := tb.FileSystemAPI.ListFiles(ctx).Path(dirPath).Execute()
	if err != nil {
		return nil, formatToolboxError(err, httpResp)
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		name := e.GetName()
		out = append(out, FileInfo{
			Name:  name,
			Path:  strings.TrimRight(dirPath, "/") + "/" + name,
			IsDir: e.GetIsDir(),
			Size:  int64(e.GetSize()),
			Mode:  e.GetPermissions(),
		})
	}
	return out, nil
}

func (h *daytonaHandle) Exec(ctx context.Context, cmd string, workdir string, timeout time.Duration) (string, string, int, error) {
	tb, err := h.toolbox(ctx)
	if err != nil {
		return "", "", -1, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	execReq := toolbox.NewExecuteRequest(cmd)
	if workdir != "" {
		execReq.SetCwd(workdir)
	}
	if timeout > 0 {
		execReq.SetTimeout(int32(timeout.Seconds()))
	}

	resp, httpResp, err := tb.ProcessAPI.ExecuteCommand(ctx).Request(*execReq).Execute()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", "", -1, ctx.Err()
		}
		return "", "", -1, fmt.Errorf("exec: %w", formatToolboxError(err, httpResp))
	}

	exitCode := 0
	if resp.ExitCode != nil {
		exitCode = int(*resp.ExitCode)
	}
	return resp.Result, "", exitCode, nil
}

func (h *daytonaHandle) PreviewLink(containerPort int) (string, bool) {
	switch containerPort {
	case PortVNC:
		if h.descriptor.VNCEndpoint != "" {
			return h.descriptor.VNCEndpoint, true
		}
	case PortWeb:
		if h.descriptor.WebEndpoint != "" {
			return h.descriptor.WebEndpoint, true
		}
	}
	return "", false
}

// byteReader adapts a []byte to the io.Reader the toolbox upload API wants,
// without requiring a temp file on disk the way the one-shot executor's
// uploadWorkspace does for whole directories.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
