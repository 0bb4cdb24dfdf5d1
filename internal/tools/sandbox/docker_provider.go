package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// managedByLabel and projectLabel mark every container this provider owns,
// so Ensure/Remove never touch a container it didn't create.
const (
	managedByLabel = "managed_by"
	managedByValue = "agent_runtime"
	projectLabel   = "project_id"

	defaultWorkspaceDir = "/workspace"
)

// DockerConfig configures the local container-runtime SandboxProvider.
type DockerConfig struct {
	// Host is the Docker daemon endpoint. Empty uses the client's
	// environment-derived default (DOCKER_HOST or the local socket).
	Host string

	// NetworkMode attaches containers to a named Docker network instead of
	// the default bridge. Empty uses the daemon default.
	NetworkMode string

	// VNCHostPort and WebHostPort pin the host-side port mappings. Zero
	// picks a free ephemeral port per container.
	VNCHostPort int
	WebHostPort int
}

// DockerProvider is the local-container-runtime SandboxProvider backend.
// It lazily initializes a process-wide Docker client under a mutex:
// the first successful init is cached and reused; a failed init is
// re-attempted on the next top-level call, never retried within one.
type DockerProvider struct {
	cfg DockerConfig

	mu     sync.Mutex
	client *client.Client
}

// NewDockerProvider constructs a DockerProvider. The daemon connection is
// not established until the first Ensure/Create/Remove call.
func NewDockerProvider(cfg DockerConfig) *DockerProvider {
	return &DockerProvider{cfg: cfg}
}

func (p *DockerProvider) ensureClient() (*client.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if p.cfg.Host != "" {
		opts = append(opts, client.WithHost(p.cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, ErrSandboxUnavailable
	}
	p.client = cli
	return cli, nil
}

func (p *DockerProvider) Ensure(ctx context.Context, projectID string, descriptor *Descriptor) (Handle, error) {
	if descriptor == nil {
		return nil, ErrSandboxNotFound
	}
	cli, err := p.ensureClient()
	if err != nil {
		return nil, err
	}

	info, err := cli.ContainerInspect(ctx, descriptor.ID)
	if err != nil {
		return nil, ErrSandboxNotFound
	}

	if !info.State.Running {
		if err := cli.ContainerStart(ctx, descriptor.ID, container.StartOptions{}); err != nil {
			return nil, fmt.Errorf("start container %s: %w", descriptor.ID, err)
		}
	}

	updated := *descriptor
	updated.State = StateRunning
	handle := &dockerHandle{provider: p, descriptor: updated}
	if err := handle.bootstrapOnce(ctx); err != nil {
		return nil, err
	}
	return handle, nil
}

func (p *DockerProvider) Create(ctx context.Context, projectID, password, image string) (Handle, *Descriptor, error) {
	cli, err := p.ensureClient()
	if err != nil {
		return nil, nil, err
	}

	hostVNCPort := p.cfg.VNCHostPort
	if hostVNCPort == 0 {
		hostVNCPort, err = freeHostPort()
		if err != nil {
			return nil, nil, fmt.Errorf("allocate vnc port: %w", err)
		}
	}
	hostWebPort := p.cfg.WebHostPort
	if hostWebPort == 0 {
		hostWebPort, err = freeHostPort()
		if err != nil {
			return nil, nil, fmt.Errorf("allocate web port: %w", err)
		}
	}

	vncPort := nat.Port(fmt.Sprintf("%d/tcp", PortVNC))
	webPort := nat.Port(fmt.Sprintf("%d/tcp", PortWeb))

	containerCfg := &container.Config{
		Image: image,
		Env: []string{
			"VNC_PASSWORD=" + password,
			"RESOLUTION=1024x768x24",
			"CHROME_PERSISTENT_SESSION=true",
			"ANONYMIZED_TELEMETRY=false",
		},
		Labels: map[string]string{
			managedByLabel: managedByValue,
			projectLabel:   projectID,
		},
		ExposedPorts: nat.PortSet{
			vncPort: {},
			webPort: {},
		},
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			vncPort: {{HostIP: "127.0.0.1", HostPort: strconv.Itoa(hostVNCPort)}},
			webPort: {{HostIP: "127.0.0.1", HostPort: strconv.Itoa(hostWebPort)}},
		},
	}
	if p.cfg.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(p.cfg.NetworkMode)
	}

	name := fmt.Sprintf("agent-sandbox-%s", projectID)
	created, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return nil, nil, fmt.Errorf("create container: %w", err)
	}

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, nil, fmt.Errorf("start container %s: %w", created.ID, err)
	}

	descriptor := &Descriptor{
		Type:        BackendTypeLocal,
		ID:          created.ID,
		State:       StateRunning,
		VNCEndpoint: fmt.Sprintf("http://127.0.0.1:%d", hostVNCPort),
		WebEndpoint: fmt.Sprintf("http://127.0.0.1:%d", hostWebPort),
		VNCPassword: password,
		HostPortMap: map[int]int{
			PortVNC: hostVNCPort,
			PortWeb: hostWebPort,
		},
	}

	handle := &dockerHandle{provider: p, descriptor: *descriptor}
	if err := handle.bootstrapOnce(ctx); err != nil {
		return nil, nil, err
	}
	descriptor.Bootstrapped = true
	return handle, descriptor, nil
}

func (p *DockerProvider) Remove(ctx context.Context, projectID string, descriptor *Descriptor) (bool, error) {
	if descriptor == nil || descriptor.State == StateRemoved || descriptor.State == StateAbsent {
		return true, nil
	}
	cli, err := p.ensureClient()
	if err != nil {
		return false, err
	}

	_ = cli.ContainerStop(ctx, descriptor.ID, container.StopOptions{})
	if err := cli.ContainerRemove(ctx, descriptor.ID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return true, nil
		}
		return false, fmt.Errorf("remove container %s: %w", descriptor.ID, err)
	}
	return true, nil
}

// dockerHandle implements Handle against one container on the local
// runtime. Filesystem uploads use tar archives over the runtime API;
// exec uses the runtime's exec API with demultiplexed streams.
type dockerHandle struct {
	provider   *DockerProvider
	descriptor Descriptor

	bootOnce sync.Once
	bootErr  error
}

func (h *dockerHandle) Descriptor() Descriptor { return h.descriptor }

// bootstrapOnce starts supervisord inside the container exactly once per
// fresh Handle, matching the sandbox image contract (create_session +
// execute_session_command, run lazily after container boot).
func (h *dockerHandle) bootstrapOnce(ctx context.Context) error {
	if h.descriptor.Bootstrapped {
		return nil
	}
	h.bootOnce.Do(func() {
		_, _, _, err := h.Exec(ctx, "supervisord -c /etc/supervisor/supervisord.conf -n >/tmp/supervisord.log 2>&1 &", "", 10*time.Second)
		h.bootErr = err
	})
	return h.bootErr
}

func (h *dockerHandle) Upload(ctx context.Context, filePath string, data []byte) error {
	cli, err := h.provider.ensureClient()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: strings.TrimPrefix(filePath, "/"),
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return &UploadFailedError{Path: filePath, Cause: err}
	}
	if _, err := tw.Write(data); err != nil {
		return &UploadFailedError{Path: filePath, Cause: err}
	}
	if err := tw.Close(); err != nil {
		return &UploadFailedError{Path: filePath, Cause: err}
	}

	if err := cli.CopyToContainer(ctx, h.descriptor.ID, "/", &buf, container.CopyToContainerOptions{}); err != nil {
		return &UploadFailedError{Path: filePath, Cause: err}
	}
	return nil
}

func (h *dockerHandle) Mkdir(ctx context.Context, dirPath string, perm os.FileMode) error {
	cmd := fmt.Sprintf("mkdir -p %s && chmod %o %s", shellQuote(dirPath), perm, shellQuote(dirPath))
	_, stderr, exitCode, err := h.Exec(ctx, cmd, "", 15*time.Second)
	if err != nil {
		return &UploadFailedError{Path: dirPath, Cause: err}
	}
	if exitCode != 0 {
		return &UploadFailedError{Path: dirPath, Cause: &ExecFailedError{ExitCode: exitCode, Stderr: stderr}}
	}
	return nil
}

func (h *dockerHandle) Chmod(ctx context.Context, filePath string, perm os.FileMode) error {
	cmd := fmt.Sprintf("chmod %o %s", perm, shellQuote(filePath))
	_, stderr, exitCode, err := h.Exec(ctx, cmd, "", 15*time.Second)
	if err != nil {
		return &UploadFailedError{Path: filePath, Cause: err}
	}
	if exitCode != 0 {
		return &UploadFailedError{Path: filePath, Cause: &ExecFailedError{ExitCode: exitCode, Stderr: stderr}}
	}
	return nil
}

func (h *dockerHandle) Exists(ctx context.Context, filePath string) (bool, error) {
	_, _, exitCode, err := h.Exec(ctx, fmt.Sprintf("test -e %s", shellQuote(filePath)), "", 10*time.Second)
	if err != nil {
		return false, err
	}
	return exitCode == 0, nil
}

func (h *dockerHandle) Read(ctx context.Context, filePath string) ([]byte, error) {
	cli, err := h.provider.ensureClient()
	if err != nil {
		return nil, err
	}
	reader, _, err := cli.CopyFromContainer(ctx, h.descriptor.ID, filePath)
	if err != nil {
		return nil, &UploadFailedError{Path: filePath, Cause: err}
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	if _, err := tr.Next(); err != nil {
		return nil, &UploadFailedError{Path: filePath, Cause: err}
	}
	return io.ReadAll(tr)
}

// List parses a long-form directory listing ("ls -la"); directories and
// files are distinguished by the first permissions character.
func (h *dockerHandle) List(ctx context.Context, dirPath string) ([]FileInfo, error) {
	stdout, stderr, exitCode, err := h.Exec(ctx, fmt.Sprintf("ls -la %s", shellQuote(dirPath)), "", 10*time.Second)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, &ExecFailedError{ExitCode: exitCode, Stderr: stderr}
	}

	var entries []FileInfo
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		entries = append(entries, FileInfo{
			Name:  name,
			Path:  path.Join(dirPath, name),
			IsDir: strings.HasPrefix(fields[0], "d"),
			Size:  size,
			Mode:  fields[0],
		})
	}
	return entries, nil
}

func (h *dockerHandle) Exec(ctx context.Context, cmd string, workdir string, timeout time.Duration) (string, string, int, error) {
	cli, err := h.provider.ensureClient()
	if err != nil {
		return "", "", -1, err
	}
	if workdir == "" {
		workdir = defaultWorkspaceDir
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", cmd},
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := cli.ContainerExecCreate(ctx, h.descriptor.ID, execCfg)
	if err != nil {
		return "", "", -1, fmt.Errorf("exec create: %w", err)
	}

	attach, err := cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", -1, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return "", "", -1, fmt.Errorf("exec demux: %w", err)
	}

	inspect, err := cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return stdout.String(), stderr.String(), -1, fmt.Errorf("exec inspect: %w", err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), -1, ctx.Err()
	}
	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

func (h *dockerHandle) PreviewLink(containerPort int) (string, bool) {
	hostPort, ok := h.descriptor.HostPortMap[containerPort]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("http://127.0.0.1:%d", hostPort), true
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func freeHostPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
