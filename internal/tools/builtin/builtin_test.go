package builtin

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/media"
	"github.com/arcflow/agentcore/internal/observability"
	"github.com/arcflow/agentcore/internal/threads"
	"github.com/arcflow/agentcore/internal/tools/sandbox"
)

// scriptedHandle is a sandbox.Handle whose Exec/fs calls replay canned
// responses and record what they were asked.
type scriptedHandle struct {
	execStdout string
	execStderr string
	execExit   int

	lastCmd    string
	uploads    map[string][]byte
	mkdirs     []string
	reads      map[string][]byte
	listResult []sandbox.FileInfo
}

func newScriptedHandle() *scriptedHandle {
	return &scriptedHandle{
		uploads: map[string][]byte{},
		reads:   map[string][]byte{},
	}
}

func (h *scriptedHandle) Descriptor() sandbox.Descriptor { return sandbox.Descriptor{} }
func (h *scriptedHandle) Upload(ctx context.Context, path string, data []byte) error {
	h.uploads[path] = data
	return nil
}
func (h *scriptedHandle) List(ctx context.Context, path string) ([]sandbox.FileInfo, error) {
	return h.listResult, nil
}
func (h *scriptedHandle) Mkdir(ctx context.Context, path string, perm os.FileMode) error {
	h.mkdirs = append(h.mkdirs, path)
	return nil
}
func (h *scriptedHandle) Chmod(ctx context.Context, path string, perm os.FileMode) error { return nil }
func (h *scriptedHandle) Exists(ctx context.Context, path string) (bool, error)          { return false, nil }
func (h *scriptedHandle) Read(ctx context.Context, path string) ([]byte, error) {
	return h.reads[path], nil
}
func (h *scriptedHandle) Exec(ctx context.Context, cmd, workdir string, timeout time.Duration) (string, string, int, error) {
	h.lastCmd = cmd
	return h.execStdout, h.execStderr, h.execExit, nil
}
func (h *scriptedHandle) PreviewLink(containerPort int) (string, bool) { return "", false }

func ctxWithHandle(h sandbox.Handle) context.Context {
	return sandbox.WithHandle(context.Background(), h)
}

func TestShellTool_Success(t *testing.T) {
	handle := newScriptedHandle()
	handle.execStdout = "a.txt\nb.txt"

	tool := &ShellTool{}
	result, err := tool.Execute(ctxWithHandle(handle), json.RawMessage(`{"command":"ls /tmp"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "a.txt\nb.txt" {
		t.Fatalf("unexpected output %q", result.Content)
	}
	if handle.lastCmd != "ls /tmp" {
		t.Fatalf("unexpected command %q", handle.lastCmd)
	}
}

func TestShellTool_NonZeroExitIsErrorResult(t *testing.T) {
	handle := newScriptedHandle()
	handle.execExit = 2
	handle.execStderr = "no such file"

	tool := &ShellTool{}
	result, err := tool.Execute(ctxWithHandle(handle), json.RawMessage(`{"command":"cat /missing"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for non-zero exit")
	}
	if !strings.Contains(result.Content, "exit code 2") {
		t.Fatalf("expected exit code in content, got %q", result.Content)
	}
}

func TestShellTool_NoSandbox(t *testing.T) {
	tool := &ShellTool{}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"ls"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result without sandbox handle")
	}
}

func TestCreateFileTool_WritesUnderWorkspace(t *testing.T) {
	handle := newScriptedHandle()
	tool := &CreateFileTool{}

	result, err := tool.Execute(ctxWithHandle(handle), json.RawMessage(`{"path":"notes/a.txt","content":"hi"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if string(handle.uploads["/workspace/notes/a.txt"]) != "hi" {
		t.Fatalf("upload missing: %+v", handle.uploads)
	}
	if len(handle.mkdirs) != 1 || handle.mkdirs[0] != "/workspace/notes" {
		t.Fatalf("expected parent mkdir, got %v", handle.mkdirs)
	}
}

func TestCreateFileTool_RejectsEscape(t *testing.T) {
	tool := &CreateFileTool{}
	result, err := tool.Execute(ctxWithHandle(newScriptedHandle()), json.RawMessage(`{"path":"../../etc/passwd","content":"x"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for path escaping /workspace")
	}
}

func TestReadFileTool(t *testing.T) {
	handle := newScriptedHandle()
	handle.reads["/workspace/a.txt"] = []byte("contents")

	tool := &ReadFileTool{}
	result, err := tool.Execute(ctxWithHandle(handle), json.RawMessage(`{"path":"a.txt"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.Content != "contents" {
		t.Fatalf("unexpected content %q", result.Content)
	}
}

func TestListDirTool_DefaultsToWorkspace(t *testing.T) {
	handle := newScriptedHandle()
	handle.listResult = []sandbox.FileInfo{
		{Name: "src", IsDir: true},
		{Name: "main.go", Size: 120},
	}

	tool := &ListDirTool{}
	result, err := tool.Execute(ctxWithHandle(handle), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !strings.Contains(result.Content, "dir\tsrc") || !strings.Contains(result.Content, "file\tmain.go") {
		t.Fatalf("unexpected listing %q", result.Content)
	}
}

func TestBrowserTool_PersistsBrowserState(t *testing.T) {
	handle := newScriptedHandle()
	handle.execStdout = `{"message":"navigated","url":"https://example.com","title":"Example"}`

	store := threads.NewMemoryStore()
	tool := NewBrowserTool(media.NewBrowserStateIngestor(store, nil))

	ctx := observability.AddSessionID(ctxWithHandle(handle), "thread-1")
	result, err := tool.Execute(ctx, json.RawMessage(`{"action":"navigate","url":"https://example.com"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, "https://example.com") {
		t.Fatalf("expected url in summary, got %q", result.Content)
	}
	if !strings.Contains(handle.lastCmd, "curl") || !strings.Contains(handle.lastCmd, "api/automation/navigate") {
		t.Fatalf("expected curl against automation API, got %q", handle.lastCmd)
	}

	latest, err := store.GetLatestMessage(context.Background(), "thread-1", []agent.MessageKind{agent.MessageKindBrowserState})
	if err != nil {
		t.Fatalf("GetLatestMessage error: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a persisted browser_state message")
	}
}

func TestBrowserTool_BadJSONIsErrorResult(t *testing.T) {
	handle := newScriptedHandle()
	handle.execStdout = "<html>502 Bad Gateway</html>"

	tool := NewBrowserTool(nil)
	result, err := tool.Execute(ctxWithHandle(handle), json.RawMessage(`{"action":"navigate"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for non-JSON automation response")
	}
}
