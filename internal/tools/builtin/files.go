package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/tools/sandbox"
)

// workspacePath confines a tool-supplied path to /workspace. Relative
// paths are joined under it; absolute paths must already be inside it.
func workspacePath(p string) (string, error) {
	cleaned := path.Clean(p)
	if !path.IsAbs(cleaned) {
		cleaned = path.Join("/workspace", cleaned)
	}
	if cleaned != "/workspace" && !strings.HasPrefix(cleaned, "/workspace/") {
		return "", fmt.Errorf("path %q is outside /workspace", p)
	}
	return cleaned, nil
}

// CreateFileTool writes a file into the sandbox workspace.
type CreateFileTool struct{}

func (t *CreateFileTool) Name() string { return "create_file" }

func (t *CreateFileTool) Description() string {
	return "Create or overwrite a file in the sandbox workspace with the given content."
}

func (t *CreateFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to /workspace"},
			"content": {"type": "string", "description": "Full file content"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *CreateFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	target, err := workspacePath(p.Path)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	handle, ok := sandbox.FromContext(ctx)
	if !ok {
		return &agent.ToolResult{Content: "no sandbox available for this project", IsError: true}, nil
	}
	if dir := path.Dir(target); dir != "/workspace" {
		if err := handle.Mkdir(ctx, dir, 0o755); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("mkdir %s: %v", dir, err), IsError: true}, nil
		}
	}
	if err := handle.Upload(ctx, target, []byte(p.Content)); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("upload %s: %v", target, err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(p.Content), target)}, nil
}

// ReadFileTool reads a file from the sandbox workspace.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the sandbox workspace."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to /workspace"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	target, err := workspacePath(p.Path)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	handle, ok := sandbox.FromContext(ctx)
	if !ok {
		return &agent.ToolResult{Content: "no sandbox available for this project", IsError: true}, nil
	}
	data, err := handle.Read(ctx, target)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("read %s: %v", target, err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

// ListDirTool lists a workspace directory.
type ListDirTool struct{}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a directory in the sandbox workspace."
}

func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory path, relative to /workspace (defaults to /workspace)"}
		}
	}`)
}

func (t *ListDirTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
		}
	}
	if p.Path == "" {
		p.Path = "/workspace"
	}
	target, err := workspacePath(p.Path)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	handle, ok := sandbox.FromContext(ctx)
	if !ok {
		return &agent.ToolResult{Content: "no sandbox available for this project", IsError: true}, nil
	}
	entries, err := handle.List(ctx, target)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("list %s: %v", target, err), IsError: true}, nil
	}

	var out strings.Builder
	for _, entry := range entries {
		kind := "file"
		if entry.IsDir {
			kind = "dir"
		}
		fmt.Fprintf(&out, "%s\t%s\t%d\n", kind, entry.Name, entry.Size)
	}
	if out.Len() == 0 {
		return &agent.ToolResult{Content: "(empty)"}, nil
	}
	return &agent.ToolResult{Content: out.String()}, nil
}

var (
	_ agent.Tool = (*CreateFileTool)(nil)
	_ agent.Tool = (*ReadFileTool)(nil)
	_ agent.Tool = (*ListDirTool)(nil)
)
