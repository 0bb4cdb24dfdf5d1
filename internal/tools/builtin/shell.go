// Package builtin holds the sandbox-backed tools every agent run gets by
// default: shell execution, workspace file manipulation, and browser
// automation. Each tool resolves its sandbox Handle from the execution
// context rather than holding a reference to any runtime component.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/tools/sandbox"
)

const defaultShellTimeout = 60 * time.Second

// ShellTool runs a command line inside the project sandbox.
type ShellTool struct{}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Execute a shell command inside the project sandbox. The working directory defaults to /workspace."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Command line to execute"},
			"workdir": {"type": "string", "description": "Working directory (defaults to /workspace)"},
			"timeout_seconds": {"type": "integer", "description": "Max seconds to wait (default 60)"}
		},
		"required": ["command"]
	}`)
}

type shellParams struct {
	Command        string `json:"command"`
	Workdir        string `json:"workdir"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p shellParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(p.Command) == "" {
		return &agent.ToolResult{Content: "command is required", IsError: true}, nil
	}

	handle, ok := sandbox.FromContext(ctx)
	if !ok {
		return &agent.ToolResult{Content: "no sandbox available for this project", IsError: true}, nil
	}

	timeout := defaultShellTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}

	stdout, stderr, exitCode, err := handle.Exec(ctx, p.Command, p.Workdir, timeout)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("exec failed: %v", err), IsError: true}, nil
	}

	var out strings.Builder
	out.WriteString(stdout)
	if stderr != "" {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString("stderr: ")
		out.WriteString(stderr)
	}
	if exitCode != 0 {
		return &agent.ToolResult{
			Content: fmt.Sprintf("exit code %d\n%s", exitCode, out.String()),
			IsError: true,
		}, nil
	}
	return &agent.ToolResult{Content: out.String()}, nil
}

var _ agent.Tool = (*ShellTool)(nil)
