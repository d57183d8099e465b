package tools

import (
	"context"
	"time"

	"AgentEngine/pkg/engine/api"
	"AgentEngine/pkg/engine/shellsvc"
)

// ShellRunTool dispatches onto the repo's persistent Shell Service rather
// than a one-shot exec.CommandContext: state a command leaves behind (cwd,
// exported vars) persists across calls, and the combined output the
// framing protocol recovers is reported as this tool's single "stdout"
// field.
type ShellRunTool struct {
	BaseTool
	svc *shellsvc.Service
}

// NewShellRunTool wires the tool to svc, the Shell Service instance for one
// repo root.
func NewShellRunTool(svc *shellsvc.Service) *ShellRunTool {
	return &ShellRunTool{
		BaseTool: NewBaseTool(
			"shell_run",
			"Run a shell command in the persistent repo shell and return its combined output, exit code, and duration.",
			[]ParameterDef{
				{Name: "command", Type: "string", Description: "Shell command to run", Required: true},
				{Name: "timeout_ms", Type: "integer", Description: "Optional timeout in milliseconds (default 60000)", Required: false},
			},
			api.RiskHigh,
		),
		svc: svc,
	}
}

func (t *ShellRunTool) ApprovalPolicy() ApprovalPolicy { return PolicyShell }

func (t *ShellRunTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	command := GetStringArg(args, "command", "")
	if command == "" {
		return toolErrorf("command is required"), nil
	}
	timeoutMs := GetIntArg(args, "timeout_ms", 0)
	timeout := time.Duration(timeoutMs) * time.Millisecond

	result, err := t.svc.Run(ctx, command, timeout)
	if err != nil {
		return toolError(err), nil
	}
	return successResult(result.Stdout, map[string]any{
		"stdout":     result.Stdout,
		"exitCode":   result.ExitCode,
		"durationMs": result.DurationMs,
	}), nil
}
