package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/aisopod/aisopod/pkg/sandbox"
)

// SandboxTool runs shell commands inside a disposable, resource-capped
// container rather than on the host. Registered in place of ExecTool when
// sandboxing is enabled for an agent.
type SandboxTool struct {
	executor *sandbox.Executor
}

// NewSandboxTool wraps an already-constructed sandbox executor as a tool.
func NewSandboxTool(executor *sandbox.Executor) *SandboxTool {
	return &SandboxTool{executor: executor}
}

func (t *SandboxTool) Name() string {
	return "bash"
}

func (t *SandboxTool) Description() string {
	return "Execute a shell command inside an isolated, resource-limited container and return its stdout/stderr."
}

func (t *SandboxTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (optional)",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Working directory for the command, relative to or within the sandbox workspace (optional)",
			},
			"env": map[string]any{
				"type":        "object",
				"description": "Additional environment variables (optional)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *SandboxTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return ErrorResult("command is required")
	}

	opts := sandbox.RunOneShotOptions{}

	if wd, ok := args["working_dir"].(string); ok && wd != "" {
		opts.WorkingDir = wd
	}

	if rawEnv, ok := args["env"].(map[string]any); ok && len(rawEnv) > 0 {
		env := make(map[string]string, len(rawEnv))
		for k, v := range rawEnv {
			env[k] = fmt.Sprintf("%v", v)
		}
		opts.Env = env
	}

	if te, ok := args["timeout"].(float64); ok && te > 0 {
		opts.Timeout = time.Duration(te) * time.Second
	}

	result, err := t.executor.RunOneShot(ctx, command, opts)
	if err != nil {
		return ErrorResult(fmt.Sprintf("sandbox execution failed: %v", err))
	}

	if result.TimedOut {
		return ErrorResult("command timed out in sandbox")
	}

	output := combineOutput(result.Stdout, result.Stderr)
	if result.ExitCode != 0 {
		return ErrorResult(fmt.Sprintf("Command failed with exit code %d\n%s", result.ExitCode, truncateOutput(output)))
	}

	output = truncateOutput(output)
	return &ToolResult{ForLLM: output, ForUser: output}
}
