package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

const ShellToolName = "shell"

// defaultShellTimeout bounds a single command run.
const defaultShellTimeout = 2 * time.Minute

// maxShellOutput caps captured output fed back to the model.
const maxShellOutput = 64 * 1024

// ShellTool runs a command through the system shell. Confirmation policy
// for shell commands lives in the gate config, not here.
type ShellTool struct {
	// Dir is the working directory for commands; empty means inherit.
	Dir string
	// Timeout overrides the default per-command timeout.
	Timeout time.Duration
}

func (t *ShellTool) Spec() Spec {
	return Spec{
		Name:        ShellToolName,
		Description: "Run a shell command and return its output and exit code.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command to run",
				},
				"timeout_secs": map[string]any{
					"type":        "integer",
					"description": "Optional timeout in seconds",
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) Result {
	command, ok := stringArg(args, "command")
	if !ok || command == "" {
		return Fail("shell: missing required argument: command")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	if secs, ok := intArg(args, "timeout_secs"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.Canceled) {
		return Result{Cancelled: true, Error: "command cancelled"}
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Fail("shell: %v", err)
		}
	}

	data := map[string]any{
		"stdout":    truncateOutput(stdout.String()),
		"stderr":    truncateOutput(stderr.String()),
		"exit_code": exitCode,
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		data["timed_out"] = true
	}
	return Result{Success: exitCode == 0, Data: data}
}

func truncateOutput(s string) string {
	if len(s) <= maxShellOutput {
		return s
	}
	return s[:maxShellOutput] + "\n[output truncated]"
}
