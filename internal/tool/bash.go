package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const cancelPollInterval = 100 * time.Millisecond
const gracefulShutdownWait = 2 * time.Second

// BashTool executes shell commands
func BashTool() *ToolDef {
	return &ToolDef{
		Name:        "bash",
		Description: "Execute a shell command in the project directory. Default timeout: 120s.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The shell command to execute",
				},
				"timeout": map[string]interface{}{
					"type":        "integer",
					"description": "Timeout in seconds (default: 120)",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Brief description of what the command does",
				},
			},
			"required": []string{"command"},
		},
		Execute: func(ctx context.Context, tc *ToolContext, input map[string]interface{}) (*ToolResult, error) {
			command, _ := input["command"].(string)
			if command == "" {
				return &ToolResult{Output: "Error: command is required", IsError: true}, nil
			}

			timeoutSecs := 120
			if v, ok := input["timeout"].(float64); ok && v > 0 {
				timeoutSecs = int(v)
			}

			workDir := tc.WorkDir
			if workDir == "" {
				workDir = "."
			}

			timeout := time.Duration(timeoutSecs) * time.Second
			cmdCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(cmdCtx, "bash", "-c", command)
			cmd.Dir, _ = filepath.Abs(workDir)
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			if err := cmd.Start(); err != nil {
				return &ToolResult{Output: fmt.Sprintf("Failed to start command: %v", err), IsError: true}, nil
			}

			done := make(chan error, 1)
			go func() { done <- cmd.Wait() }()

			interrupted := false
			ticker := time.NewTicker(cancelPollInterval)
			defer ticker.Stop()

		wait:
			for {
				select {
				case err := <-done:
					output := collectOutput(stdout.String(), stderr.String())
					return finish(err, cmdCtx, interrupted, timeoutSecs, output)
				case <-ticker.C:
					aborted := tc.Abort != nil && tc.Abort.Err() != nil
					signalled := tc.Cancel != nil && tc.Cancel.Cancelled()
					if (aborted || signalled) && !interrupted {
						interrupted = true
						terminateProcessGroup(cmd)
						break wait
					}
				}
			}

			// User aborted: grace period for SIGTERM, then SIGKILL.
			select {
			case err := <-done:
				output := collectOutput(stdout.String(), stderr.String())
				return finish(err, cmdCtx, interrupted, timeoutSecs, output)
			case <-time.After(gracefulShutdownWait):
				killProcessGroup(cmd)
				<-done
				neg1 := -1
				return &ToolResult{
					Output:   "Command interrupted by user",
					IsError:  true,
					ExitCode: &neg1,
				}, nil
			}
		},
	}
}

func collectOutput(stdout, stderr string) string {
	output := stdout
	if stderr != "" {
		output += "\n" + stderr
	}
	if len(output) > 30*1024 {
		output = output[:15*1024] + "\n\n... (output truncated) ...\n\n" + output[len(output)-15*1024:]
	}
	return output
}

func finish(err error, cmdCtx context.Context, interrupted bool, timeoutSecs int, output string) (*ToolResult, error) {
	if interrupted {
		neg1 := -1
		return &ToolResult{
			Output:   "Command interrupted by user",
			IsError:  true,
			ExitCode: &neg1,
		}, nil
	}
	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return &ToolResult{
				Output:  fmt.Sprintf("Command timed out after %d seconds.\nPartial output:\n%s", timeoutSecs, output),
				IsError: true,
			}, nil
		}
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &ToolResult{
			Output:  fmt.Sprintf("Command failed (exit code %d):\n%s", exitCode, output),
			IsError: true,
		}, nil
	}
	if strings.TrimSpace(output) == "" {
		output = "(no output)"
	}
	return &ToolResult{Output: output}, nil
}

// terminateProcessGroup sends SIGTERM to the whole process group so shell
// children started by the command are asked to exit too.
func terminateProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// killProcessGroup forcibly reaps a process group that ignored SIGTERM.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
