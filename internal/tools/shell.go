package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	shellTimeout   = 120 * time.Second
	maxOutputBytes = 64 * 1024
)

// Dangerous command patterns denied regardless of workspace restriction.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\bchmod\s+[0-7]{3,4}\s+/`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\bcrontab\b`),
}

// ShellExecTool runs a shell command inside the workspace. Child processes
// are tied to the call's context and killed when it ends.
type ShellExecTool struct {
	workspace string
}

func NewShellExecTool(workspace string) *ShellExecTool {
	return &ShellExecTool{workspace: workspace}
}

func (t *ShellExecTool) Name() string        { return "shell_exec" }
func (t *ShellExecTool) Description() string { return "Execute a shell command in the workspace" }
func (t *ShellExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command := stringArg(args, "command")
	if command == "" {
		// The model often puts the command straight into action_input.
		command = stringArg(args, "input")
	}
	if command == "" {
		return ErrorResult("command is required")
	}

	for _, p := range denyPatterns {
		if p.MatchString(command) {
			slog.Warn("denied shell command", "pattern", p.String())
			return ErrorResult("command denied by safety policy")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	out := stdout.String()
	if stderr.Len() > 0 {
		out += "\n" + stderr.String()
	}
	out = strings.TrimSpace(out)
	if len(out) > maxOutputBytes {
		out = out[:maxOutputBytes] + "\n... (truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s", shellTimeout))
	}
	if err != nil {
		if out == "" {
			out = err.Error()
		}
		return ErrorResult(out).WithError(err)
	}
	if out == "" {
		out = "(no output)"
	}
	return SilentResult(out)
}
