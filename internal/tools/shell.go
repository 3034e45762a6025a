package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/sovereignclaw/internal/sandbox"
)

// Dangerous command patterns denied before the sandbox ever sees them.
// Defense-in-depth: these complement the container hardening (cap-drop
// ALL, read-only rootfs, no-new-privileges, pids/memory limits).
var defaultDenyPatterns = []*regexp.Regexp{
	// Destructive file operations
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--recursive`),
	regexp.MustCompile(`\brm\s+.*--force`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb

	// Data exfiltration
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),

	// Reverse shells
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),
	regexp.MustCompile(`\bmkfifo\b`),

	// Privilege escalation
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\bnsenter\b`),
	regexp.MustCompile(`\bunshare\b`),
	regexp.MustCompile(`\b(mount|umount)\b`),

	// Environment variable injection
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bLD_LIBRARY_PATH\s*=`),
	regexp.MustCompile(`/etc/ld\.so\.preload`),

	// Container escape
	regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),
	regexp.MustCompile(`/proc/sys/(kernel|fs|net)/`),
	regexp.MustCompile(`/sys/(kernel|fs|class|devices)/`),
}

// ShellTool runs commands inside the session's sandbox container.
type ShellTool struct {
	manager      *sandbox.Manager
	denyPatterns []*regexp.Regexp
	timeout      time.Duration
}

func NewShellTool(manager *sandbox.Manager) *ShellTool {
	return &ShellTool{
		manager:      manager,
		denyPatterns: defaultDenyPatterns,
		timeout:      60 * time.Second,
	}
}

func (t *ShellTool) Name() string { return "sandbox_shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command inside the isolated sandbox. The sandbox has a writable /workspace, no network, and strict resource limits."
}

func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"stdin": map[string]interface{}{
				"type":        "string",
				"description": "Optional standard input for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) (*Output, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return Fail("command is required"), nil
	}
	stdin, _ := args["stdin"].(string)

	for _, pattern := range t.denyPatterns {
		if pattern.MatchString(command) {
			slog.Warn("shell command denied by pattern", "pattern", pattern.String())
			return Fail(fmt.Sprintf("command denied by security policy (pattern: %s)", pattern.String())), nil
		}
	}

	sessionID := SessionIDFromContext(ctx)
	if sessionID == "" {
		sessionID = "adhoc"
	}
	id, err := t.manager.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire sandbox: %w", err)
	}

	result, err := t.manager.Engine().Exec(ctx, id, []string{"sh", "-c", command}, stdin, t.timeout)
	if err != nil {
		return nil, err
	}

	content := result.Stdout
	if result.Stderr != "" {
		content += "\n[stderr]\n" + result.Stderr
	}
	out := &Output{
		Success: result.ExitCode == 0,
		Content: strings.TrimSpace(content),
		Data: map[string]any{
			"exit_code":   result.ExitCode,
			"duration_ms": result.Duration.Milliseconds(),
			"timed_out":   result.TimedOut,
		},
	}
	if out.Content == "" {
		if out.Success {
			out.Content = "(no output)"
		} else {
			out.Content = fmt.Sprintf("command exited with code %d", result.ExitCode)
		}
	}
	return out, nil
}
