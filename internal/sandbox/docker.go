package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DockerEngine drives containers through the docker CLI. Containers are
// created with:
//   - writable tmpfs at the workspace dir, read-only rootfs
//   - --network none (no network namespace sharing)
//   - --cap-drop ALL, --security-opt no-new-privileges
//   - memory/cpu/pids limits from Config
type DockerEngine struct {
	binary string
}

func NewDockerEngine() *DockerEngine {
	return &DockerEngine{binary: "docker"}
}

func (d *DockerEngine) Create(ctx context.Context, cfg Config) (SandboxID, error) {
	name := "sovereignclaw-sbx-" + uuid.NewString()[:8]
	args := []string{
		"run", "-d",
		"--name", name,
		"--read-only",
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--memory", fmt.Sprintf("%dm", cfg.MemoryLimitMB),
		"--cpus", strconv.FormatFloat(cfg.CPULimit, 'f', 2, 64),
		"--pids-limit", strconv.Itoa(cfg.PidsLimit),
		"--tmpfs", fmt.Sprintf("%s:rw,size=%dm", cfg.WorkspaceDir, cfg.TmpfsSizeMB),
		"--workdir", cfg.WorkspaceDir,
		cfg.Image,
		"sleep", "infinity",
	}

	out, err := d.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	slog.Info("sandbox created", "name", name, "image", cfg.Image, "container", strings.TrimSpace(out)[:12])
	return SandboxID(name), nil
}

// Exec runs argv inside the container. On timeout the context kill
// sends SIGKILL to the local `docker exec` client process and the result
// carries exit code -1 with a timeout marker; the command inside the
// container is not signalled.
func (d *DockerEngine) Exec(ctx context.Context, id SandboxID, argv []string, stdin string, timeout time.Duration) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"exec", "-i", string(id)}, argv...)
	cmd := exec.CommandContext(execCtx, d.binary, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		result.TimedOut = true
		result.Stderr = strings.TrimSpace(result.Stderr + "\n[execution timed out after " + timeout.String() + "]")
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("exec in sandbox %s: %w", id, err)
	}
	return result, nil
}

func (d *DockerEngine) WriteFile(ctx context.Context, id SandboxID, path string, data []byte) error {
	// Base64 through exec keeps binary content intact without a mount.
	encoded := base64.StdEncoding.EncodeToString(data)
	script := fmt.Sprintf("mkdir -p \"$(dirname %q)\" && base64 -d > %q", path, path)
	res, err := d.Exec(ctx, id, []string{"sh", "-c", script}, encoded, 30*time.Second)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("write file %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (d *DockerEngine) ReadFile(ctx context.Context, id SandboxID, path string) ([]byte, error) {
	res, err := d.Exec(ctx, id, []string{"sh", "-c", fmt.Sprintf("base64 %q", path)}, "", 30*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("read file %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(res.Stdout, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode file %s: %w", path, err)
	}
	return data, nil
}

func (d *DockerEngine) ListFiles(ctx context.Context, id SandboxID, path string) ([]FileEntry, error) {
	if path == "" {
		path = "."
	}
	res, err := d.Exec(ctx, id, []string{"sh", "-c", fmt.Sprintf("ls -la %q", path)}, "", 15*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("list files %s: %s", path, strings.TrimSpace(res.Stderr))
	}

	var entries []FileEntry
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[0] == "total" {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		entries = append(entries, FileEntry{
			Name:  name,
			IsDir: strings.HasPrefix(fields[0], "d"),
			Size:  size,
		})
	}
	return entries, nil
}

func (d *DockerEngine) Destroy(ctx context.Context, id SandboxID) error {
	if _, err := d.run(ctx, "rm", "-f", string(id)); err != nil {
		return fmt.Errorf("destroy sandbox %s: %w", id, err)
	}
	return nil
}

func (d *DockerEngine) Ping(ctx context.Context) error {
	_, err := d.run(ctx, "version", "--format", "{{.Server.Version}}")
	return err
}

func (d *DockerEngine) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
