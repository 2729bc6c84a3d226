package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// skipDirs are directory names never included in file listings.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// LocalWorkspace is the subprocess-backed Workspace. It owns a working
// directory on the host and runs commands through the local shell.
type LocalWorkspace struct {
	root    string
	created bool // root was created by Init and is removed by Close
}

// NewLocalWorkspace creates a local workspace rooted at dir. When dir is
// empty a temporary directory is provisioned on Initialize and removed on
// Cleanup.
func NewLocalWorkspace(dir string) *LocalWorkspace {
	return &LocalWorkspace{root: dir}
}

func (w *LocalWorkspace) Init(ctx context.Context) error {
	if w.root == "" {
		dir, err := os.MkdirTemp("", "autopr-sandbox-")
		if err != nil {
			return fmt.Errorf("create workspace dir: %w", err)
		}
		w.root = dir
		w.created = true
		return nil
	}
	return os.MkdirAll(w.root, 0o755)
}

func (w *LocalWorkspace) Close(ctx context.Context) error {
	if w.created && w.root != "" {
		return os.RemoveAll(w.root)
	}
	return nil
}

func (w *LocalWorkspace) Root() string { return w.root }

func (w *LocalWorkspace) ReadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *LocalWorkspace) WriteFile(ctx context.Context, path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func (w *LocalWorkspace) DeleteFile(ctx context.Context, path string) error {
	return os.Remove(path)
}

func (w *LocalWorkspace) MakeDir(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

func (w *LocalWorkspace) ListFiles(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != w.root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", w.root, err)
	}
	return files, nil
}

func (w *LocalWorkspace) Exec(ctx context.Context, command string, timeout time.Duration, env map[string]string) (*ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Dir = w.root
	// Process group so a timeout kills the whole pipeline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Env = baseEnv()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.TimedOut = true
			res.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
			return res, nil
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("exec: %w", runErr)
	}
	return res, nil
}

// baseEnv passes through only non-sensitive host environment variables.
func baseEnv() []string {
	var out []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(name)
		if strings.HasSuffix(upper, "_TOKEN") ||
			strings.HasSuffix(upper, "_KEY") ||
			strings.HasSuffix(upper, "_SECRET") ||
			strings.HasSuffix(upper, "_PASSWORD") ||
			strings.HasSuffix(upper, "_CREDENTIAL") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
