package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DefaultImage is the container image used when none is configured. It
// must carry git and a POSIX shell.
const DefaultImage = "autopr-sandbox:latest"

const containerRoot = "/workspace"

// ContainerWorkspace is the remote isolated Workspace backend. Commands
// run inside a dedicated Docker container via the exec API; the container
// lives for the duration of one session.
type ContainerWorkspace struct {
	cli         *client.Client
	name        string
	image       string
	containerID string
}

// NewContainerWorkspace creates a container workspace for the given
// session id. The Docker client and container are provisioned on Init.
func NewContainerWorkspace(sessionID, image string) *ContainerWorkspace {
	if image == "" {
		image = DefaultImage
	}
	return &ContainerWorkspace{
		name:  "autopr-" + sessionID,
		image: image,
	}
}

func (w *ContainerWorkspace) Init(ctx context.Context) error {
	if w.containerID != "" {
		return nil
	}

	if w.cli == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("create docker client: %w", err)
		}
		w.cli = cli
	}

	if _, _, err := w.cli.ImageInspectWithRaw(ctx, w.image); err != nil {
		return fmt.Errorf("sandbox image %q not available: %w", w.image, err)
	}

	cfg := &container.Config{
		Image:      w.image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: containerRoot,
		ExposedPorts: nat.PortSet{},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "bridge",
	}

	resp, err := w.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, w.name)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := w.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		// The created container would leak otherwise.
		_ = w.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return fmt.Errorf("start container: %w", err)
	}
	w.containerID = resp.ID

	_, _, _, err = w.exec(ctx, "mkdir -p "+containerRoot, 30*time.Second, nil)
	return err
}

func (w *ContainerWorkspace) Close(ctx context.Context) error {
	// Init may never have run, or failed before the client existed.
	if w.cli == nil {
		return nil
	}
	if w.containerID == "" {
		return w.cli.Close()
	}
	err := w.cli.ContainerRemove(ctx, w.containerID, types.ContainerRemoveOptions{Force: true})
	w.containerID = ""
	if cerr := w.cli.Close(); err == nil {
		err = cerr
	}
	return err
}

func (w *ContainerWorkspace) Root() string { return containerRoot }

// exec runs a shell command inside the container and returns stdout,
// stderr and the exit code.
func (w *ContainerWorkspace) exec(ctx context.Context, command string, timeout time.Duration, env map[string]string) (string, string, int, error) {
	if w.containerID == "" {
		return "", "", -1, fmt.Errorf("container not initialized")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var envList []string
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	create, err := w.cli.ContainerExecCreate(ctx, w.containerID, types.ExecConfig{
		Cmd:          []string{"/bin/sh", "-c", command},
		WorkingDir:   containerRoot,
		Env:          envList,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", -1, fmt.Errorf("exec create: %w", err)
	}

	attach, err := w.cli.ContainerExecAttach(ctx, create.ID, types.ExecStartCheck{})
	if err != nil {
		return "", "", -1, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && ctx.Err() == nil {
		return "", "", -1, fmt.Errorf("exec read: %w", err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), -1, ctx.Err()
	}

	inspect, err := w.cli.ContainerExecInspect(ctx, create.ID)
	if err != nil {
		return stdout.String(), stderr.String(), -1, fmt.Errorf("exec inspect: %w", err)
	}
	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

func (w *ContainerWorkspace) ReadFile(ctx context.Context, path string) (string, error) {
	stdout, stderr, code, err := w.exec(ctx, "cat "+shellQuote(path), 30*time.Second, nil)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("read %s: %s", path, strings.TrimSpace(stderr))
	}
	return stdout, nil
}

func (w *ContainerWorkspace) WriteFile(ctx context.Context, path, content string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	cmd := fmt.Sprintf("mkdir -p %s && echo %s | base64 -d > %s",
		shellQuote(dirOf(path)), shellQuote(encoded), shellQuote(path))
	_, stderr, code, err := w.exec(ctx, cmd, 30*time.Second, nil)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("write %s: %s", path, strings.TrimSpace(stderr))
	}
	return nil
}

func (w *ContainerWorkspace) DeleteFile(ctx context.Context, path string) error {
	_, stderr, code, err := w.exec(ctx, "rm "+shellQuote(path), 30*time.Second, nil)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("delete %s: %s", path, strings.TrimSpace(stderr))
	}
	return nil
}

func (w *ContainerWorkspace) MakeDir(ctx context.Context, path string) error {
	_, stderr, code, err := w.exec(ctx, "mkdir -p "+shellQuote(path), 30*time.Second, nil)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("mkdir %s: %s", path, strings.TrimSpace(stderr))
	}
	return nil
}

func (w *ContainerWorkspace) ListFiles(ctx context.Context) ([]string, error) {
	prunes := make([]string, 0, len(skipDirs))
	for d := range skipDirs {
		prunes = append(prunes, fmt.Sprintf("-name %s -prune -o", shellQuote(d)))
	}
	cmd := fmt.Sprintf("cd %s && find . \\( %s -type f -print \\) | sed 's|^\\./||'",
		containerRoot, strings.Join(prunes, " "))
	stdout, stderr, code, err := w.exec(ctx, cmd, time.Minute, nil)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("list files: %s", strings.TrimSpace(stderr))
	}
	var files []string
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (w *ContainerWorkspace) Exec(ctx context.Context, command string, timeout time.Duration, env map[string]string) (*ExecResult, error) {
	start := time.Now()
	stdout, stderr, code, err := w.exec(ctx, command, timeout, env)
	res := &ExecResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: code,
		Duration: time.Since(start),
	}
	if err != nil {
		if err == context.DeadlineExceeded {
			res.TimedOut = true
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
