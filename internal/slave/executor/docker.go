package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"
)

// DockerExecutor runs a command inside a locked-down container,
// bind-mounting the task's working directory. Grounded on the
// teacher's internal/worker/executor/docker.go container lifecycle
// and hardened HostConfig, adapted from a dockcross compile image to
// a single configurable shell image running an arbitrary command.
type DockerExecutor struct {
	client *client.Client
	image  string
}

// NewDockerExecutor creates a Docker executor using img for every
// execution (the shell_exec domain has no per-architecture image
// matrix, unlike the teacher's cross-compile images).
func NewDockerExecutor(img string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("Docker not available: %w", err)
	}

	if img == "" {
		img = "alpine:latest"
	}

	return &DockerExecutor{client: cli, image: img}, nil
}

// Name returns the executor name.
func (e *DockerExecutor) Name() string { return "docker" }

// Close closes the Docker client connection.
func (e *DockerExecutor) Close() error { return e.client.Close() }

// Execute runs req.Command inside a container with req.WorkingDir
// bind-mounted at /work.
func (e *DockerExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if err := e.ensureImage(ctx, e.image); err != nil {
		return nil, fmt.Errorf("failed to ensure Docker image: %w", err)
	}

	containerConfig := &container.Config{
		Image:      e.image,
		Cmd:        []string{"/bin/sh", "-c", req.Command},
		WorkingDir: "/work",
		Tty:        false,
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: req.WorkingDir, Target: "/work"},
		},
		Resources: container.Resources{
			Memory:     512 * 1024 * 1024,
			MemorySwap: 512 * 1024 * 1024,
			NanoCPUs:   1_000_000_000,
			PidsLimit:  int64Ptr(100),
		},
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: false,
	}

	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				e.client.ContainerKill(killCtx, containerID, "KILL")
				return &Result{
					Success:  false,
					ExitCode: -1,
					Stderr:   "execution timed out",
					Method:   e.Name(),
					Duration: time.Since(start),
				}, nil
			}
			return nil, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	stdout, stderr, truncated, err := e.getLogs(ctx, containerID, req.MaxOutputBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	result := &Result{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  int(exitCode),
		Method:    e.Name(),
		Duration:  time.Since(start),
		Success:   exitCode == 0,
		Truncated: truncated,
	}
	return result, nil
}

func (e *DockerExecutor) getLogs(ctx context.Context, containerID string, maxBytes int) (string, string, bool, error) {
	reader, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", false, err
	}
	defer reader.Close()

	stdout := newCapture(maxBytes)
	stderr := newCapture(maxBytes)
	var rawStdout, rawStderr bytes.Buffer
	_, err = stdcopy.StdCopy(&rawStdout, &rawStderr, reader)
	if err != nil && err != io.EOF {
		return "", "", false, err
	}
	stdout.Write(rawStdout.Bytes())
	stderr.Write(rawStderr.Bytes())

	return stdout.String(), stderr.String(), stdout.truncated || stderr.truncated, nil
}

// ensureImage pulls img if not already present locally.
func (e *DockerExecutor) ensureImage(ctx context.Context, img string) error {
	name := img
	if !strings.Contains(name, ":") {
		name += ":latest"
	}

	images, err := e.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	for _, i := range images {
		for _, tag := range i.RepoTags {
			if tag == name {
				return nil
			}
		}
	}

	log.Info().Str("image", name).Msg("pulling Docker image for remote execution")
	reader, err := e.client.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", name, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func int64Ptr(v int64) *int64 { return &v }
