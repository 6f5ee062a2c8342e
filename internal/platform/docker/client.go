package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerAPI is the subset of the Docker SDK client used here.
type dockerAPI interface {
	Close() error
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Config controls the containers started by the docker backend.
type Config struct {
	Image       string
	MemoryBytes int64
	Pull        bool
}

// Client wraps the official Docker SDK client and runs one-shot containers.
type Client struct {
	api    dockerAPI
	cfg    Config
	logger *slog.Logger
}

// NewClient initializes and returns a verified Docker client.
// It performs a connection check (Ping) upon initialization and pulls the
// image when cfg.Pull is set, so an unusable daemon fails at startup.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}

	c := newClient(cli, cfg, logger)
	if cfg.Pull {
		if err := c.pullImage(ctx); err != nil {
			_ = cli.Close()
			return nil, err
		}
	}

	c.logger.Info("Docker client initialized", "image", cfg.Image)
	return c, nil
}

func newClient(api dockerAPI, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

// Close releases the SDK client.
func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) pullImage(ctx context.Context) error {
	c.logger.Info("Pulling image", "image", c.cfg.Image)
	reader, err := c.api.ImagePull(ctx, c.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", c.cfg.Image, err)
	}
	// Drain the response body to ensure the pull completes properly.
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("consume pull output for %s: %w", c.cfg.Image, err)
	}
	return nil
}

// runSpec describes one container invocation.
type runSpec struct {
	cmd     []string
	workDir string
	mounts  []mount.Mount
}

// run starts a container, waits for it, and copies its logs to stdout and
// stderr. When ctx ends first the container is killed and ctx.Err() is returned.
func (c *Client) run(ctx context.Context, spec runSpec, stdout, stderr io.Writer) (int64, error) {
	hostConfig := &container.HostConfig{
		Mounts: spec.mounts,
		Resources: container.Resources{
			NanoCPUs: 1_000_000_000,
		},
	}
	if c.cfg.MemoryBytes > 0 {
		hostConfig.Resources.Memory = c.cfg.MemoryBytes
		hostConfig.Resources.MemorySwap = c.cfg.MemoryBytes
	}

	resp, err := c.api.ContainerCreate(ctx, &container.Config{
		Image:           c.cfg.Image,
		Cmd:             spec.cmd,
		WorkingDir:      spec.workDir,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		_ = c.api.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("start container: %w", err)
	}

	status, err := c.waitForExit(ctx, resp.ID)
	if err != nil {
		if ctx.Err() != nil {
			c.kill(resp.ID)
			return -1, ctx.Err()
		}
		return -1, err
	}

	if err := c.fetchLogs(ctx, resp.ID, stdout, stderr); err != nil {
		return -1, fmt.Errorf("fetch logs: %w", err)
	}
	return status.StatusCode, nil
}

func (c *Client) kill(containerID string) {
	killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.api.ContainerKill(killCtx, containerID, "KILL"); err != nil && !client.IsErrNotFound(err) {
		c.logger.Warn("Failed to kill container", "containerID", containerID, "error", err)
	}
}

func (c *Client) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := c.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}

func (c *Client) fetchLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	logs, err := c.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(stdout, stderr, logs)
	return err
}

// bindMounts mounts each host path at the same location inside the container.
// Duplicates are dropped; the first occurrence decides the access mode.
func bindMounts(readWrite []string, readOnly []string) []mount.Mount {
	seen := make(map[string]bool)
	var mounts []mount.Mount
	add := func(path string, ro bool) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   path,
			Target:   path,
			ReadOnly: ro,
		})
	}
	for _, p := range readWrite {
		add(p, false)
	}
	for _, p := range readOnly {
		add(p, true)
	}
	return mounts
}
