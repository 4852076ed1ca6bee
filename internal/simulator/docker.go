package simulator

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// DefaultImage ships opentrons_simulate.
	DefaultImage = "opentrons/opentrons-simulator:latest"

	defaultContainerName = "catalyze-simulator"
	scratchDir           = "/tmp/protocols"
	stopTimeoutSecs      = 10

	memoryLimitBytes = 1024 * 1024 * 1024 // 1GB
	cpuQuota         = 100000             // 1 CPU
	pidsLimit        = 256

	createRetryAttempts = 5
	createRetryDelay    = 250 * time.Millisecond
)

// DockerConfig configures a DockerSimulator.
type DockerConfig struct {
	Image         string
	ContainerName string
	Binary        string
	// Runtime is "" for the default runtime or "runsc" for gVisor.
	Runtime string
}

// DockerSimulator runs opentrons_simulate inside a long-lived sandbox
// container. Each call copies the protocol in, execs the simulator, and
// removes the file again.
type DockerSimulator struct {
	cli    *client.Client
	cfg    DockerConfig
	logger *slog.Logger

	mu          sync.Mutex
	containerID string
}

// NewDockerSimulator creates a Docker-backed simulator. The container is
// created lazily on first use.
func NewDockerSimulator(cfg DockerConfig, logger *slog.Logger) (*DockerSimulator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.ContainerName == "" {
		cfg.ContainerName = defaultContainerName
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Docker simulator initialized", "image", cfg.Image, "runtime", runtimeName(cfg.Runtime))
	return &DockerSimulator{cli: cli, cfg: cfg, logger: logger}, nil
}

func runtimeName(r string) string {
	if r == "" {
		return "default"
	}
	return r
}

// Ping checks that the Docker daemon answers.
func (s *DockerSimulator) Ping(ctx context.Context) error {
	if _, err := s.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: docker ping: %v", ErrUnavailable, err)
	}
	return nil
}

// Simulate implements Simulator.
func (s *DockerSimulator) Simulate(ctx context.Context, protocolPath string) ([]domain.LogEntry, error) {
	data, err := os.ReadFile(protocolPath)
	if err != nil {
		return nil, fmt.Errorf("read protocol %s: %w", protocolPath, err)
	}

	containerID, err := s.ensureContainer(ctx)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(protocolPath)
	archive, err := protocolArchive(name, data)
	if err != nil {
		return nil, err
	}
	if err := s.cli.CopyToContainer(ctx, containerID, scratchDir, archive, container.CopyToContainerOptions{}); err != nil {
		s.forget(containerID, err)
		return nil, fmt.Errorf("copy protocol into %s: %w", containerID, err)
	}

	target := path.Join(scratchDir, name)
	defer s.removeScratch(containerID, target)

	stdout, stderr, exitCode, err := s.exec(ctx, containerID, simulateCommand(ctx, s.cfg.Binary, target))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Docker simulation finished", "container_id", containerID, "exit_code", exitCode)
	return ParseOutput(stdout, stderr, exitCode), nil
}

// simulateCommand bounds the simulator process by the remaining ctx
// deadline. Abandoning the exec attach stream leaves the process running in
// the container; timeout(1) kills it.
func simulateCommand(ctx context.Context, binary, target string) []string {
	deadline, ok := ctx.Deadline()
	if !ok {
		return []string{binary, target}
	}
	secs := int(math.Ceil(time.Until(deadline).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return []string{"timeout", "-s", "KILL", strconv.Itoa(secs), binary, target}
}

func (s *DockerSimulator) exec(ctx context.Context, containerID string, cmd []string) (string, string, int, error) {
	resp, err := s.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("create exec in container %s: %w", containerID, err)
	}

	attachResp, err := s.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("attach to exec %s: %w", resp.ID, err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		done <- err
	}()
	select {
	case <-ctx.Done():
		attachResp.Close()
		<-done
		return "", "", 0, fmt.Errorf("exec %s: %w", resp.ID, ctx.Err())
	case err := <-done:
		if err != nil {
			return "", "", 0, fmt.Errorf("read exec output %s: %w", resp.ID, err)
		}
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}
	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

func (s *DockerSimulator) removeScratch(containerID, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, _, err := s.exec(ctx, containerID, []string{"rm", "-f", target}); err != nil {
		s.logger.Warn("Failed to remove protocol from simulator container", "path", target, "error", err)
	}
}

// ensureContainer returns a running sandbox container, starting or creating
// it when needed.
func (s *DockerSimulator) ensureContainer(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containerID != "" {
		return s.containerID, nil
	}

	inspect, err := s.cli.ContainerInspect(ctx, s.cfg.ContainerName)
	switch {
	case err == nil && inspect.State.Running:
		s.logger.Info("Simulator container already running", "container_id", inspect.ID)
		s.containerID = inspect.ID
		return inspect.ID, nil
	case err == nil:
		s.logger.Info("Starting stopped simulator container", "container_id", inspect.ID)
		if err := s.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
			return "", fmt.Errorf("start container %s: %w", inspect.ID, err)
		}
		s.containerID = inspect.ID
		return inspect.ID, nil
	case !errdefs.IsNotFound(err):
		return "", fmt.Errorf("%w: inspect %s: %v", ErrUnavailable, s.cfg.ContainerName, err)
	}

	id, err := s.createContainer(ctx)
	if err != nil {
		return "", err
	}
	s.containerID = id
	return id, nil
}

func (s *DockerSimulator) createContainer(ctx context.Context) (string, error) {
	config := &container.Config{
		Image:      s.cfg.Image,
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		WorkingDir: scratchDir,
	}
	hostConfig := &container.HostConfig{
		Runtime:     s.cfg.Runtime,
		NetworkMode: container.NetworkMode("none"),
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	var resp container.CreateResponse
	var createErr error
	pulled := false
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = s.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, s.cfg.ContainerName)
		if createErr == nil {
			break
		}

		if errdefs.IsNotFound(createErr) && !pulled {
			if err := s.pullImage(ctx); err != nil {
				return "", err
			}
			pulled = true
			continue
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create container: %w", createErr)
		}

		// Another replica won the race; reuse its container.
		if inspect, inspectErr := s.cli.ContainerInspect(ctx, s.cfg.ContainerName); inspectErr == nil {
			if !inspect.State.Running {
				if err := s.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
					return "", fmt.Errorf("start container %s: %w", inspect.ID, err)
				}
			}
			return inspect.ID, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create container after retries: %w", createErr)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := s.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			s.logger.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	s.logger.Info("Simulator container created and started", "container_id", resp.ID, "image", s.cfg.Image)
	return resp.ID, nil
}

func (s *DockerSimulator) pullImage(ctx context.Context) error {
	s.logger.Info("Pulling simulator image", "image", s.cfg.Image)
	rc, err := s.cli.ImagePull(ctx, s.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: pull %s: %v", ErrUnavailable, s.cfg.Image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", s.cfg.Image, err)
	}
	return nil
}

// forget drops the cached container id when the container has vanished.
func (s *DockerSimulator) forget(containerID string, err error) {
	if !errdefs.IsNotFound(err) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containerID == containerID {
		s.containerID = ""
	}
}

// Close stops and removes the sandbox container. It is idempotent.
func (s *DockerSimulator) Close(ctx context.Context) error {
	s.mu.Lock()
	containerID := s.containerID
	s.containerID = ""
	s.mu.Unlock()

	if containerID == "" {
		return s.cli.Close()
	}

	timeout := stopTimeoutSecs
	if err := s.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		s.logger.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}
	if err := s.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		if !strings.Contains(err.Error(), "is already in progress") {
			return fmt.Errorf("remove container %s: %w", containerID, err)
		}
	}
	s.logger.Info("Simulator container stopped and removed", "container_id", containerID)
	return s.cli.Close()
}

// protocolArchive wraps one file in the tar stream CopyToContainer expects.
func protocolArchive(name string, data []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}

func ptr[T any](v T) *T {
	return &v
}
