package isolation

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// DockerBackend implements Backend on the Docker Engine API.
type DockerBackend struct {
	client *client.Client
	images *ImageCache
}

var _ Backend = (*DockerBackend)(nil)
var _ Puller = (*DockerBackend)(nil)

// NewDockerBackend creates a Docker backend and verifies the daemon is
// reachable before returning, so the service never starts in a broken
// state.
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: create docker client: %v", ErrInfrastructure, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: ping docker daemon: %v", ErrInfrastructure, err)
	}

	b := &DockerBackend{client: cli}
	b.images = NewImageCache(b)
	return b, nil
}

// EnsureImage makes the image locally available through the single-flight
// cache.
func (b *DockerBackend) EnsureImage(ctx context.Context, img string) error {
	return b.images.EnsureAvailable(ctx, img)
}

// ImageExists reports local presence of an image.
func (b *DockerBackend) ImageExists(ctx context.Context, img string) (bool, error) {
	_, err := b.client.ImageInspect(ctx, img)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

// PullImage pulls an image and drains the progress stream so the pull
// completes before returning.
func (b *DockerBackend) PullImage(ctx context.Context, img string) error {
	reader, err := b.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// CreateEnvironment creates a container from the spec without starting it.
func (b *DockerBackend) CreateEnvironment(ctx context.Context, spec EnvironmentSpec) (string, error) {
	containerCfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Argv,
		WorkingDir:   spec.WorkingDir,
		Tty:          spec.TTY,
		OpenStdin:    spec.OpenStdin,
		StdinOnce:    spec.OpenStdin && !spec.TTY,
		AttachStdin:  spec.OpenStdin,
		AttachStdout: true,
		AttachStderr: true,
		Labels:       spec.Labels,
	}

	binds := make([]string, 0, len(spec.BindMounts))
	for _, m := range spec.BindMounts {
		binds = append(binds, m.HostPath+":"+m.ContainerPath)
	}

	pids := spec.PidsLimit
	hostCfg := &container.HostConfig{
		Binds:          binds,
		AutoRemove:     spec.AutoRemove,
		ReadonlyRootfs: spec.FilesystemPolicy == FilesystemReadonly,
		NetworkMode:    container.NetworkMode(spec.NetworkPolicy),
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			NanoCPUs:  int64(spec.CPUQuotaFraction * 1e9),
			PidsLimit: &pids,
		},
	}

	resp, err := b.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", b.classify("create container", err)
	}
	return resp.ID, nil
}

// StartEnvironment starts a created container.
func (b *DockerBackend) StartEnvironment(ctx context.Context, id string) error {
	if err := b.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return b.classify("start container", err)
	}
	return nil
}

// AttachEnvironment hijacks the container's stdio streams.
func (b *DockerBackend) AttachEnvironment(ctx context.Context, id string) (AttachedStreams, error) {
	resp, err := b.client.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, b.classify("attach container", err)
	}
	return &dockerStreams{resp: resp}, nil
}

// WaitEnvironment waits for the container's next exit. Called before
// start so the exit of short-lived programs is never missed, which also
// keeps auto-removed containers observable.
func (b *DockerBackend) WaitEnvironment(ctx context.Context, id string) (<-chan ExitStatus, <-chan error) {
	exitCh := make(chan ExitStatus, 1)
	errCh := make(chan error, 1)

	waitCh, waitErrCh := b.client.ContainerWait(ctx, id, container.WaitConditionNextExit)
	go func() {
		select {
		case res := <-waitCh:
			if res.Error != nil {
				errCh <- fmt.Errorf("wait: %s", res.Error.Message)
				return
			}
			exitCh <- ExitStatus{ExitCode: res.StatusCode}
		case err := <-waitErrCh:
			errCh <- err
		}
	}()

	return exitCh, errCh
}

// StopEnvironment stops a running container with a grace period.
func (b *DockerBackend) StopEnvironment(ctx context.Context, id string) error {
	timeout := 10
	return b.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
}

// RemoveEnvironment force-removes a container. "No such container" is not
// an error: auto-removed containers are already gone.
func (b *DockerBackend) RemoveEnvironment(ctx context.Context, id string) error {
	err := b.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return err
	}
	return nil
}

// ResizeEnvironment resizes the container's pseudo-terminal.
func (b *DockerBackend) ResizeEnvironment(ctx context.Context, id string, cols, rows uint) error {
	return b.client.ContainerResize(ctx, id, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	})
}

// Close closes the Docker client.
func (b *DockerBackend) Close() error {
	return b.client.Close()
}

func (b *DockerBackend) classify(op string, err error) error {
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %s: %v", ErrInfrastructure, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrEnvironmentStart, op, err)
}

// dockerStreams adapts a hijacked attach connection to AttachedStreams.
type dockerStreams struct {
	resp types.HijackedResponse
}

func (s *dockerStreams) Read(p []byte) (int, error)  { return s.resp.Reader.Read(p) }
func (s *dockerStreams) Write(p []byte) (int, error) { return s.resp.Conn.Write(p) }
func (s *dockerStreams) CloseWrite() error           { return s.resp.CloseWrite() }
func (s *dockerStreams) Close()                      { s.resp.Close() }

// DemuxOutput flattens Docker's multiplexed stdout/stderr stream into one
// combined string, preserving arrival order. Frames carry 8-byte headers:
// [type][0][0][0][size1][size2][size3][size4], type 1=stdout 2=stderr.
func DemuxOutput(data []byte) string {
	var out strings.Builder
	rest := data

	for len(rest) >= 8 {
		streamType := rest[0]
		size := int(rest[4])<<24 | int(rest[5])<<16 | int(rest[6])<<8 | int(rest[7])
		rest = rest[8:]

		if size > len(rest) {
			size = len(rest)
		}
		if streamType == 1 || streamType == 2 {
			out.Write(rest[:size])
		}
		rest = rest[size:]
	}

	// No headers at all means the stream was raw (TTY mode).
	if out.Len() == 0 && len(data) > 0 && data[0] != 1 && data[0] != 2 {
		return string(data)
	}

	return out.String()
}
