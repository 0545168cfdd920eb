package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/cuemby/alpinekube/pkg/types"
	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerRuntime runs each node as a Docker container, the way
// `docker run --cpus N --memory M --network host` would
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker daemon configured in the environment
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Name implements Runtime
func (r *DockerRuntime) Name() string { return DriverDocker }

// Close implements Runtime
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// StartNode creates and starts the node container. The container ID is the handle.
func (r *DockerRuntime) StartNode(ctx context.Context, spec types.NodeSpec) (string, error) {
	image := spec.Image
	if image == "" {
		image = DefaultImage
	}
	if err := r.ensureImage(ctx, image); err != nil {
		return "", err
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image: image,
			Env:   nodeEnv(spec),
		},
		&container.HostConfig{
			NetworkMode: "host",
			Resources: container.Resources{
				NanoCPUs: int64(spec.CPULimit) * 1e9,
				Memory:   spec.MemoryBytes,
			},
		},
		nil, nil, ContainerName(spec.ID))
	if err != nil {
		return "", fmt.Errorf("failed to create container for node %s: %w", spec.ID, err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, dockertypes.ContainerStartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, resp.ID, dockertypes.ContainerRemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container for node %s: %w", spec.ID, err)
	}

	return resp.ID, nil
}

// RestartNode implements Runtime
func (r *DockerRuntime) RestartNode(ctx context.Context, handle string) error {
	timeout := int(stopTimeout.Seconds())
	if err := r.cli.ContainerRestart(ctx, handle, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", handle, err)
	}
	return nil
}

// StopNode force-removes the node container
func (r *DockerRuntime) StopNode(ctx context.Context, handle string) error {
	err := r.cli.ContainerRemove(ctx, handle, dockertypes.ContainerRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", handle, err)
	}
	return nil
}

func (r *DockerRuntime) ensureImage(ctx context.Context, image string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", image, err)
	}

	reader, err := r.cli.ImagePull(ctx, image, dockertypes.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer reader.Close()

	// The pull completes only once the progress stream is drained
	_, err = io.Copy(io.Discard, reader)
	return err
}
