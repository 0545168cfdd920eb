package runtime

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/alpinekube/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace for node containers
	DefaultNamespace = "alpinekube"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// cfsPeriod is the CFS scheduling period in microseconds
	cfsPeriod = 100000

	stopTimeout = 10 * time.Second
)

// ContainerdRuntime runs each node as a containerd container
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime connects to containerd
func NewContainerdRuntime(socketPath, namespace string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: namespace,
	}, nil
}

// Name implements Runtime
func (r *ContainerdRuntime) Name() string { return DriverContainerd }

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// StartNode creates and starts the node container with CPU and memory limits.
// The container ID is the handle.
func (r *ContainerdRuntime) StartNode(ctx context.Context, spec types.NodeSpec) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.ensureImage(ctx, spec.Image)
	if err != nil {
		return "", err
	}

	id := ContainerName(spec.ID)
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(nodeEnv(spec)),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostHostsFile,
		oci.WithHostResolvconf,
		withNodeResources(spec.CPULimit, spec.MemoryBytes),
	}

	container, err := r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", id, err)
	}

	if err := r.startTask(ctx, container); err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return "", err
	}

	return container.ID(), nil
}

// RestartNode kills the node's task, if any, and starts a fresh one
func (r *ContainerdRuntime) RestartNode(ctx context.Context, handle string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", handle, err)
	}

	if err := r.killTask(ctx, container); err != nil {
		return err
	}
	return r.startTask(ctx, container)
}

// StopNode stops the node's task and deletes the container and its snapshot
func (r *ContainerdRuntime) StopNode(ctx context.Context, handle string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", handle, err)
	}

	if err := r.killTask(ctx, container); err != nil {
		return err
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container %s: %w", handle, err)
	}
	return nil
}

func (r *ContainerdRuntime) ensureImage(ctx context.Context, ref string) (containerd.Image, error) {
	if ref == "" {
		ref = DefaultImage
	}
	image, err := r.client.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get image %s: %w", ref, err)
	}

	image, err = r.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return image, nil
}

func (r *ContainerdRuntime) startTask(ctx context.Context, container containerd.Container) error {
	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// killTask stops the container's task with SIGTERM, escalating to SIGKILL
func (r *ContainerdRuntime) killTask(ctx context.Context, container containerd.Container) error {
	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task, nothing running
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// withNodeResources caps the container at cpus cores through a CFS quota and
// at memoryBytes of memory
func withNodeResources(cpus int, memoryBytes int64) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *oci.Spec) error {
		if s.Linux == nil {
			s.Linux = &specs.Linux{}
		}
		if s.Linux.Resources == nil {
			s.Linux.Resources = &specs.LinuxResources{}
		}

		if cpus > 0 {
			period := uint64(cfsPeriod)
			quota := int64(cpus) * cfsPeriod
			s.Linux.Resources.CPU = &specs.LinuxCPU{
				Period: &period,
				Quota:  &quota,
			}
		}
		if memoryBytes > 0 {
			limit := memoryBytes
			s.Linux.Resources.Memory = &specs.LinuxMemory{Limit: &limit}
		}
		return nil
	}
}
