package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/alpinekube/pkg/types"
)

// Driver names accepted by New
const (
	DriverSimulated  = "simulated"
	DriverContainerd = "containerd"
	DriverDocker     = "docker"
)

// DefaultImage is the node image started for every registered node
const DefaultImage = "docker.io/library/alpinekube-node:latest"

// ErrRestartUnsupported is returned by drivers that cannot restart a node
var ErrRestartUnsupported = errors.New("restart not supported by this runtime")

// Runtime starts, restarts and stops the execution environment of a node.
// Handles returned by StartNode are opaque to callers.
type Runtime interface {
	Name() string
	StartNode(ctx context.Context, spec types.NodeSpec) (string, error)
	RestartNode(ctx context.Context, handle string) error
	StopNode(ctx context.Context, handle string) error
	Close() error
}

// Config selects and configures a runtime driver
type Config struct {
	Driver           string
	ContainerdSocket string
	Namespace        string
}

// New creates the runtime driver named in cfg
func New(cfg Config) (Runtime, error) {
	switch cfg.Driver {
	case "", DriverSimulated:
		return NewSimulated(), nil
	case DriverContainerd:
		rt, err := NewContainerdRuntime(cfg.ContainerdSocket, cfg.Namespace)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case DriverDocker:
		rt, err := NewDockerRuntime()
		if err != nil {
			return nil, err
		}
		return rt, nil
	default:
		return nil, fmt.Errorf("unknown runtime driver %q", cfg.Driver)
	}
}

// ContainerName is the name given to a node's container, as in node_<id>
func ContainerName(nodeID string) string {
	return "node_" + nodeID
}

func nodeEnv(spec types.NodeSpec) []string {
	return []string{"NODE_ID=" + spec.ID}
}
