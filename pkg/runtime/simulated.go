package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cuemby/alpinekube/pkg/types"
)

const simulatedPrefix = "sim-"

// Simulated is a runtime without any external process. Nodes exist only as
// handles, so a node that stops sending heartbeats cannot be restarted and
// is eventually removed by the health controller.
type Simulated struct {
	mu      sync.Mutex
	running map[string]types.NodeSpec
}

// NewSimulated creates a simulated runtime
func NewSimulated() *Simulated {
	return &Simulated{running: make(map[string]types.NodeSpec)}
}

// Name implements Runtime
func (s *Simulated) Name() string { return DriverSimulated }

// StartNode implements Runtime
func (s *Simulated) StartNode(ctx context.Context, spec types.NodeSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := simulatedPrefix + spec.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.running[handle]; exists {
		return "", fmt.Errorf("node %s already running", spec.ID)
	}
	s.running[handle] = spec
	return handle, nil
}

// RestartNode implements Runtime
func (s *Simulated) RestartNode(ctx context.Context, handle string) error {
	return fmt.Errorf("node %s: %w", strings.TrimPrefix(handle, simulatedPrefix), ErrRestartUnsupported)
}

// StopNode implements Runtime
func (s *Simulated) StopNode(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, handle)
	return nil
}

// Running returns the number of started, not yet stopped nodes
func (s *Simulated) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Close implements Runtime
func (s *Simulated) Close() error {
	return nil
}
