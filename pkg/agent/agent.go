package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/alpinekube/pkg/api"
	"github.com/cuemby/alpinekube/pkg/health"
	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultInterval is the period between two heartbeats
	DefaultInterval = 2 * time.Second

	// DefaultTimeout bounds a single heartbeat or probe
	DefaultTimeout = 5 * time.Second

	// DefaultProbeRetries is the number of consecutive probe failures before
	// heartbeats are withheld
	DefaultProbeRetries = 3
)

// ErrWorkloadUnhealthy is returned by Beat while the local probe is failing
var ErrWorkloadUnhealthy = errors.New("local workload is unhealthy")

// Client is the part of the control plane API the agent needs.
// *client.Client satisfies it.
type Client interface {
	RegisterNode(ctx context.Context, id string, cpu int) (*api.Node, error)
	Heartbeat(ctx context.Context, nodeID string) error
}

// Config holds agent configuration
type Config struct {
	NodeID string

	// CPU, when positive, makes the agent register the node before the first
	// heartbeat. A node that is already registered is not an error.
	CPU int

	Interval time.Duration
	Timeout  time.Duration

	// Probe is optional. While it fails ProbeRetries times in a row the agent
	// stops sending heartbeats.
	Probe        health.Probe
	ProbeRetries int
}

// Agent keeps one node alive in the control plane's ledger
type Agent struct {
	cfg    Config
	client Client
	logger zerolog.Logger
	status *health.Status

	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewAgent creates a new agent
func NewAgent(c Client, cfg Config) (*Agent, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeRetries <= 0 {
		cfg.ProbeRetries = DefaultProbeRetries
	}

	return &Agent{
		cfg:    cfg,
		client: c,
		logger: log.WithNodeID(cfg.NodeID).With().Str("component", "agent").Logger(),
		status: health.NewStatus(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Register adds the node to the control plane when CPU is configured
func (a *Agent) Register(ctx context.Context) error {
	if a.cfg.CPU <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	node, err := a.client.RegisterNode(ctx, a.cfg.NodeID, a.cfg.CPU)
	if status.Code(err) == codes.AlreadyExists {
		a.logger.Info().Msg("Node already registered")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to register node %s: %w", a.cfg.NodeID, err)
	}

	a.logger.Info().Int("cpu", node.TotalCPU).Msg("Node registered")
	return nil
}

// Start registers the node and runs the heartbeat loop until Stop
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Register(ctx); err != nil {
		return err
	}
	a.started.Store(true)
	go a.run()
	return nil
}

// Stop ends the heartbeat loop
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	if a.started.Load() {
		<-a.doneCh
	}
}

func (a *Agent) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.tick()
	for {
		select {
		case <-ticker.C:
			a.tick()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) tick() {
	err := a.Beat(context.Background())
	switch {
	case errors.Is(err, ErrWorkloadUnhealthy):
		a.logger.Warn().
			Int("failures", a.status.ConsecutiveFailures).
			Str("probe", a.status.LastResult.Message).
			Msg("Withholding heartbeat")
	case err != nil:
		a.logger.Error().Err(err).Msg("Heartbeat failed")
	default:
		a.logger.Debug().Msg("Heartbeat sent")
	}
}

// Beat runs the probe, if any, and sends one heartbeat
func (a *Agent) Beat(ctx context.Context) error {
	if a.cfg.Probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		result := a.cfg.Probe.Check(probeCtx)
		cancel()

		wasHealthy := a.status.Healthy
		a.status.Update(result, a.cfg.ProbeRetries)
		if wasHealthy != a.status.Healthy {
			a.logger.Info().
				Bool("healthy", a.status.Healthy).
				Str("probe", string(a.cfg.Probe.Type())).
				Msg("Local workload health changed")
		}
		if !a.status.Healthy {
			return ErrWorkloadUnhealthy
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.client.Heartbeat(ctx, a.cfg.NodeID)
}
