package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/alpinekube/pkg/events"
	"github.com/cuemby/alpinekube/pkg/health"
	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/lifecycle"
	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/cuemby/alpinekube/pkg/metrics"
	"github.com/cuemby/alpinekube/pkg/reconciler"
	"github.com/cuemby/alpinekube/pkg/runtime"
	"github.com/cuemby/alpinekube/pkg/scheduler"
	"github.com/cuemby/alpinekube/pkg/storage"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds configuration for creating a Manager
type Config struct {
	Health        health.Config
	SweepInterval time.Duration

	// Image and MemoryPerCPU shape the environment started for each node
	Image        string
	MemoryPerCPU int64
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() Config {
	return Config{
		Health:        health.DefaultConfig(),
		SweepInterval: reconciler.DefaultInterval,
		Image:         runtime.DefaultImage,
		MemoryPerCPU:  512 << 20,
	}
}

// Manager is the control plane. It owns the ledger and wires the scheduler,
// lifecycle manager, health controller and reconciler around it.
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	ledger     *ledger.Ledger
	runtime    runtime.Runtime
	scheduler  *scheduler.Scheduler
	lifecycle  *lifecycle.Manager
	health     *health.Controller
	reconciler *reconciler.Reconciler
	collector  *metrics.Collector
	broker     *events.Broker

	journal     *storage.BoltJournal
	journalDone chan struct{}

	stopOnce sync.Once
}

// NewManager creates a new Manager. The journal is optional.
func NewManager(cfg Config, rt runtime.Runtime, journal *storage.BoltJournal) *Manager {
	l := ledger.New()
	broker := events.NewBroker()
	lc := lifecycle.NewManager(l, broker)
	hc := health.NewController(l, rt, lc, broker, cfg.Health)

	return &Manager{
		cfg:        cfg,
		logger:     log.WithComponent("manager"),
		now:        time.Now,
		ledger:     l,
		runtime:    rt,
		scheduler:  scheduler.NewScheduler(l),
		lifecycle:  lc,
		health:     hc,
		reconciler: reconciler.NewReconciler(l, hc, lc, broker, cfg.SweepInterval),
		collector:  metrics.NewCollector(l, cfg.SweepInterval),
		broker:     broker,
		journal:    journal,
	}
}

// Start launches the event broker, the journal writer, the metrics collector
// and the sweep loop
func (m *Manager) Start() {
	m.broker.Start()

	if m.journal != nil {
		sub := m.broker.Subscribe()
		m.journalDone = make(chan struct{})
		go func() {
			defer close(m.journalDone)
			m.journal.Consume(sub)
		}()
		metrics.UpdateComponent(metrics.ComponentJournal, true, "")
	}

	m.collector.Start()
	m.reconciler.Start()

	metrics.UpdateComponent(metrics.ComponentLedger, true, "")
	metrics.UpdateComponent(metrics.ComponentRuntime, true, m.runtime.Name())
	m.logger.Info().
		Str("runtime", m.runtime.Name()).
		Dur("sweep_interval", m.cfg.SweepInterval).
		Dur("unhealthy_after", m.cfg.Health.UnhealthyAfter).
		Dur("remove_after", m.cfg.Health.RemoveAfter).
		Msg("Control plane started")
}

// Stop shuts the control plane down. Node environments are left running.
func (m *Manager) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		m.reconciler.Stop()
		m.collector.Stop()
		m.lifecycle.Stop()
		m.broker.Stop()

		if m.journal != nil {
			if m.journalDone != nil {
				<-m.journalDone
			}
			if cerr := m.journal.Close(); cerr != nil {
				err = fmt.Errorf("failed to close journal: %w", cerr)
			}
		}
		if cerr := m.runtime.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close runtime: %w", cerr)
		}
		m.logger.Info().Msg("Control plane stopped")
	})
	return err
}

// RegisterNode starts the node's environment and adds it to the ledger. If
// the runtime fails the node is never added; if another registration of the
// same ID wins the race, the environment started here is stopped again.
func (m *Manager) RegisterNode(ctx context.Context, id string, cpu int) (types.Node, error) {
	if id == "" {
		return types.Node{}, types.NewInvalidArgument("node id is required")
	}
	if cpu <= 0 {
		return types.Node{}, types.NewInvalidArgument("node %s: cpu must be positive, got %d", id, cpu)
	}
	if m.ledger.HasNode(id) {
		return types.Node{}, fmt.Errorf("node %s: %w", id, types.ErrAlreadyExists)
	}

	logger := log.WithNodeID(id)
	handle, err := m.runtime.StartNode(ctx, types.NodeSpec{
		ID:          id,
		CPULimit:    cpu,
		MemoryBytes: int64(cpu) * m.cfg.MemoryPerCPU,
		Image:       m.cfg.Image,
	})
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentRuntime, false, err.Error())
		logger.Error().Err(err).Msg("Failed to start node")
		return types.Node{}, fmt.Errorf("node %s: %w: %w", id, types.ErrRuntimeFailure, err)
	}
	metrics.UpdateComponent(metrics.ComponentRuntime, true, m.runtime.Name())

	node, err := m.ledger.RegisterNode(id, cpu, handle, m.now())
	if err != nil {
		if serr := m.runtime.StopNode(context.WithoutCancel(ctx), handle); serr != nil {
			logger.Warn().Err(serr).Msg("Failed to stop node after rejected registration")
		}
		return types.Node{}, err
	}

	logger.Info().Int("cpu", cpu).Str("handle", handle).Msg("Node registered")
	events.Emit(m.broker, &events.Event{
		Type:     events.EventNodeRegistered,
		NodeID:   id,
		Message:  fmt.Sprintf("node %s registered with %d cpu", id, cpu),
		Metadata: map[string]string{"cpu": fmt.Sprint(cpu)},
	})
	return node, nil
}

// Heartbeat records that the node is alive
func (m *Manager) Heartbeat(id string) error {
	recovered, err := m.ledger.Heartbeat(id, m.now())
	if err != nil {
		return err
	}
	if recovered {
		metrics.NodeTransitionsTotal.WithLabelValues(string(types.NodeStateHealthy)).Inc()
		logger := log.WithNodeID(id)
		logger.Info().Msg("Node recovered")
		events.Emit(m.broker, &events.Event{
			Type:    events.EventNodeRecovered,
			NodeID:  id,
			Message: fmt.Sprintf("node %s is sending heartbeats again", id),
		})
	}
	return nil
}

// SubmitPod places the pod with best fit and starts its completion timer.
// A pod that fits nowhere is rejected with ErrNoCapacity.
func (m *Manager) SubmitPod(spec types.PodSpec) (types.Pod, error) {
	pod, err := m.scheduler.Schedule(spec)
	if err != nil {
		return types.Pod{}, err
	}
	m.lifecycle.Track(pod)

	events.Emit(m.broker, &events.Event{
		Type:    events.EventPodScheduled,
		PodID:   pod.ID,
		NodeID:  pod.NodeID,
		Message: fmt.Sprintf("pod %s scheduled on node %s", pod.ID, pod.NodeID),
	})
	return pod, nil
}

// GetNode returns a node by ID
func (m *Manager) GetNode(id string) (types.Node, error) {
	return m.ledger.GetNode(id)
}

// ListNodes returns all nodes sorted by ID
func (m *Manager) ListNodes() []types.Node {
	return m.ledger.ListNodes()
}

// GetPod returns a pod by ID
func (m *Manager) GetPod(id string) (types.Pod, error) {
	return m.ledger.GetPod(id)
}

// ListPods returns all pods sorted by ID
func (m *Manager) ListPods() []types.Pod {
	return m.ledger.ListPods()
}

// Waitlist returns the waiting pods in queue order
func (m *Manager) Waitlist() []types.Pod {
	return m.ledger.Waitlist()
}

// Subscribe returns a channel of cluster events
func (m *Manager) Subscribe() events.Subscriber {
	return m.broker.Subscribe()
}

// Unsubscribe releases a subscription
func (m *Manager) Unsubscribe(sub events.Subscriber) {
	m.broker.Unsubscribe(sub)
}

// Reconcile runs one health and waitlist sweep immediately
func (m *Manager) Reconcile(ctx context.Context) {
	m.reconciler.Reconcile(ctx)
}
