package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/alpinekube/pkg/events"
	"github.com/cuemby/alpinekube/pkg/health"
	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/cuemby/alpinekube/pkg/metrics"
	"github.com/cuemby/alpinekube/pkg/scheduler"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the period between two sweeps
const DefaultInterval = 5 * time.Second

// Reconciler drives the periodic sweep: node health first, then the waitlist
type Reconciler struct {
	ledger    *ledger.Ledger
	health    *health.Controller
	tracker   health.Tracker
	publisher events.Publisher
	logger    zerolog.Logger
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewReconciler creates a new reconciler
func NewReconciler(l *ledger.Ledger, hc *health.Controller, tracker health.Tracker, publisher events.Publisher, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		ledger:    l,
		health:    hc,
		tracker:   tracker,
		publisher: publisher,
		logger:    log.WithComponent("reconciler"),
		interval:  interval,
		now:       time.Now,
		doneCh:    make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	metrics.UpdateComponent(metrics.ComponentSweeper, true, "")
	go r.run(ctx)
}

// Stop stops the loop and waits for an in-flight sweep to return
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		cancel := r.cancel
		r.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-r.doneCh
	})
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Reconcile performs one sweep. Every node is processed before the waitlist
// so that pods evicted in this sweep are already queued when it is drained.
func (r *Reconciler) Reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepCyclesTotal.Inc()
	}()

	result := r.health.Sweep(ctx)
	if len(result.Unhealthy) > 0 || len(result.Removed) > 0 {
		r.logger.Info().
			Strs("unhealthy", result.Unhealthy).
			Strs("restarted", result.Restarted).
			Strs("removed", result.Removed).
			Msg("Health sweep changed nodes")
	}

	if ctx.Err() != nil {
		return
	}
	r.ReconcileWaitlist()
	metrics.UpdateComponent(metrics.ComponentSweeper, true, fmt.Sprintf("last sweep %s", r.now().Format(time.RFC3339)))
}

// ReconcileWaitlist makes one FIFO pass over the waitlist. Each pod goes to
// the first healthy node that fits it; a node takes at most one pod per pass.
// Pods that do not fit keep their place in the queue.
func (r *Reconciler) ReconcileWaitlist() []types.Pod {
	var placed []types.Pod
	now := r.now()

	err := r.ledger.Update(func(tx *ledger.Tx) error {
		used := make(map[string]bool)
		for _, pod := range tx.Waitlist() {
			node, err := scheduler.Place(tx, scheduler.FirstFit{}, pod.CPURequest, used)
			if err != nil {
				continue
			}
			running, err := tx.Reassign(pod.ID, node.ID, now)
			if err != nil {
				r.logger.Error().Err(err).Str("pod_id", pod.ID).Str("node_id", node.ID).Msg("Failed to place waiting pod")
				continue
			}
			used[node.ID] = true
			placed = append(placed, running)
		}
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to reconcile waitlist")
		return nil
	}

	for _, pod := range placed {
		r.tracker.Track(pod)
		metrics.WaitlistPlacementsTotal.Inc()
		r.logger.Info().
			Str("pod_id", pod.ID).
			Str("node_id", pod.NodeID).
			Int("cpu_req", pod.CPURequest).
			Msg("Waiting pod placed")
		events.Emit(r.publisher, &events.Event{
			Type:    events.EventPodScheduled,
			PodID:   pod.ID,
			NodeID:  pod.NodeID,
			Message: fmt.Sprintf("pod %s placed on node %s from the waitlist", pod.ID, pod.NodeID),
		})
	}
	return placed
}
