package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/alpinekube/pkg/events"
	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/cuemby/alpinekube/pkg/metrics"
	"github.com/cuemby/alpinekube/pkg/runtime"
	"github.com/cuemby/alpinekube/pkg/scheduler"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the heartbeat thresholds. Both are measured from the node's
// last heartbeat, so RemoveAfter must be longer than UnhealthyAfter.
type Config struct {
	UnhealthyAfter time.Duration
	RemoveAfter    time.Duration
	RestartTimeout time.Duration
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		UnhealthyAfter: 6 * time.Second,
		RemoveAfter:    20 * time.Second,
		RestartTimeout: 30 * time.Second,
	}
}

// Validate checks the thresholds are usable
func (c Config) Validate() error {
	if c.UnhealthyAfter <= 0 {
		return types.NewInvalidArgument("unhealthy_after must be positive, got %s", c.UnhealthyAfter)
	}
	if c.RemoveAfter <= c.UnhealthyAfter {
		return types.NewInvalidArgument("remove_after (%s) must be longer than unhealthy_after (%s)", c.RemoveAfter, c.UnhealthyAfter)
	}
	if c.RestartTimeout <= 0 {
		return types.NewInvalidArgument("restart_timeout must be positive, got %s", c.RestartTimeout)
	}
	return nil
}

// Tracker schedules the completion of a pod that was placed again
type Tracker interface {
	Track(pod types.Pod)
}

// Reallocation outcomes for pods evicted from a removed node
const (
	OutcomeRescheduled = "rescheduled"
	OutcomeWaitlisted  = "waitlisted"
	OutcomeTerminated  = "terminated"
)

// SweepResult lists the node IDs affected by one sweep
type SweepResult struct {
	Unhealthy []string
	Restarted []string
	Removed   []string
}

// Controller runs the node heartbeat state machine:
//
//	Healthy ──idle > UnhealthyAfter──▶ Unhealthy ──idle > RemoveAfter──▶ Removed
//	   ▲                                   │
//	   └────── heartbeat or restart ───────┘
type Controller struct {
	ledger    *ledger.Ledger
	runtime   runtime.Runtime
	tracker   Tracker
	publisher events.Publisher
	logger    zerolog.Logger
	cfg       Config
	now       func() time.Time
}

// NewController creates a health controller
func NewController(l *ledger.Ledger, rt runtime.Runtime, tracker Tracker, publisher events.Publisher, cfg Config) *Controller {
	return &Controller{
		ledger:    l,
		runtime:   rt,
		tracker:   tracker,
		publisher: publisher,
		logger:    log.WithComponent("health"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Sweep evaluates every node once. Each node is handled independently;
// failures are logged and never abort the sweep.
//
// Every stale node is demoted before any node is removed, so pods evicted in
// this sweep never land on a node that is itself missing heartbeats.
func (c *Controller) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	for _, node := range c.ledger.ListNodes() {
		if ctx.Err() != nil {
			return result
		}
		now := c.now()
		idle := now.Sub(node.LastHeartbeat)
		if node.State != types.NodeStateHealthy || idle <= c.cfg.UnhealthyAfter {
			continue
		}
		if !c.demote(node.ID, now) {
			continue
		}
		result.Unhealthy = append(result.Unhealthy, node.ID)
		if c.restart(ctx, node, idle) {
			result.Restarted = append(result.Restarted, node.ID)
		}
	}

	for _, node := range c.ledger.ListNodes() {
		if ctx.Err() != nil {
			return result
		}
		now := c.now()
		if node.State != types.NodeStateUnhealthy || now.Sub(node.LastHeartbeat) <= c.cfg.RemoveAfter {
			continue
		}
		if c.remove(ctx, node.ID, now) {
			result.Removed = append(result.Removed, node.ID)
		}
	}
	return result
}

// demote marks the node Unhealthy unless a heartbeat arrived after the snapshot
func (c *Controller) demote(nodeID string, now time.Time) bool {
	demoted := false
	err := c.ledger.Update(func(tx *ledger.Tx) error {
		node, ok := tx.Node(nodeID)
		if !ok || node.State != types.NodeStateHealthy || now.Sub(node.LastHeartbeat) <= c.cfg.UnhealthyAfter {
			return nil
		}
		demoted = true
		return tx.MarkUnhealthy(nodeID)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("node_id", nodeID).Msg("Failed to mark node unhealthy")
		return false
	}
	if !demoted {
		return false
	}

	metrics.NodeTransitionsTotal.WithLabelValues(string(types.NodeStateUnhealthy)).Inc()
	events.Emit(c.publisher, &events.Event{
		Type:    events.EventNodeUnhealthy,
		NodeID:  nodeID,
		Message: fmt.Sprintf("node %s missed heartbeats", nodeID),
	})
	return true
}

// restart asks the runtime to restart the node. On success the node's
// heartbeat is refreshed and it is Healthy again with its pods untouched.
func (c *Controller) restart(ctx context.Context, node types.Node, idle time.Duration) bool {
	logger := c.logger.With().Str("node_id", node.ID).Dur("idle", idle).Logger()
	logger.Warn().Msg("Node unhealthy, attempting restart")

	restartCtx, cancel := context.WithTimeout(ctx, c.cfg.RestartTimeout)
	defer cancel()

	if err := c.runtime.RestartNode(restartCtx, node.RuntimeHandle); err != nil {
		metrics.NodeRestartsTotal.WithLabelValues("failure").Inc()
		logger.Warn().Err(err).Msg("Node restart failed, node stays unhealthy")
		return false
	}

	err := c.ledger.Update(func(tx *ledger.Tx) error {
		_, err := tx.TouchHeartbeat(node.ID, c.now())
		return err
	})
	if err != nil {
		metrics.NodeRestartsTotal.WithLabelValues("failure").Inc()
		logger.Warn().Err(err).Msg("Node restarted but could not be marked healthy")
		return false
	}

	metrics.NodeRestartsTotal.WithLabelValues("success").Inc()
	metrics.NodeTransitionsTotal.WithLabelValues(string(types.NodeStateHealthy)).Inc()
	logger.Info().Msg("Node restarted and healthy")
	events.Emit(c.publisher, &events.Event{
		Type:    events.EventNodeRestarted,
		NodeID:  node.ID,
		Message: fmt.Sprintf("node %s restarted", node.ID),
	})
	return true
}

type eviction struct {
	pod     types.Pod
	outcome string
}

// remove deletes an unhealthy node and resolves every pod it hosted in the
// same transaction: first-fit re-placement, else the waitlist if any node
// remains, else termination.
func (c *Controller) remove(ctx context.Context, nodeID string, now time.Time) bool {
	var (
		removed   types.Node
		evictions []eviction
	)

	err := c.ledger.Update(func(tx *ledger.Tx) error {
		node, ok := tx.Node(nodeID)
		if !ok || node.State != types.NodeStateUnhealthy || now.Sub(node.LastHeartbeat) <= c.cfg.RemoveAfter {
			return nil
		}
		orphaned, err := tx.DeleteNode(nodeID)
		if err != nil {
			return err
		}
		removed = node
		skip := c.staleNodes(tx, now)
		for _, podID := range orphaned {
			evictions = append(evictions, c.reallocate(tx, podID, skip, now))
		}
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Str("node_id", nodeID).Msg("Failed to remove node")
		return false
	}
	if removed.ID == "" {
		return false
	}

	metrics.NodeTransitionsTotal.WithLabelValues(string(types.NodeStateRemoved)).Inc()
	c.logger.Warn().
		Str("node_id", nodeID).
		Int("evicted", len(evictions)).
		Msg("Node removed")
	events.Emit(c.publisher, &events.Event{
		Type:    events.EventNodeRemoved,
		NodeID:  nodeID,
		Message: fmt.Sprintf("node %s removed after missing heartbeats", nodeID),
	})

	for _, ev := range evictions {
		c.report(nodeID, ev)
	}

	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.RestartTimeout)
	defer cancel()
	if err := c.runtime.StopNode(stopCtx, removed.RuntimeHandle); err != nil {
		c.logger.Warn().Err(err).Str("node_id", nodeID).Msg("Failed to stop removed node")
	}
	return true
}

// staleNodes lists nodes still marked Healthy whose last heartbeat is older
// than UnhealthyAfter
func (c *Controller) staleNodes(tx *ledger.Tx, now time.Time) map[string]bool {
	stale := make(map[string]bool)
	for _, node := range tx.Nodes() {
		if node.State == types.NodeStateHealthy && now.Sub(node.LastHeartbeat) > c.cfg.UnhealthyAfter {
			stale[node.ID] = true
		}
	}
	return stale
}

func (c *Controller) reallocate(tx *ledger.Tx, podID string, skip map[string]bool, now time.Time) eviction {
	pod, _ := tx.Pod(podID)

	if target, err := scheduler.Place(tx, scheduler.FirstFit{}, pod.CPURequest, skip); err == nil {
		placed, err := tx.Reassign(podID, target.ID, now)
		if err == nil {
			return eviction{pod: placed, outcome: OutcomeRescheduled}
		}
		c.logger.Error().Err(err).Str("pod_id", podID).Msg("Failed to reassign pod")
	} else if tx.NodeCount() > 0 {
		queued, err := tx.Enqueue(podID)
		if err == nil {
			return eviction{pod: queued, outcome: OutcomeWaitlisted}
		}
		c.logger.Error().Err(err).Str("pod_id", podID).Msg("Failed to queue pod")
	}

	terminated, err := tx.Terminate(podID, now)
	if err != nil {
		c.logger.Error().Err(err).Str("pod_id", podID).Msg("Failed to terminate pod")
	}
	return eviction{pod: terminated, outcome: OutcomeTerminated}
}

func (c *Controller) report(fromNode string, ev eviction) {
	metrics.ReallocationsTotal.WithLabelValues(ev.outcome).Inc()
	logger := c.logger.With().Str("pod_id", ev.pod.ID).Str("from_node", fromNode).Logger()

	switch ev.outcome {
	case OutcomeRescheduled:
		c.tracker.Track(ev.pod)
		logger.Info().Str("node_id", ev.pod.NodeID).Msg("Pod rescheduled")
		events.Emit(c.publisher, &events.Event{
			Type:    events.EventPodRescheduled,
			PodID:   ev.pod.ID,
			NodeID:  ev.pod.NodeID,
			Message: fmt.Sprintf("pod %s moved from node %s to node %s", ev.pod.ID, fromNode, ev.pod.NodeID),
		})
	case OutcomeWaitlisted:
		logger.Info().Msg("Pod waitlisted")
		events.Emit(c.publisher, &events.Event{
			Type:    events.EventPodWaitlisted,
			PodID:   ev.pod.ID,
			Message: fmt.Sprintf("pod %s waiting for capacity", ev.pod.ID),
		})
	case OutcomeTerminated:
		logger.Warn().Msg("Pod terminated, no nodes left")
		events.Emit(c.publisher, &events.Event{
			Type:    events.EventPodTerminated,
			PodID:   ev.pod.ID,
			Message: fmt.Sprintf("pod %s terminated: no nodes left", ev.pod.ID),
		})
	}
}
