package scheduler

import (
	"fmt"
	"time"

	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/cuemby/alpinekube/pkg/metrics"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler places newly submitted pods onto nodes
type Scheduler struct {
	ledger *ledger.Ledger
	policy Policy
	logger zerolog.Logger
	now    func() time.Time
}

// NewScheduler creates a scheduler using best-fit placement
func NewScheduler(l *ledger.Ledger) *Scheduler {
	return &Scheduler{
		ledger: l,
		policy: BestFit{},
		logger: log.WithComponent("scheduler"),
		now:    time.Now,
	}
}

// Schedule creates the pod and places it in one ledger transaction. On
// ErrNoCapacity the ledger is left untouched; the caller decides whether that
// is a rejection.
func (s *Scheduler) Schedule(spec types.PodSpec) (types.Pod, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	if err := spec.Validate(); err != nil {
		metrics.PlacementsTotal.WithLabelValues(s.policy.Name(), "rejected").Inc()
		return types.Pod{}, err
	}

	var pod types.Pod
	err := s.ledger.Update(func(tx *ledger.Tx) error {
		if prev, ok := tx.Pod(spec.ID); ok && !prev.Status.Terminal() {
			return fmt.Errorf("pod %s: %w", spec.ID, types.ErrAlreadyExists)
		}
		node, err := Place(tx, s.policy, spec.CPURequest, nil)
		if err != nil {
			return fmt.Errorf("pod %s: %w", spec.ID, err)
		}
		pod, err = tx.StartPod(spec, node.ID, s.now())
		return err
	})
	if err != nil {
		metrics.PlacementsTotal.WithLabelValues(s.policy.Name(), resultLabel(err)).Inc()
		s.logger.Debug().Err(err).Str("pod_id", spec.ID).Int("cpu_req", spec.CPURequest).Msg("Pod not scheduled")
		return types.Pod{}, err
	}

	metrics.PlacementsTotal.WithLabelValues(s.policy.Name(), "placed").Inc()
	s.logger.Info().
		Str("pod_id", pod.ID).
		Str("node_id", pod.NodeID).
		Int("cpu_req", pod.CPURequest).
		Msg("Pod scheduled")
	return pod, nil
}

// Place selects a node for cpuReq with the given policy. Nodes listed in skip
// are not considered. It returns ErrNoCapacity when no node qualifies.
func Place(tx *ledger.Tx, policy Policy, cpuReq int, skip map[string]bool) (types.Node, error) {
	candidates := filterEligible(tx.Nodes(), cpuReq, skip)
	node, ok := policy.Select(candidates, cpuReq)
	if !ok {
		return types.Node{}, fmt.Errorf("%d cpu requested: %w", cpuReq, types.ErrNoCapacity)
	}
	return node, nil
}

// filterEligible returns healthy nodes with enough available CPU, keeping
// the input order
func filterEligible(nodes []types.Node, cpuReq int, skip map[string]bool) []types.Node {
	var eligible []types.Node
	for _, node := range nodes {
		if skip[node.ID] {
			continue
		}
		if node.State != types.NodeStateHealthy || node.AvailableCPU < cpuReq {
			continue
		}
		eligible = append(eligible, node)
	}
	return eligible
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "placed"
	case isNoCapacity(err):
		return "no_capacity"
	default:
		return "rejected"
	}
}
