package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/alpinekube/pkg/events"
	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/cuemby/alpinekube/pkg/metrics"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/rs/zerolog"
)

// Outcome is the result of firing a completion task
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeTerminated Outcome = "terminated"
	OutcomeStale      Outcome = "stale" // The placement the task was created for no longer exists
)

// Task is the deferred completion of one placement of a pod
type Task struct {
	PodID    string
	Token    string
	Duration time.Duration
}

// TaskFor builds the completion task for the pod's current placement
func TaskFor(pod types.Pod) Task {
	return Task{PodID: pod.ID, Token: pod.LifecycleToken, Duration: pod.Duration}
}

// Timer is a scheduled callback that can be released
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manager runs one completion timer per running placement. Timers are never
// cancelled to invalidate a placement; a timer whose token no longer matches
// the pod is a no-op when it fires.
type Manager struct {
	ledger    *ledger.Ledger
	publisher events.Publisher
	logger    zerolog.Logger
	afterFunc AfterFunc
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]Timer // Keyed by lifecycle token
	stopped bool
}

// NewManager creates a lifecycle manager backed by real timers
func NewManager(l *ledger.Ledger, publisher events.Publisher) *Manager {
	return &Manager{
		ledger:    l,
		publisher: publisher,
		logger:    log.WithComponent("lifecycle"),
		afterFunc: realAfterFunc,
		now:       time.Now,
		pending:   make(map[string]Timer),
	}
}

// Track schedules the completion task for a pod that has just entered Running
func (m *Manager) Track(pod types.Pod) {
	if pod.Status != types.PodStatusRunning || pod.LifecycleToken == "" {
		return
	}
	task := TaskFor(pod)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.pending[task.Token] = m.afterFunc(task.Duration, func() {
		m.mu.Lock()
		delete(m.pending, task.Token)
		m.mu.Unlock()

		m.Fire(task)
	})
}

// Fire runs the completion action for a task: stale tasks are ignored, pods
// whose node has disappeared are terminated, everything else completes and
// returns its CPU to the node.
func (m *Manager) Fire(task Task) Outcome {
	outcome := OutcomeStale
	var pod types.Pod

	err := m.ledger.Update(func(tx *ledger.Tx) error {
		current, ok := tx.Pod(task.PodID)
		if !ok || current.Status != types.PodStatusRunning || current.LifecycleToken != task.Token {
			return nil
		}

		var err error
		if _, hosted := tx.Node(current.NodeID); !hosted {
			pod, err = tx.Terminate(task.PodID, m.now())
			outcome = OutcomeTerminated
			return err
		}
		pod, err = tx.Complete(task.PodID, m.now())
		outcome = OutcomeCompleted
		return err
	})
	if err != nil {
		// Unreachable while the ledger invariants hold
		m.logger.Error().Err(err).Str("pod_id", task.PodID).Msg("Failed to apply completion")
		return OutcomeStale
	}

	metrics.LifecycleOutcomesTotal.WithLabelValues(string(outcome)).Inc()

	switch outcome {
	case OutcomeStale:
		m.logger.Debug().Str("pod_id", task.PodID).Str("token", task.Token).Msg("Ignoring stale completion")
	case OutcomeTerminated:
		m.logger.Warn().Str("pod_id", pod.ID).Str("node_id", pod.NodeID).Msg("Pod terminated, node no longer exists")
		events.Emit(m.publisher, &events.Event{
			Type:    events.EventPodTerminated,
			PodID:   pod.ID,
			NodeID:  pod.NodeID,
			Message: fmt.Sprintf("pod %s terminated: node %s no longer exists", pod.ID, pod.NodeID),
		})
	case OutcomeCompleted:
		m.logger.Info().Str("pod_id", pod.ID).Str("node_id", pod.NodeID).Int("cpu_req", pod.CPURequest).Msg("Pod completed")
		events.Emit(m.publisher, &events.Event{
			Type:    events.EventPodCompleted,
			PodID:   pod.ID,
			NodeID:  pod.NodeID,
			Message: fmt.Sprintf("pod %s completed on node %s", pod.ID, pod.NodeID),
		})
	}
	return outcome
}

// Pending returns the number of timers that have not fired yet
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stop releases all pending timers. Pods that were running stay Running in
// the ledger; the ledger does not outlive the process.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	for token, timer := range m.pending {
		timer.Stop()
		delete(m.pending, token)
	}
}
