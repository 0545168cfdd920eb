package manager

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/alpinekube/pkg/events"
	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/runtime"
	"github.com/cuemby/alpinekube/pkg/storage"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRuntime struct {
	*runtime.Simulated
}

func (f failingRuntime) StartNode(ctx context.Context, spec types.NodeSpec) (string, error) {
	return "", errors.New("image pull failed")
}

func testConfig() Config {
	cfg := DefaultConfig()
	// Sweeps are driven explicitly
	cfg.SweepInterval = time.Hour
	return cfg
}

func newTestManager(t *testing.T, rt runtime.Runtime, journal *storage.BoltJournal) *Manager {
	t.Helper()
	m := NewManager(testConfig(), rt, journal)
	m.Start()
	t.Cleanup(func() {
		require.NoError(t, m.Stop())
	})
	return m
}

func TestPodCompletesAfterDuration(t *testing.T) {
	m := newTestManager(t, runtime.NewSimulated(), nil)
	ctx := context.Background()

	_, err := m.RegisterNode(ctx, "n1", 4)
	require.NoError(t, err)

	pod, err := m.SubmitPod(types.PodSpec{ID: "p1", CPURequest: 4, Duration: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, types.PodStatusRunning, pod.Status)
	assert.Equal(t, "n1", pod.NodeID)

	node, err := m.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, 0, node.AvailableCPU)
	assert.Equal(t, []string{"p1"}, node.AssignedPods)

	assert.Eventually(t, func() bool {
		pod, err := m.GetPod("p1")
		return err == nil && pod.Status == types.PodStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	node, err = m.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, 4, node.AvailableCPU)
	assert.Empty(t, node.AssignedPods)
	require.NoError(t, m.ledger.Verify())
}

func TestSubmitWithoutCapacityLeavesLedgerUnchanged(t *testing.T) {
	m := newTestManager(t, runtime.NewSimulated(), nil)

	_, err := m.RegisterNode(context.Background(), "n1", 2)
	require.NoError(t, err)
	before := m.ListNodes()

	_, err = m.SubmitPod(types.PodSpec{ID: "p1", CPURequest: 4, Duration: time.Second})
	assert.ErrorIs(t, err, types.ErrNoCapacity)

	assert.Equal(t, before, m.ListNodes())
	assert.Empty(t, m.ListPods())
	assert.Empty(t, m.Waitlist())
}

func TestSubmitUsesBestFit(t *testing.T) {
	m := newTestManager(t, runtime.NewSimulated(), nil)
	ctx := context.Background()

	for id, cpu := range map[string]int{"A": 5, "B": 8, "C": 3} {
		_, err := m.RegisterNode(ctx, id, cpu)
		require.NoError(t, err)
	}

	pod, err := m.SubmitPod(types.PodSpec{ID: "p1", CPURequest: 3, Duration: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "B", pod.NodeID)

	node, err := m.GetNode("B")
	require.NoError(t, err)
	assert.Equal(t, 5, node.AvailableCPU)
}

func TestRegisterNodeErrors(t *testing.T) {
	rt := runtime.NewSimulated()
	m := newTestManager(t, rt, nil)
	ctx := context.Background()

	_, err := m.RegisterNode(ctx, "n1", 2)
	require.NoError(t, err)

	_, err = m.RegisterNode(ctx, "n1", 4)
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
	assert.Equal(t, 1, rt.Running())

	_, err = m.RegisterNode(ctx, "", 4)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = m.RegisterNode(ctx, "n2", 0)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.Equal(t, 1, rt.Running())
}

func TestRegisterNodeRuntimeFailure(t *testing.T) {
	m := newTestManager(t, failingRuntime{runtime.NewSimulated()}, nil)

	_, err := m.RegisterNode(context.Background(), "n1", 2)
	assert.ErrorIs(t, err, types.ErrRuntimeFailure)
	assert.Contains(t, err.Error(), "image pull failed")
	assert.Empty(t, m.ListNodes())

	_, err = m.GetNode("n1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestHeartbeat(t *testing.T) {
	m := newTestManager(t, runtime.NewSimulated(), nil)
	sub := m.Subscribe()
	defer m.Unsubscribe(sub)

	assert.ErrorIs(t, m.Heartbeat("missing"), types.ErrNotFound)

	_, err := m.RegisterNode(context.Background(), "n1", 2)
	require.NoError(t, err)
	require.NoError(t, m.ledger.Update(func(tx *ledger.Tx) error {
		return tx.MarkUnhealthy("n1")
	}))

	require.NoError(t, m.Heartbeat("n1"))
	node, err := m.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateHealthy, node.State)

	var seen []events.EventType
	require.Eventually(t, func() bool {
		select {
		case e := <-sub:
			seen = append(seen, e.Type)
		default:
		}
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []events.EventType{events.EventNodeRegistered, events.EventNodeRecovered}, seen)
}

func TestSilentNodeIsRemovedAndPodsReallocated(t *testing.T) {
	m := newTestManager(t, runtime.NewSimulated(), nil)
	ctx := context.Background()

	// Both nodes last heard from a minute ago
	m.now = func() time.Time { return time.Now().Add(-time.Minute) }
	_, err := m.RegisterNode(ctx, "n1", 4)
	require.NoError(t, err)
	_, err = m.RegisterNode(ctx, "n2", 4)
	require.NoError(t, err)

	pod, err := m.SubmitPod(types.PodSpec{ID: "p1", CPURequest: 3, Duration: time.Minute})
	require.NoError(t, err)
	silent := pod.NodeID
	other := "n1"
	if silent == "n1" {
		other = "n2"
	}

	m.now = time.Now
	require.NoError(t, m.Heartbeat(other))

	m.Reconcile(ctx)

	_, err = m.GetNode(silent)
	assert.ErrorIs(t, err, types.ErrNotFound)

	moved, err := m.GetPod("p1")
	require.NoError(t, err)
	assert.Equal(t, types.PodStatusRunning, moved.Status)
	assert.Equal(t, other, moved.NodeID)
	assert.NotEqual(t, pod.LifecycleToken, moved.LifecycleToken)
	assert.Equal(t, 1, moved.Restarts)
	require.NoError(t, m.ledger.Verify())
}

func TestEventsAreJournaled(t *testing.T) {
	journal, err := storage.NewBoltJournal(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)

	m := NewManager(testConfig(), runtime.NewSimulated(), journal)
	m.Start()

	_, err = m.RegisterNode(context.Background(), "n1", 2)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		records, err := journal.List(storage.Filter{NodeID: "n1"})
		return err == nil && len(records) == 1 && records[0].Event.Type == events.EventNodeRegistered
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
}
