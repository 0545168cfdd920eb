package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	l := New()
	n := 0
	l.newToken = func() string {
		n++
		return fmt.Sprintf("token-%d", n)
	}
	return l
}

func spec(id string, cpu int) types.PodSpec {
	return types.PodSpec{ID: id, CPURequest: cpu, Duration: time.Second}
}

func TestRegisterNode(t *testing.T) {
	l := newTestLedger()

	node, err := l.RegisterNode("n1", 4, "handle-1", epoch)
	require.NoError(t, err)
	assert.Equal(t, 4, node.TotalCPU)
	assert.Equal(t, 4, node.AvailableCPU)
	assert.Equal(t, types.NodeStateHealthy, node.State)
	assert.Equal(t, epoch, node.LastHeartbeat)
	assert.Equal(t, "handle-1", node.RuntimeHandle)

	_, err = l.RegisterNode("n1", 8, "handle-2", epoch)
	assert.True(t, errors.Is(err, types.ErrAlreadyExists))

	got, err := l.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalCPU, "duplicate registration must not overwrite")
}

func TestRegisterNodeValidation(t *testing.T) {
	tests := []struct {
		name string
		id   string
		cpu  int
	}{
		{name: "empty id", id: "", cpu: 2},
		{name: "zero cpu", id: "n1", cpu: 0},
		{name: "negative cpu", id: "n1", cpu: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger()
			_, err := l.RegisterNode(tt.id, tt.cpu, "", epoch)
			assert.True(t, errors.Is(err, types.ErrInvalidArgument))
			assert.Empty(t, l.ListNodes())
		})
	}
}

func TestHeartbeat(t *testing.T) {
	l := newTestLedger()
	_, err := l.RegisterNode("n1", 2, "", epoch)
	require.NoError(t, err)

	_, err = l.Heartbeat("missing", epoch)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	require.NoError(t, l.Update(func(tx *Tx) error {
		return tx.MarkUnhealthy("n1")
	}))

	later := epoch.Add(10 * time.Second)
	recovered, err := l.Heartbeat("n1", later)
	require.NoError(t, err)
	assert.True(t, recovered)

	node, err := l.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateHealthy, node.State)
	assert.Equal(t, later, node.LastHeartbeat)

	recovered, err = l.Heartbeat("n1", later.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, recovered)
}

func TestStartPod(t *testing.T) {
	l := newTestLedger()
	_, err := l.RegisterNode("n1", 4, "", epoch)
	require.NoError(t, err)

	var pod types.Pod
	require.NoError(t, l.Update(func(tx *Tx) error {
		var err error
		pod, err = tx.StartPod(spec("p1", 3), "n1", epoch)
		return err
	}))

	assert.Equal(t, types.PodStatusRunning, pod.Status)
	assert.Equal(t, "n1", pod.NodeID)
	assert.Equal(t, "token-1", pod.LifecycleToken)
	assert.Equal(t, epoch, pod.StartTime)

	node, err := l.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, 1, node.AvailableCPU)
	assert.Equal(t, []string{"p1"}, node.AssignedPods)
	require.NoError(t, l.Verify())
}

func TestStartPodRejections(t *testing.T) {
	l := newTestLedger()
	_, err := l.RegisterNode("n1", 4, "", epoch)
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *Tx) error {
		_, err := tx.StartPod(spec("p1", 2), "n1", epoch)
		return err
	}))

	tests := []struct {
		name    string
		spec    types.PodSpec
		node    string
		wantErr error
	}{
		{name: "duplicate running pod", spec: spec("p1", 1), node: "n1", wantErr: types.ErrAlreadyExists},
		{name: "insufficient cpu", spec: spec("p2", 3), node: "n1", wantErr: types.ErrNoCapacity},
		{name: "unknown node", spec: spec("p2", 1), node: "n9", wantErr: types.ErrNotFound},
		{name: "zero cpu", spec: spec("p2", 0), node: "n1", wantErr: types.ErrInvalidArgument},
		{name: "zero duration", spec: types.PodSpec{ID: "p2", CPURequest: 1}, node: "n1", wantErr: types.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := l.ListNodes()
			err := l.Update(func(tx *Tx) error {
				_, err := tx.StartPod(tt.spec, tt.node, epoch)
				return err
			})
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, before, l.ListNodes())
			assert.Len(t, l.ListPods(), 1)
		})
	}
}

func TestResubmitTerminalPod(t *testing.T) {
	l := newTestLedger()
	_, err := l.RegisterNode("n1", 4, "", epoch)
	require.NoError(t, err)

	require.NoError(t, l.Update(func(tx *Tx) error {
		if _, err := tx.StartPod(spec("p1", 2), "n1", epoch); err != nil {
			return err
		}
		_, err := tx.Complete("p1", epoch.Add(time.Second))
		return err
	}))

	var pod types.Pod
	require.NoError(t, l.Update(func(tx *Tx) error {
		var err error
		pod, err = tx.StartPod(spec("p1", 4), "n1", epoch.Add(2*time.Second))
		return err
	}))
	assert.Equal(t, types.PodStatusRunning, pod.Status)
	assert.Equal(t, 4, pod.CPURequest)
	assert.True(t, pod.FinishedAt.IsZero())
	require.NoError(t, l.Verify())
}

func TestDeleteNodeResolution(t *testing.T) {
	l := newTestLedger()
	for _, id := range []string{"n1", "n2"} {
		_, err := l.RegisterNode(id, 4, "", epoch)
		require.NoError(t, err)
	}
	require.NoError(t, l.Update(func(tx *Tx) error {
		for _, s := range []types.PodSpec{spec("a", 1), spec("b", 2), spec("c", 1)} {
			if _, err := tx.StartPod(s, "n1", epoch); err != nil {
				return err
			}
		}
		_, err := tx.StartPod(spec("d", 3), "n2", epoch)
		return err
	}))

	later := epoch.Add(time.Minute)
	require.NoError(t, l.Update(func(tx *Tx) error {
		orphaned, err := tx.DeleteNode("n1")
		if err != nil {
			return err
		}
		assert.Equal(t, []string{"a", "b", "c"}, orphaned)

		moved, err := tx.Reassign("a", "n2", later)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, moved.Restarts)
		assert.Equal(t, "token-5", moved.LifecycleToken)

		if _, err := tx.Enqueue("b"); err != nil {
			return err
		}
		_, err = tx.Terminate("c", later)
		return err
	}))

	require.NoError(t, l.Verify())

	pods := l.ListPods()
	byID := make(map[string]types.Pod)
	for _, p := range pods {
		byID[p.ID] = p
	}
	assert.Equal(t, types.PodStatusRunning, byID["a"].Status)
	assert.Equal(t, "n2", byID["a"].NodeID)
	assert.Equal(t, later, byID["a"].StartTime)
	assert.Equal(t, types.PodStatusWaiting, byID["b"].Status)
	assert.Empty(t, byID["b"].NodeID)
	assert.Equal(t, types.PodStatusTerminated, byID["c"].Status)

	waiting := l.Waitlist()
	require.Len(t, waiting, 1)
	assert.Equal(t, "b", waiting[0].ID)

	n2, err := l.GetNode("n2")
	require.NoError(t, err)
	assert.Equal(t, 0, n2.AvailableCPU)
	assert.Equal(t, []string{"a", "d"}, n2.AssignedPods)
}

func TestReassignRequiresOrphanedOrWaiting(t *testing.T) {
	l := newTestLedger()
	for _, id := range []string{"n1", "n2"} {
		_, err := l.RegisterNode(id, 4, "", epoch)
		require.NoError(t, err)
	}
	require.NoError(t, l.Update(func(tx *Tx) error {
		_, err := tx.StartPod(spec("p1", 1), "n1", epoch)
		return err
	}))

	err := l.Update(func(tx *Tx) error {
		_, err := tx.Reassign("p1", "n2", epoch)
		return err
	})
	assert.Error(t, err)

	err = l.Update(func(tx *Tx) error {
		_, err := tx.Enqueue("p1")
		return err
	})
	assert.Error(t, err)
	require.NoError(t, l.Verify())
}

func TestReassignFromWaitlist(t *testing.T) {
	l := newTestLedger()
	for _, id := range []string{"n1", "n2"} {
		_, err := l.RegisterNode(id, 2, "", epoch)
		require.NoError(t, err)
	}
	require.NoError(t, l.Update(func(tx *Tx) error {
		if _, err := tx.StartPod(spec("p1", 2), "n1", epoch); err != nil {
			return err
		}
		if _, err := tx.DeleteNode("n1"); err != nil {
			return err
		}
		_, err := tx.Enqueue("p1")
		return err
	}))
	require.Len(t, l.Waitlist(), 1)

	require.NoError(t, l.Update(func(tx *Tx) error {
		_, err := tx.Reassign("p1", "n2", epoch)
		return err
	}))
	assert.Empty(t, l.Waitlist())
	require.NoError(t, l.Verify())
}

func TestTerminateWaitingPod(t *testing.T) {
	l := newTestLedger()
	_, err := l.RegisterNode("n1", 2, "", epoch)
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *Tx) error {
		if _, err := tx.StartPod(spec("p1", 2), "n1", epoch); err != nil {
			return err
		}
		if _, err := tx.DeleteNode("n1"); err != nil {
			return err
		}
		if _, err := tx.Enqueue("p1"); err != nil {
			return err
		}
		_, err := tx.Terminate("p1", epoch)
		return err
	}))
	assert.Empty(t, l.Waitlist())
	require.NoError(t, l.Verify())
}

func TestViewIsReadOnly(t *testing.T) {
	l := newTestLedger()
	err := l.View(func(tx *Tx) error {
		_, err := tx.AddNode("n1", 2, "", epoch)
		return err
	})
	assert.ErrorIs(t, err, ErrTxReadOnly)
	assert.Empty(t, l.ListNodes())
}

func TestSnapshotsAreCopies(t *testing.T) {
	l := newTestLedger()
	_, err := l.RegisterNode("n1", 4, "", epoch)
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *Tx) error {
		_, err := tx.StartPod(spec("p1", 1), "n1", epoch)
		return err
	}))

	nodes := l.ListNodes()
	nodes[0].AvailableCPU = 100
	nodes[0].AssignedPods[0] = "mutated"

	node, err := l.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, 3, node.AvailableCPU)
	assert.Equal(t, []string{"p1"}, node.AssignedPods)
}

func TestStats(t *testing.T) {
	l := newTestLedger()
	_, err := l.RegisterNode("n1", 4, "", epoch)
	require.NoError(t, err)
	_, err = l.RegisterNode("n2", 2, "", epoch)
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *Tx) error {
		if err := tx.MarkUnhealthy("n2"); err != nil {
			return err
		}
		_, err := tx.StartPod(spec("p1", 3), "n1", epoch)
		return err
	}))

	stats := l.Stats()
	assert.Equal(t, 1, stats.NodesByState[types.NodeStateHealthy])
	assert.Equal(t, 1, stats.NodesByState[types.NodeStateUnhealthy])
	assert.Equal(t, 1, stats.PodsByStatus[types.PodStatusRunning])
	assert.Equal(t, 6, stats.TotalCPU)
	assert.Equal(t, 3, stats.AvailableCPU)
	assert.Equal(t, 0, stats.Waiting)
}

func TestConcurrentPlacementNeverOverbooks(t *testing.T) {
	l := New()
	_, err := l.RegisterNode("n1", 10, "", epoch)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Update(func(tx *Tx) error {
				_, err := tx.StartPod(spec(fmt.Sprintf("p%d", i), 1), "n1", epoch)
				return err
			})
			if err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, placed)
	require.NoError(t, l.Verify())
	node, err := l.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, 0, node.AvailableCPU)
}
