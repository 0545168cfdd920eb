package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/alpinekube/pkg/health"
	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/runtime"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	tracked []types.Pod
}

func (f *fakeTracker) Track(pod types.Pod) {
	f.tracked = append(f.tracked, pod)
}

func newTestReconciler(l *ledger.Ledger, tracker *fakeTracker) *Reconciler {
	hc := health.NewController(l, runtime.NewSimulated(), tracker, nil, health.DefaultConfig())
	return NewReconciler(l, hc, tracker, nil, time.Hour)
}

// queuePods puts pods on the waitlist in the given order by evicting them
// from a temporary node
func queuePods(t *testing.T, l *ledger.Ledger, cpus map[string]int, order []string) {
	t.Helper()
	now := time.Now()
	err := l.Update(func(tx *ledger.Tx) error {
		total := 0
		for _, cpu := range cpus {
			total += cpu
		}
		if _, err := tx.AddNode("tmp", total, "", now); err != nil {
			return err
		}
		for _, id := range order {
			spec := types.PodSpec{ID: id, CPURequest: cpus[id], Duration: time.Minute}
			if _, err := tx.StartPod(spec, "tmp", now); err != nil {
				return err
			}
		}
		if _, err := tx.DeleteNode("tmp"); err != nil {
			return err
		}
		for _, id := range order {
			if _, err := tx.Enqueue(id); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func waitlistIDs(l *ledger.Ledger) []string {
	var ids []string
	for _, pod := range l.Waitlist() {
		ids = append(ids, pod.ID)
	}
	return ids
}

func TestReconcileWaitlistOnePodPerNodePerPass(t *testing.T) {
	l := ledger.New()
	tracker := &fakeTracker{}
	r := newTestReconciler(l, tracker)

	queuePods(t, l, map[string]int{"p1": 2, "p2": 2, "p3": 2}, []string{"p1", "p2", "p3"})
	_, err := l.RegisterNode("n1", 4, "", time.Now())
	require.NoError(t, err)
	_, err = l.RegisterNode("n2", 4, "", time.Now())
	require.NoError(t, err)

	placed := r.ReconcileWaitlist()
	require.Len(t, placed, 2)
	assert.Equal(t, "p1", placed[0].ID)
	assert.Equal(t, "n1", placed[0].NodeID)
	assert.Equal(t, "p2", placed[1].ID)
	assert.Equal(t, "n2", placed[1].NodeID)
	assert.Equal(t, []string{"p3"}, waitlistIDs(l))

	placed = r.ReconcileWaitlist()
	require.Len(t, placed, 1)
	assert.Equal(t, "p3", placed[0].ID)
	assert.Equal(t, "n1", placed[0].NodeID)
	assert.Empty(t, waitlistIDs(l))

	assert.Len(t, tracker.tracked, 3)
	for _, pod := range tracker.tracked {
		assert.Equal(t, types.PodStatusRunning, pod.Status)
		assert.NotEmpty(t, pod.LifecycleToken)
	}
	require.NoError(t, l.Verify())
}

func TestReconcileWaitlistKeepsUnmatchedInOrder(t *testing.T) {
	l := ledger.New()
	r := newTestReconciler(l, &fakeTracker{})

	queuePods(t, l, map[string]int{"big": 8, "small": 1, "huge": 16}, []string{"big", "small", "huge"})
	_, err := l.RegisterNode("n1", 2, "", time.Now())
	require.NoError(t, err)

	placed := r.ReconcileWaitlist()
	require.Len(t, placed, 1)
	assert.Equal(t, "small", placed[0].ID)
	assert.Equal(t, []string{"big", "huge"}, waitlistIDs(l))
	require.NoError(t, l.Verify())
}

func TestReconcileWaitlistSkipsUnhealthyNodes(t *testing.T) {
	l := ledger.New()
	r := newTestReconciler(l, &fakeTracker{})

	queuePods(t, l, map[string]int{"p1": 1}, []string{"p1"})
	_, err := l.RegisterNode("n1", 4, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		return tx.MarkUnhealthy("n1")
	}))

	assert.Empty(t, r.ReconcileWaitlist())
	assert.Equal(t, []string{"p1"}, waitlistIDs(l))
}

func TestReconcileReallocatesPodsFromSilentNodes(t *testing.T) {
	l := ledger.New()
	tracker := &fakeTracker{}
	r := newTestReconciler(l, tracker)

	stale := time.Now().Add(-time.Minute)
	_, err := l.RegisterNode("n1", 4, "sim-n1", stale)
	require.NoError(t, err)
	_, err = l.RegisterNode("n2", 4, "sim-n2", time.Now())
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		_, err := tx.StartPod(types.PodSpec{ID: "p1", CPURequest: 3, Duration: time.Minute}, "n1", stale)
		return err
	}))

	r.Reconcile(context.Background())

	assert.False(t, l.HasNode("n1"))
	pod, err := l.GetPod("p1")
	require.NoError(t, err)
	assert.Equal(t, types.PodStatusRunning, pod.Status)
	assert.Equal(t, "n2", pod.NodeID)
	require.Len(t, tracker.tracked, 1)
	require.NoError(t, l.Verify())
}

func TestReconcileRemovesSilentNodesBeforeDrainingWaitlist(t *testing.T) {
	l := ledger.New()
	tracker := &fakeTracker{}
	r := newTestReconciler(l, tracker)

	queuePods(t, l, map[string]int{"q1": 1}, []string{"q1"})

	// n1 still reads Healthy and sorts first, but it is about to be removed
	_, err := l.RegisterNode("n1", 4, "sim-n1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = l.RegisterNode("n2", 4, "sim-n2", time.Now())
	require.NoError(t, err)

	r.Reconcile(context.Background())

	assert.False(t, l.HasNode("n1"))
	assert.Empty(t, waitlistIDs(l))
	pod, err := l.GetPod("q1")
	require.NoError(t, err)
	assert.Equal(t, types.PodStatusRunning, pod.Status)
	assert.Equal(t, "n2", pod.NodeID)
	assert.Equal(t, 1, pod.Restarts)
	require.Len(t, tracker.tracked, 1)
	assert.Equal(t, "q1", tracker.tracked[0].ID)
	require.NoError(t, l.Verify())
}

func TestStartStop(t *testing.T) {
	l := ledger.New()
	hc := health.NewController(l, runtime.NewSimulated(), &fakeTracker{}, nil, health.DefaultConfig())
	r := NewReconciler(l, hc, &fakeTracker{}, nil, 10*time.Millisecond)

	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()
}
