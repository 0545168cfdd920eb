package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/google/uuid"
)

// ErrTxReadOnly is returned when a mutator is called inside View
var ErrTxReadOnly = errors.New("ledger: transaction is read-only")

// Ledger is the authoritative in-memory record of nodes, pods and the waitlist.
// A single mutex guards all three collections; every read-modify-write happens
// inside one View or Update call.
type Ledger struct {
	mu       sync.Mutex
	nodes    map[string]*types.Node
	pods     map[string]*types.Pod
	waitlist []string // Pod IDs in FIFO order

	newToken func() string
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		nodes:    make(map[string]*types.Node),
		pods:     make(map[string]*types.Pod),
		newToken: uuid.NewString,
	}
}

// View runs fn with a read-only transaction
func (l *Ledger) View(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{l: l}
	defer tx.close()
	return fn(tx)
}

// Update runs fn with a read-write transaction. Mutations are applied as they
// are made, so fn must validate before it mutates; no other goroutine observes
// the ledger until fn returns.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{l: l, writable: true}
	defer tx.close()
	return fn(tx)
}

// RegisterNode adds a healthy node with all of its CPU available
func (l *Ledger) RegisterNode(id string, cpu int, handle string, now time.Time) (types.Node, error) {
	var node types.Node
	err := l.Update(func(tx *Tx) error {
		var err error
		node, err = tx.AddNode(id, cpu, handle, now)
		return err
	})
	return node, err
}

// Heartbeat refreshes a node's last heartbeat. It reports whether the node
// was unhealthy and has now recovered.
func (l *Ledger) Heartbeat(id string, now time.Time) (bool, error) {
	var recovered bool
	err := l.Update(func(tx *Tx) error {
		var err error
		recovered, err = tx.TouchHeartbeat(id, now)
		return err
	})
	return recovered, err
}

// HasNode reports whether a node with the given ID is registered
func (l *Ledger) HasNode(id string) bool {
	var ok bool
	_ = l.View(func(tx *Tx) error {
		_, ok = tx.Node(id)
		return nil
	})
	return ok
}

// GetNode returns a copy of a node
func (l *Ledger) GetNode(id string) (types.Node, error) {
	var node types.Node
	err := l.View(func(tx *Tx) error {
		n, ok := tx.Node(id)
		if !ok {
			return fmt.Errorf("node %s: %w", id, types.ErrNotFound)
		}
		node = n
		return nil
	})
	return node, err
}

// GetPod returns a copy of a pod
func (l *Ledger) GetPod(id string) (types.Pod, error) {
	var pod types.Pod
	err := l.View(func(tx *Tx) error {
		p, ok := tx.Pod(id)
		if !ok {
			return fmt.Errorf("pod %s: %w", id, types.ErrNotFound)
		}
		pod = p
		return nil
	})
	return pod, err
}

// ListNodes returns a snapshot of all nodes sorted by ID
func (l *Ledger) ListNodes() []types.Node {
	var nodes []types.Node
	_ = l.View(func(tx *Tx) error {
		nodes = tx.Nodes()
		return nil
	})
	return nodes
}

// ListPods returns a snapshot of all pods sorted by ID
func (l *Ledger) ListPods() []types.Pod {
	var pods []types.Pod
	_ = l.View(func(tx *Tx) error {
		pods = tx.Pods()
		return nil
	})
	return pods
}

// Waitlist returns a snapshot of the waiting pods in FIFO order
func (l *Ledger) Waitlist() []types.Pod {
	var pods []types.Pod
	_ = l.View(func(tx *Tx) error {
		pods = tx.Waitlist()
		return nil
	})
	return pods
}

// Stats summarizes the ledger for metrics
type Stats struct {
	NodesByState map[types.NodeState]int
	PodsByStatus map[types.PodStatus]int
	Waiting      int
	TotalCPU     int
	AvailableCPU int
}

// Stats returns counts taken under a single lock acquisition
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		NodesByState: make(map[types.NodeState]int),
		PodsByStatus: make(map[types.PodStatus]int),
		Waiting:      len(l.waitlist),
	}
	for _, node := range l.nodes {
		stats.NodesByState[node.State]++
		stats.TotalCPU += node.TotalCPU
		stats.AvailableCPU += node.AvailableCPU
	}
	for _, pod := range l.pods {
		stats.PodsByStatus[pod.Status]++
	}
	return stats
}

// Verify checks the CPU accounting and pod membership invariants
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, node := range l.nodes {
		used := 0
		for _, podID := range node.AssignedPods {
			pod, ok := l.pods[podID]
			if !ok {
				return fmt.Errorf("node %s lists unknown pod %s", node.ID, podID)
			}
			if pod.Status != types.PodStatusRunning || pod.NodeID != node.ID {
				return fmt.Errorf("node %s lists pod %s with status %s on node %q", node.ID, podID, pod.Status, pod.NodeID)
			}
			used += pod.CPURequest
		}
		if node.AvailableCPU < 0 || node.AvailableCPU > node.TotalCPU {
			return fmt.Errorf("node %s available cpu %d outside [0,%d]", node.ID, node.AvailableCPU, node.TotalCPU)
		}
		if node.AvailableCPU+used != node.TotalCPU {
			return fmt.Errorf("node %s: available %d + assigned %d != total %d", node.ID, node.AvailableCPU, used, node.TotalCPU)
		}
	}

	queued := make(map[string]bool, len(l.waitlist))
	for _, podID := range l.waitlist {
		if queued[podID] {
			return fmt.Errorf("pod %s queued twice", podID)
		}
		queued[podID] = true
	}

	for _, pod := range l.pods {
		switch pod.Status {
		case types.PodStatusRunning:
			node, ok := l.nodes[pod.NodeID]
			if !ok {
				return fmt.Errorf("running pod %s on missing node %s", pod.ID, pod.NodeID)
			}
			if _, found := searchPod(node.AssignedPods, pod.ID); !found {
				return fmt.Errorf("running pod %s not assigned to node %s", pod.ID, pod.NodeID)
			}
			if queued[pod.ID] {
				return fmt.Errorf("running pod %s is on the waitlist", pod.ID)
			}
		case types.PodStatusWaiting:
			if !queued[pod.ID] {
				return fmt.Errorf("waiting pod %s missing from waitlist", pod.ID)
			}
		default:
			if queued[pod.ID] {
				return fmt.Errorf("%s pod %s is on the waitlist", pod.Status, pod.ID)
			}
			for _, node := range l.nodes {
				if _, found := searchPod(node.AssignedPods, pod.ID); found {
					return fmt.Errorf("%s pod %s still assigned to node %s", pod.Status, pod.ID, node.ID)
				}
			}
		}
	}

	for podID := range queued {
		pod, ok := l.pods[podID]
		if !ok || pod.Status != types.PodStatusWaiting {
			return fmt.Errorf("waitlist entry %s is not a waiting pod", podID)
		}
	}
	return nil
}

func searchPod(ids []string, id string) (int, bool) {
	i := sort.SearchStrings(ids, id)
	return i, i < len(ids) && ids[i] == id
}
