package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/alpinekube/pkg/types"
)

// Tx is a view of the ledger valid only inside the View or Update callback
// that created it. Reads return copies; mutators keep the CPU accounting and
// pod membership invariants intact on their own.
//
// DeleteNode is the one exception: the pods of a deleted node are left
// orphaned and the same transaction must resolve each of them with Reassign,
// Enqueue or Terminate.
type Tx struct {
	l        *Ledger
	writable bool
	closed   bool
}

func (tx *Tx) close() {
	tx.closed = true
}

func (tx *Tx) checkWritable() error {
	if tx.closed {
		panic("ledger: transaction used after its callback returned")
	}
	if !tx.writable {
		return ErrTxReadOnly
	}
	return nil
}

// Node returns a copy of the node
func (tx *Tx) Node(id string) (types.Node, bool) {
	node, ok := tx.l.nodes[id]
	if !ok {
		return types.Node{}, false
	}
	return copyNode(node), true
}

// Nodes returns copies of all nodes sorted by ID
func (tx *Tx) Nodes() []types.Node {
	nodes := make([]types.Node, 0, len(tx.l.nodes))
	for _, node := range tx.l.nodes {
		nodes = append(nodes, copyNode(node))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// NodeCount returns the number of registered nodes, in any state
func (tx *Tx) NodeCount() int {
	return len(tx.l.nodes)
}

// Pod returns a copy of the pod
func (tx *Tx) Pod(id string) (types.Pod, bool) {
	pod, ok := tx.l.pods[id]
	if !ok {
		return types.Pod{}, false
	}
	return *pod, true
}

// Pods returns copies of all pods sorted by ID
func (tx *Tx) Pods() []types.Pod {
	pods := make([]types.Pod, 0, len(tx.l.pods))
	for _, pod := range tx.l.pods {
		pods = append(pods, *pod)
	}
	sort.Slice(pods, func(i, j int) bool { return pods[i].ID < pods[j].ID })
	return pods
}

// Waitlist returns copies of the waiting pods in FIFO order
func (tx *Tx) Waitlist() []types.Pod {
	pods := make([]types.Pod, 0, len(tx.l.waitlist))
	for _, id := range tx.l.waitlist {
		pods = append(pods, *tx.l.pods[id])
	}
	return pods
}

// AddNode registers a healthy node with all of its CPU available
func (tx *Tx) AddNode(id string, cpu int, handle string, now time.Time) (types.Node, error) {
	if err := tx.checkWritable(); err != nil {
		return types.Node{}, err
	}
	if id == "" {
		return types.Node{}, types.NewInvalidArgument("node id is required")
	}
	if cpu <= 0 {
		return types.Node{}, types.NewInvalidArgument("node %s: cpu must be positive, got %d", id, cpu)
	}
	if _, exists := tx.l.nodes[id]; exists {
		return types.Node{}, fmt.Errorf("node %s: %w", id, types.ErrAlreadyExists)
	}

	node := &types.Node{
		ID:            id,
		TotalCPU:      cpu,
		AvailableCPU:  cpu,
		LastHeartbeat: now,
		State:         types.NodeStateHealthy,
		RuntimeHandle: handle,
		RegisteredAt:  now,
	}
	tx.l.nodes[id] = node
	return copyNode(node), nil
}

// TouchHeartbeat refreshes the node's last heartbeat and clears Unhealthy.
// It reports whether the node was unhealthy before.
func (tx *Tx) TouchHeartbeat(id string, now time.Time) (bool, error) {
	if err := tx.checkWritable(); err != nil {
		return false, err
	}
	node, ok := tx.l.nodes[id]
	if !ok {
		return false, fmt.Errorf("node %s: %w", id, types.ErrNotFound)
	}
	recovered := node.State == types.NodeStateUnhealthy
	node.LastHeartbeat = now
	node.State = types.NodeStateHealthy
	return recovered, nil
}

// MarkUnhealthy moves a healthy node to Unhealthy
func (tx *Tx) MarkUnhealthy(id string) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	node, ok := tx.l.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, types.ErrNotFound)
	}
	node.State = types.NodeStateUnhealthy
	return nil
}

// DeleteNode removes the node and returns the IDs of the pods it hosted.
// Those pods are orphaned until resolved in the same transaction.
func (tx *Tx) DeleteNode(id string) ([]string, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	node, ok := tx.l.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, types.ErrNotFound)
	}
	delete(tx.l.nodes, id)
	node.State = types.NodeStateRemoved

	orphaned := make([]string, len(node.AssignedPods))
	copy(orphaned, node.AssignedPods)
	return orphaned, nil
}

// StartPod creates a pod record and places it on the node. A previous pod
// with the same ID is replaced only if it is terminal.
func (tx *Tx) StartPod(spec types.PodSpec, nodeID string, now time.Time) (types.Pod, error) {
	if err := tx.checkWritable(); err != nil {
		return types.Pod{}, err
	}
	if err := spec.Validate(); err != nil {
		return types.Pod{}, err
	}
	if prev, exists := tx.l.pods[spec.ID]; exists && !prev.Status.Terminal() {
		return types.Pod{}, fmt.Errorf("pod %s: %w", spec.ID, types.ErrAlreadyExists)
	}
	node, err := tx.fits(nodeID, spec.CPURequest)
	if err != nil {
		return types.Pod{}, err
	}

	pod := &types.Pod{
		ID:          spec.ID,
		CPURequest:  spec.CPURequest,
		Duration:    spec.Duration,
		SubmittedAt: now,
	}
	tx.l.pods[pod.ID] = pod
	tx.bind(pod, node, now)
	return *pod, nil
}

// Reassign places an orphaned or waiting pod on a node with a new lifecycle token
func (tx *Tx) Reassign(podID, nodeID string, now time.Time) (types.Pod, error) {
	if err := tx.checkWritable(); err != nil {
		return types.Pod{}, err
	}
	pod, ok := tx.l.pods[podID]
	if !ok {
		return types.Pod{}, fmt.Errorf("pod %s: %w", podID, types.ErrNotFound)
	}
	waiting := pod.Status == types.PodStatusWaiting
	if !waiting && !tx.orphaned(pod) {
		return types.Pod{}, fmt.Errorf("pod %s is %s on node %q and cannot be reassigned", podID, pod.Status, pod.NodeID)
	}
	node, err := tx.fits(nodeID, pod.CPURequest)
	if err != nil {
		return types.Pod{}, err
	}

	if waiting {
		tx.dequeue(podID)
	}
	pod.Restarts++
	tx.bind(pod, node, now)
	return *pod, nil
}

// Enqueue moves an orphaned pod to the back of the waitlist
func (tx *Tx) Enqueue(podID string) (types.Pod, error) {
	if err := tx.checkWritable(); err != nil {
		return types.Pod{}, err
	}
	pod, ok := tx.l.pods[podID]
	if !ok {
		return types.Pod{}, fmt.Errorf("pod %s: %w", podID, types.ErrNotFound)
	}
	if !tx.orphaned(pod) {
		return types.Pod{}, fmt.Errorf("pod %s is %s on node %q and cannot be queued", podID, pod.Status, pod.NodeID)
	}

	pod.Status = types.PodStatusWaiting
	pod.NodeID = ""
	pod.LifecycleToken = ""
	tx.l.waitlist = append(tx.l.waitlist, podID)
	return *pod, nil
}

// Complete releases a running pod's CPU and marks it Completed
func (tx *Tx) Complete(podID string, now time.Time) (types.Pod, error) {
	if err := tx.checkWritable(); err != nil {
		return types.Pod{}, err
	}
	pod, ok := tx.l.pods[podID]
	if !ok {
		return types.Pod{}, fmt.Errorf("pod %s: %w", podID, types.ErrNotFound)
	}
	node, hosted := tx.l.nodes[pod.NodeID]
	if pod.Status != types.PodStatusRunning || !hosted {
		return types.Pod{}, fmt.Errorf("pod %s is %s on node %q and cannot complete", podID, pod.Status, pod.NodeID)
	}

	tx.release(pod, node)
	pod.Status = types.PodStatusCompleted
	pod.FinishedAt = now
	return *pod, nil
}

// Terminate ends a non-terminal pod wherever it currently is
func (tx *Tx) Terminate(podID string, now time.Time) (types.Pod, error) {
	if err := tx.checkWritable(); err != nil {
		return types.Pod{}, err
	}
	pod, ok := tx.l.pods[podID]
	if !ok {
		return types.Pod{}, fmt.Errorf("pod %s: %w", podID, types.ErrNotFound)
	}
	if pod.Status.Terminal() {
		return *pod, nil
	}

	switch pod.Status {
	case types.PodStatusWaiting:
		tx.dequeue(podID)
	case types.PodStatusRunning:
		if node, hosted := tx.l.nodes[pod.NodeID]; hosted {
			tx.release(pod, node)
		}
	}
	pod.Status = types.PodStatusTerminated
	pod.FinishedAt = now
	return *pod, nil
}

func (tx *Tx) fits(nodeID string, cpu int) (*types.Node, error) {
	node, ok := tx.l.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, types.ErrNotFound)
	}
	if node.AvailableCPU < cpu {
		return nil, fmt.Errorf("node %s has %d cpu available, %d requested: %w", nodeID, node.AvailableCPU, cpu, types.ErrNoCapacity)
	}
	return node, nil
}

// bind moves the pod onto the node and mints a fresh lifecycle token
func (tx *Tx) bind(pod *types.Pod, node *types.Node, now time.Time) {
	node.AvailableCPU -= pod.CPURequest
	i, _ := searchPod(node.AssignedPods, pod.ID)
	node.AssignedPods = append(node.AssignedPods, "")
	copy(node.AssignedPods[i+1:], node.AssignedPods[i:])
	node.AssignedPods[i] = pod.ID

	pod.Status = types.PodStatusRunning
	pod.NodeID = node.ID
	pod.StartTime = now
	pod.FinishedAt = time.Time{}
	pod.LifecycleToken = tx.l.newToken()
}

func (tx *Tx) release(pod *types.Pod, node *types.Node) {
	if i, found := searchPod(node.AssignedPods, pod.ID); found {
		node.AssignedPods = append(node.AssignedPods[:i], node.AssignedPods[i+1:]...)
		node.AvailableCPU += pod.CPURequest
	}
}

func (tx *Tx) dequeue(podID string) {
	for i, id := range tx.l.waitlist {
		if id == podID {
			tx.l.waitlist = append(tx.l.waitlist[:i], tx.l.waitlist[i+1:]...)
			return
		}
	}
}

// orphaned reports whether a running pod's node has been deleted
func (tx *Tx) orphaned(pod *types.Pod) bool {
	if pod.Status != types.PodStatusRunning {
		return false
	}
	_, hosted := tx.l.nodes[pod.NodeID]
	return !hosted
}

func copyNode(node *types.Node) types.Node {
	c := *node
	c.AssignedPods = make([]string, len(node.AssignedPods))
	copy(c.AssignedPods, node.AssignedPods)
	return c
}
