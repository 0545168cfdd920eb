package types

import (
	"time"
)

// Node represents a worker node offering a fixed amount of CPU
type Node struct {
	ID            string
	TotalCPU      int
	AvailableCPU  int
	AssignedPods  []string // Sorted pod IDs currently placed on this node
	LastHeartbeat time.Time
	State         NodeState
	RuntimeHandle string // Opaque reference understood by the runtime driver
	RegisteredAt  time.Time
}

// AllocatedCPU returns the CPU currently reserved by pods on the node
func (n *Node) AllocatedCPU() int {
	return n.TotalCPU - n.AvailableCPU
}

// NodeState represents the liveness state of a node
type NodeState string

const (
	NodeStateHealthy   NodeState = "healthy"
	NodeStateUnhealthy NodeState = "unhealthy"
	NodeStateRemoved   NodeState = "removed" // Terminal, the node is deleted from the ledger
)

// PodSpec is the caller-supplied part of a pod
type PodSpec struct {
	ID         string
	CPURequest int
	Duration   time.Duration
}

// Validate checks the spec for values the scheduler cannot work with
func (s PodSpec) Validate() error {
	if s.ID == "" {
		return NewInvalidArgument("pod id is required")
	}
	if s.CPURequest <= 0 {
		return NewInvalidArgument("pod %s: cpu request must be positive, got %d", s.ID, s.CPURequest)
	}
	if s.Duration <= 0 {
		return NewInvalidArgument("pod %s: duration must be positive, got %s", s.ID, s.Duration)
	}
	return nil
}

// Pod represents a unit of work requesting CPU for a fixed duration
type Pod struct {
	ID             string
	CPURequest     int
	Duration       time.Duration
	Status         PodStatus
	NodeID         string // Empty while waiting or once no node hosts the pod
	StartTime      time.Time
	FinishedAt     time.Time
	SubmittedAt    time.Time
	LifecycleToken string // Regenerated every time the pod enters Running
	Restarts       int    // Number of re-placements after node failure
}

// Spec returns the caller-supplied part of the pod
func (p *Pod) Spec() PodSpec {
	return PodSpec{ID: p.ID, CPURequest: p.CPURequest, Duration: p.Duration}
}

// PodStatus represents the state of a pod
type PodStatus string

const (
	PodStatusRunning    PodStatus = "running"
	PodStatusWaiting    PodStatus = "waiting"
	PodStatusCompleted  PodStatus = "completed"
	PodStatusTerminated PodStatus = "terminated"
)

// Terminal reports whether the status can never change again
func (s PodStatus) Terminal() bool {
	return s == PodStatusCompleted || s == PodStatusTerminated
}

// NodeSpec describes the execution environment to start for a node
type NodeSpec struct {
	ID          string
	CPULimit    int
	MemoryBytes int64
	Image       string
}
