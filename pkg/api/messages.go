package api

import (
	"time"

	"github.com/cuemby/alpinekube/pkg/events"
	"github.com/cuemby/alpinekube/pkg/types"
)

// Node is the wire form of a node
type Node struct {
	ID            string    `json:"id"`
	TotalCPU      int       `json:"total_cpu"`
	AvailableCPU  int       `json:"available_cpu"`
	AssignedPods  []string  `json:"assigned_pods"`
	State         string    `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// Pod is the wire form of a pod
type Pod struct {
	ID          string    `json:"id"`
	CPURequest  int       `json:"cpu_req"`
	DurationMS  int64     `json:"duration_ms"`
	Status      string    `json:"status"`
	NodeID      string    `json:"node_id,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Restarts    int       `json:"restarts"`
}

// Duration returns the pod's run time
func (p *Pod) Duration() time.Duration {
	return time.Duration(p.DurationMS) * time.Millisecond
}

type RegisterNodeRequest struct {
	ID  string `json:"id"`
	CPU int    `json:"cpu"`
}

type RegisterNodeResponse struct {
	Node *Node `json:"node"`
}

type HeartbeatRequest struct {
	NodeID string `json:"node_id"`
}

type HeartbeatResponse struct {
	Status string `json:"status"`
}

type SubmitPodRequest struct {
	ID         string `json:"id"`
	CPURequest int    `json:"cpu_req"`
	DurationMS int64  `json:"duration_ms"`
}

type SubmitPodResponse struct {
	Pod *Pod `json:"pod"`
}

type GetPodRequest struct {
	ID string `json:"id"`
}

type GetPodResponse struct {
	Pod *Pod `json:"pod"`
}

type ListNodesRequest struct {
	StateFilter string `json:"state_filter,omitempty"`
}

type ListNodesResponse struct {
	Nodes []*Node `json:"nodes"`
}

type ListPodsRequest struct {
	StatusFilter string `json:"status_filter,omitempty"`
	NodeFilter   string `json:"node_filter,omitempty"`
}

type ListPodsResponse struct {
	Pods []*Pod `json:"pods"`
}

type ListWaitlistRequest struct{}

type ListWaitlistResponse struct {
	Pods []*Pod `json:"pods"`
}

type StreamEventsRequest struct {
	// Types limits the stream to the listed event types; empty means all
	Types []string `json:"types,omitempty"`
}

// Event is the wire form of a cluster event
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	NodeID    string            `json:"node_id,omitempty"`
	PodID     string            `json:"pod_id,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func nodeToWire(n types.Node) *Node {
	return &Node{
		ID:            n.ID,
		TotalCPU:      n.TotalCPU,
		AvailableCPU:  n.AvailableCPU,
		AssignedPods:  n.AssignedPods,
		State:         string(n.State),
		LastHeartbeat: n.LastHeartbeat,
		RegisteredAt:  n.RegisteredAt,
	}
}

func podToWire(p types.Pod) *Pod {
	return &Pod{
		ID:          p.ID,
		CPURequest:  p.CPURequest,
		DurationMS:  p.Duration.Milliseconds(),
		Status:      string(p.Status),
		NodeID:      p.NodeID,
		StartTime:   p.StartTime,
		FinishedAt:  p.FinishedAt,
		SubmittedAt: p.SubmittedAt,
		Restarts:    p.Restarts,
	}
}

func eventToWire(e *events.Event) *Event {
	return &Event{
		ID:        e.ID,
		Type:      string(e.Type),
		Timestamp: e.Timestamp,
		NodeID:    e.NodeID,
		PodID:     e.PodID,
		Message:   e.Message,
		Metadata:  e.Metadata,
	}
}
