package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/alpinekube/pkg/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the cluster API for the CLI and the node agent
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to the control plane at addr. Unix sockets are given
// as "unix:///path/to/socket".
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control plane: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, api.FullMethod(method), req, resp)
}

// RegisterNode registers a node with cpu cores
func (c *Client) RegisterNode(ctx context.Context, id string, cpu int) (*api.Node, error) {
	resp := &api.RegisterNodeResponse{}
	if err := c.invoke(ctx, "RegisterNode", &api.RegisterNodeRequest{ID: id, CPU: cpu}, resp); err != nil {
		return nil, err
	}
	return resp.Node, nil
}

// Heartbeat sends one heartbeat for the node
func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	return c.invoke(ctx, "Heartbeat", &api.HeartbeatRequest{NodeID: nodeID}, &api.HeartbeatResponse{})
}

// SubmitPod schedules a pod requesting cpu cores for duration
func (c *Client) SubmitPod(ctx context.Context, id string, cpu int, duration time.Duration) (*api.Pod, error) {
	req := &api.SubmitPodRequest{ID: id, CPURequest: cpu, DurationMS: duration.Milliseconds()}
	resp := &api.SubmitPodResponse{}
	if err := c.invoke(ctx, "SubmitPod", req, resp); err != nil {
		return nil, err
	}
	return resp.Pod, nil
}

// GetPod returns one pod
func (c *Client) GetPod(ctx context.Context, id string) (*api.Pod, error) {
	resp := &api.GetPodResponse{}
	if err := c.invoke(ctx, "GetPod", &api.GetPodRequest{ID: id}, resp); err != nil {
		return nil, err
	}
	return resp.Pod, nil
}

// ListNodes lists nodes, optionally only those in state
func (c *Client) ListNodes(ctx context.Context, state string) ([]*api.Node, error) {
	resp := &api.ListNodesResponse{}
	if err := c.invoke(ctx, "ListNodes", &api.ListNodesRequest{StateFilter: state}, resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// ListPods lists pods, optionally filtered by status and node
func (c *Client) ListPods(ctx context.Context, status, nodeID string) ([]*api.Pod, error) {
	resp := &api.ListPodsResponse{}
	req := &api.ListPodsRequest{StatusFilter: status, NodeFilter: nodeID}
	if err := c.invoke(ctx, "ListPods", req, resp); err != nil {
		return nil, err
	}
	return resp.Pods, nil
}

// ListWaitlist lists waiting pods in queue order
func (c *Client) ListWaitlist(ctx context.Context) ([]*api.Pod, error) {
	resp := &api.ListWaitlistResponse{}
	if err := c.invoke(ctx, "ListWaitlist", &api.ListWaitlistRequest{}, resp); err != nil {
		return nil, err
	}
	return resp.Pods, nil
}

// EventStream receives events from StreamEvents
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks until the next event arrives
func (s *EventStream) Recv() (*api.Event, error) {
	event := &api.Event{}
	if err := s.stream.RecvMsg(event); err != nil {
		return nil, err
	}
	return event, nil
}

// StreamEvents subscribes to cluster events. The stream ends when ctx is
// cancelled.
func (c *Client) StreamEvents(ctx context.Context, types ...string) (*EventStream, error) {
	desc := &api.ServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, api.FullMethod(desc.StreamName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&api.StreamEventsRequest{Types: types}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
