package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/cuemby/alpinekube/pkg/manager"
	"github.com/cuemby/alpinekube/pkg/metrics"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements the cluster API on top of the manager
type Server struct {
	manager *manager.Manager
	grpc    *grpc.Server
	logger  zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new API server
func NewServer(mgr *manager.Manager) *Server {
	return newServer(mgr, MetricsInterceptor())
}

// NewReadOnlyServer creates an API server that rejects every mutating call.
// It is meant for a local Unix socket.
func NewReadOnlyServer(mgr *manager.Manager) *Server {
	return newServer(mgr, MetricsInterceptor(), ReadOnlyInterceptor())
}

func newServer(mgr *manager.Manager, interceptors ...grpc.UnaryServerInterceptor) *Server {
	s := &Server{
		manager: mgr,
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(interceptors...),
			grpc.ChainStreamInterceptor(StreamMetricsInterceptor()),
		),
		logger: log.WithComponent("api"),
		done:   make(chan struct{}),
	}
	RegisterClusterAPIServer(s.grpc, s)
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// StartUnix serves on a Unix socket at path, replacing a stale socket file
func (s *Server) StartUnix(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		lis.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves the API on lis
func (s *Server) Serve(lis net.Listener) error {
	metrics.UpdateComponent(metrics.ComponentAPI, true, lis.Addr().String())
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("API listening")
	return s.grpc.Serve(lis)
}

// Stop ends open event streams and gracefully stops the gRPC server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.grpc.GracefulStop()
	})
}

// RegisterNode starts a node and adds it to the cluster
func (s *Server) RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error) {
	node, err := s.manager.RegisterNode(ctx, req.ID, req.CPU)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RegisterNodeResponse{Node: nodeToWire(node)}, nil
}

// Heartbeat records a node heartbeat
func (s *Server) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if err := s.manager.Heartbeat(req.NodeID); err != nil {
		return nil, toStatus(err)
	}
	return &HeartbeatResponse{Status: "ok"}, nil
}

// SubmitPod schedules a pod
func (s *Server) SubmitPod(ctx context.Context, req *SubmitPodRequest) (*SubmitPodResponse, error) {
	pod, err := s.manager.SubmitPod(types.PodSpec{
		ID:         req.ID,
		CPURequest: req.CPURequest,
		Duration:   time.Duration(req.DurationMS) * time.Millisecond,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitPodResponse{Pod: podToWire(pod)}, nil
}

// GetPod returns one pod
func (s *Server) GetPod(ctx context.Context, req *GetPodRequest) (*GetPodResponse, error) {
	pod, err := s.manager.GetPod(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetPodResponse{Pod: podToWire(pod)}, nil
}

// ListNodes returns all nodes, optionally filtered by state
func (s *Server) ListNodes(ctx context.Context, req *ListNodesRequest) (*ListNodesResponse, error) {
	resp := &ListNodesResponse{Nodes: []*Node{}}
	for _, node := range s.manager.ListNodes() {
		if req.StateFilter != "" && string(node.State) != req.StateFilter {
			continue
		}
		resp.Nodes = append(resp.Nodes, nodeToWire(node))
	}
	return resp, nil
}

// ListPods returns all pods, optionally filtered by status and node
func (s *Server) ListPods(ctx context.Context, req *ListPodsRequest) (*ListPodsResponse, error) {
	resp := &ListPodsResponse{Pods: []*Pod{}}
	for _, pod := range s.manager.ListPods() {
		if req.StatusFilter != "" && string(pod.Status) != req.StatusFilter {
			continue
		}
		if req.NodeFilter != "" && pod.NodeID != req.NodeFilter {
			continue
		}
		resp.Pods = append(resp.Pods, podToWire(pod))
	}
	return resp, nil
}

// ListWaitlist returns the waiting pods in queue order
func (s *Server) ListWaitlist(ctx context.Context, req *ListWaitlistRequest) (*ListWaitlistResponse, error) {
	resp := &ListWaitlistResponse{Pods: []*Pod{}}
	for _, pod := range s.manager.Waitlist() {
		resp.Pods = append(resp.Pods, podToWire(pod))
	}
	return resp, nil
}

// StreamEvents sends cluster events until the client goes away or the
// server stops
func (s *Server) StreamEvents(req *StreamEventsRequest, stream EventStream) error {
	wanted := make(map[string]bool, len(req.Types))
	for _, t := range req.Types {
		wanted[t] = true
	}

	sub := s.manager.Subscribe()
	defer s.manager.Unsubscribe(sub)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return nil
		case event, ok := <-sub:
			if !ok {
				return nil
			}
			if len(wanted) > 0 && !wanted[string(event.Type)] {
				continue
			}
			if err := stream.Send(eventToWire(event)); err != nil {
				return err
			}
		}
	}
}

// toStatus maps domain errors to gRPC status codes
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, types.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, types.ErrNoCapacity):
		code = codes.ResourceExhausted
	case errors.Is(err, types.ErrRuntimeFailure):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
