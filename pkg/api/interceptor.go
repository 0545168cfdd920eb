package api

import (
	"context"
	"strings"

	"github.com/cuemby/alpinekube/pkg/log"
	"github.com/cuemby/alpinekube/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MetricsInterceptor records request counts and latency per method and logs
// failed requests
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()

		resp, err := handler(ctx, req)

		code := status.Code(err)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, code.String()).Inc()

		switch code {
		case codes.OK:
		case codes.Internal, codes.Unknown:
			logger.Error().Err(err).Str("method", method).Msg("Request failed")
		default:
			logger.Debug().Err(err).Str("method", method).Str("code", code.String()).Msg("Request rejected")
		}
		return resp, err
	}
}

// StreamMetricsInterceptor counts streaming calls by method and final status
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		metrics.APIRequestsTotal.WithLabelValues(methodName(info.FullMethod), status.Code(err).String()).Inc()
		return err
	}
}

// ReadOnlyInterceptor rejects every call that could change cluster state.
// It guards the local Unix socket.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"%s is not allowed on the read-only socket, use the TCP API address",
				methodName(info.FullMethod),
			)
		}
		return handler(ctx, req)
	}
}

// isReadOnlyMethod checks if a gRPC method only reads state
func isReadOnlyMethod(method string) bool {
	name := methodName(method)
	for _, prefix := range []string{"List", "Get", "Stream"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// methodName extracts "ListPods" from "/alpinekube.v1.ClusterAPI/ListPods"
func methodName(fullMethod string) string {
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		return fullMethod[i+1:]
	}
	return fullMethod
}
