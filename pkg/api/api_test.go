package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/alpinekube/pkg/metrics"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{err: fmt.Errorf("node n1: %w", types.ErrAlreadyExists), want: codes.AlreadyExists},
		{err: fmt.Errorf("pod p1: %w", types.ErrNotFound), want: codes.NotFound},
		{err: fmt.Errorf("pod p1: %w", types.ErrNoCapacity), want: codes.ResourceExhausted},
		{err: fmt.Errorf("node n1: %w: %w", types.ErrRuntimeFailure, errors.New("pull failed")), want: codes.Unavailable},
		{err: types.NewInvalidArgument("cpu must be positive"), want: codes.InvalidArgument},
		{err: context.DeadlineExceeded, want: codes.DeadlineExceeded},
		{err: errors.New("boom"), want: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			err := toStatus(tt.err)
			assert.Equal(t, tt.want, status.Code(err))
			assert.Equal(t, tt.err.Error(), status.Convert(err).Message())
		})
	}
}

func TestIsReadOnlyMethod(t *testing.T) {
	tests := map[string]bool{
		FullMethod("ListNodes"):    true,
		FullMethod("ListPods"):     true,
		FullMethod("ListWaitlist"): true,
		FullMethod("GetPod"):       true,
		FullMethod("StreamEvents"): true,
		FullMethod("RegisterNode"): false,
		FullMethod("Heartbeat"):    false,
		FullMethod("SubmitPod"):    false,
	}

	for method, want := range tests {
		assert.Equal(t, want, isReadOnlyMethod(method), method)
	}
}

func TestJSONCodec(t *testing.T) {
	codec := jsonCodec{}
	assert.Equal(t, CodecName, codec.Name())

	data, err := codec.Marshal(&SubmitPodRequest{ID: "p1", CPURequest: 2, DurationMS: 1500})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p1","cpu_req":2,"duration_ms":1500}`, string(data))

	var req SubmitPodRequest
	require.NoError(t, codec.Unmarshal(data, &req))
	assert.Equal(t, int64(1500), req.DurationMS)
}

func TestHealthServerEndpoints(t *testing.T) {
	checker := metrics.NewHealthChecker(metrics.ComponentLedger)
	hs := NewHealthServer("127.0.0.1:0", checker)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		hs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	checker.Update(metrics.ComponentLedger, true, "")
	w = get("/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var readiness metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))
	assert.Equal(t, "ready", readiness.Status)

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusOK, get("/live").Code)
	assert.Equal(t, http.StatusOK, get("/metrics").Code)

	w = httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
