package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/alpinekube/pkg/api"
	"github.com/cuemby/alpinekube/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeClient struct {
	mu          sync.Mutex
	registerErr error
	beatErr     error
	registered  []string
	beats       int
}

func (f *fakeClient) RegisterNode(ctx context.Context, id string, cpu int) (*api.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.registered = append(f.registered, id)
	return &api.Node{ID: id, TotalCPU: cpu, AvailableCPU: cpu}, nil
}

func (f *fakeClient) Heartbeat(ctx context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats++
	return f.beatErr
}

func (f *fakeClient) beatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beats
}

type scriptedProbe struct {
	results []bool
	calls   int
}

func (p *scriptedProbe) Check(ctx context.Context) health.Result {
	healthy := p.results[min(p.calls, len(p.results)-1)]
	p.calls++
	return health.Result{Healthy: healthy, CheckedAt: time.Now()}
}

func (p *scriptedProbe) Type() health.ProbeType {
	return health.ProbeTypeTCP
}

func TestNewAgentDefaults(t *testing.T) {
	_, err := NewAgent(&fakeClient{}, Config{})
	assert.Error(t, err)

	a, err := NewAgent(&fakeClient{}, Config{NodeID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, a.cfg.Interval)
	assert.Equal(t, DefaultTimeout, a.cfg.Timeout)
	assert.Equal(t, DefaultProbeRetries, a.cfg.ProbeRetries)
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name        string
		cpu         int
		registerErr error
		wantErr     bool
		wantCalls   int
	}{
		{name: "no cpu skips registration", cpu: 0},
		{name: "registers node", cpu: 4, wantCalls: 1},
		{name: "already registered", cpu: 4, registerErr: status.Error(codes.AlreadyExists, "node n1 already exists")},
		{name: "other errors fail", cpu: 4, registerErr: status.Error(codes.Unavailable, "runtime down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClient{registerErr: tt.registerErr}
			a, err := NewAgent(c, Config{NodeID: "n1", CPU: tt.cpu})
			require.NoError(t, err)

			err = a.Register(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, c.registered, tt.wantCalls)
		})
	}
}

func TestBeatWithoutProbe(t *testing.T) {
	c := &fakeClient{}
	a, err := NewAgent(c, Config{NodeID: "n1"})
	require.NoError(t, err)

	require.NoError(t, a.Beat(context.Background()))
	assert.Equal(t, 1, c.beatCount())

	c.beatErr = status.Error(codes.NotFound, "node n1 not found")
	assert.Equal(t, codes.NotFound, status.Code(a.Beat(context.Background())))
}

func TestProbeGatesHeartbeats(t *testing.T) {
	c := &fakeClient{}
	probe := &scriptedProbe{results: []bool{true, false, false, false, true}}
	a, err := NewAgent(c, Config{NodeID: "n1", Probe: probe, ProbeRetries: 2})
	require.NoError(t, err)
	ctx := context.Background()

	// healthy
	require.NoError(t, a.Beat(ctx))
	// first failure is tolerated
	require.NoError(t, a.Beat(ctx))
	assert.Equal(t, 2, c.beatCount())

	assert.ErrorIs(t, a.Beat(ctx), ErrWorkloadUnhealthy)
	assert.ErrorIs(t, a.Beat(ctx), ErrWorkloadUnhealthy)
	assert.Equal(t, 2, c.beatCount())

	// one success restores heartbeats
	require.NoError(t, a.Beat(ctx))
	assert.Equal(t, 3, c.beatCount())
}

func TestStartSendsHeartbeatsUntilStopped(t *testing.T) {
	c := &fakeClient{}
	a, err := NewAgent(c, Config{NodeID: "n1", CPU: 2, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return c.beatCount() >= 3
	}, time.Second, 5*time.Millisecond)

	a.Stop()
	a.Stop()
	stopped := c.beatCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, c.beatCount())
	assert.Equal(t, []string{"n1"}, c.registered)
}

func TestStartFailsWhenRegistrationFails(t *testing.T) {
	c := &fakeClient{registerErr: errors.New("connection refused")}
	a, err := NewAgent(c, Config{NodeID: "n1", CPU: 2})
	require.NoError(t, err)

	assert.Error(t, a.Start(context.Background()))
	a.Stop()
	assert.Zero(t, c.beatCount())
}
