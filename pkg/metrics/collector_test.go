package metrics

import (
	"testing"
	"time"

	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func TestCollectorCollect(t *testing.T) {
	l := ledger.New()
	now := time.Now()
	_, err := l.RegisterNode("n1", 4, "", now)
	require.NoError(t, err)
	_, err = l.RegisterNode("n2", 2, "", now)
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		if _, err := tx.StartPod(types.PodSpec{ID: "p1", CPURequest: 3, Duration: time.Minute}, "n1", now); err != nil {
			return err
		}
		return tx.MarkUnhealthy("n2")
	}))

	c := NewCollector(l, time.Hour)
	c.Collect()

	assert.Equal(t, 1.0, gaugeValue(t, NodesTotal.WithLabelValues(string(types.NodeStateHealthy))))
	assert.Equal(t, 1.0, gaugeValue(t, NodesTotal.WithLabelValues(string(types.NodeStateUnhealthy))))
	assert.Equal(t, 1.0, gaugeValue(t, PodsTotal.WithLabelValues(string(types.PodStatusRunning))))
	assert.Equal(t, 0.0, gaugeValue(t, PodsTotal.WithLabelValues(string(types.PodStatusWaiting))))
	assert.Equal(t, 0.0, gaugeValue(t, WaitlistLength))
	assert.Equal(t, 6.0, gaugeValue(t, CPUTotal))
	assert.Equal(t, 3.0, gaugeValue(t, CPUAvailable))
}

func TestCollectorStartStop(t *testing.T) {
	l := ledger.New()
	_, err := l.RegisterNode("n1", 8, "", time.Now())
	require.NoError(t, err)

	c := NewCollector(l, 10*time.Millisecond)
	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return gaugeValue(t, CPUTotal) == 8.0
	}, time.Second, 5*time.Millisecond)
}
