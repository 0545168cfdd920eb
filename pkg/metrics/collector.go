package metrics

import (
	"time"

	"github.com/cuemby/alpinekube/pkg/ledger"
	"github.com/cuemby/alpinekube/pkg/types"
)

// Collector periodically refreshes cluster gauges from the ledger
type Collector struct {
	ledger   *ledger.Ledger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(l *ledger.Ledger, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		ledger:   l,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect takes one snapshot of the ledger and updates the gauges
func (c *Collector) Collect() {
	stats := c.ledger.Stats()

	// Every known label is set so that states which drop to zero are reported as zero
	for _, state := range []types.NodeState{types.NodeStateHealthy, types.NodeStateUnhealthy} {
		NodesTotal.WithLabelValues(string(state)).Set(float64(stats.NodesByState[state]))
	}
	for _, status := range []types.PodStatus{
		types.PodStatusRunning,
		types.PodStatusWaiting,
		types.PodStatusCompleted,
		types.PodStatusTerminated,
	} {
		PodsTotal.WithLabelValues(string(status)).Set(float64(stats.PodsByStatus[status]))
	}

	WaitlistLength.Set(float64(stats.Waiting))
	CPUTotal.Set(float64(stats.TotalCPU))
	CPUAvailable.Set(float64(stats.AvailableCPU))
}
