package scheduler

import (
	"testing"

	"github.com/cuemby/alpinekube/pkg/types"
	"github.com/stretchr/testify/assert"
)

func node(id string, available int, state types.NodeState) types.Node {
	return types.Node{ID: id, TotalCPU: 8, AvailableCPU: available, State: state}
}

func TestFilterEligible(t *testing.T) {
	nodes := []types.Node{
		node("a", 4, types.NodeStateHealthy),
		node("b", 1, types.NodeStateHealthy),
		node("c", 8, types.NodeStateUnhealthy),
		node("d", 2, types.NodeStateHealthy),
	}

	tests := []struct {
		name     string
		cpuReq   int
		skip     map[string]bool
		expected []string
	}{
		{name: "fits everywhere healthy", cpuReq: 1, expected: []string{"a", "b", "d"}},
		{name: "filters by capacity", cpuReq: 2, expected: []string{"a", "d"}},
		{name: "exact fit is eligible", cpuReq: 4, expected: []string{"a"}},
		{name: "unhealthy never eligible", cpuReq: 5},
		{name: "skip map", cpuReq: 1, skip: map[string]bool{"a": true}, expected: []string{"b", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, n := range filterEligible(nodes, tt.cpuReq, tt.skip) {
				ids = append(ids, n.ID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestPolicies(t *testing.T) {
	candidates := []types.Node{
		node("A", 5, types.NodeStateHealthy),
		node("B", 8, types.NodeStateHealthy),
		node("C", 3, types.NodeStateHealthy),
		node("D", 8, types.NodeStateHealthy),
	}

	tests := []struct {
		name   string
		policy Policy
		cpuReq int
		want   string
		ok     bool
	}{
		{name: "best fit picks most available", policy: BestFit{}, cpuReq: 3, want: "B", ok: true},
		{name: "best fit breaks ties by lowest id", policy: BestFit{}, cpuReq: 8, want: "B", ok: true},
		{name: "best fit nothing fits", policy: BestFit{}, cpuReq: 9},
		{name: "first fit picks first in order", policy: FirstFit{}, cpuReq: 3, want: "A", ok: true},
		{name: "first fit skips small nodes", policy: FirstFit{}, cpuReq: 6, want: "B", ok: true},
		{name: "first fit nothing fits", policy: FirstFit{}, cpuReq: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.policy.Select(candidates, tt.cpuReq)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestPolicyNames(t *testing.T) {
	assert.Equal(t, "best-fit", BestFit{}.Name())
	assert.Equal(t, "first-fit", FirstFit{}.Name())
}
