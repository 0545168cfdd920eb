package scheduler

import (
	"errors"

	"github.com/cuemby/alpinekube/pkg/types"
)

// Policy chooses one node among candidates that can already fit the request.
// Candidates arrive sorted by node ID.
type Policy interface {
	Name() string
	Select(candidates []types.Node, cpuReq int) (types.Node, bool)
}

// BestFit picks the node with the most available CPU, lowest ID on ties.
// Lightly loaded nodes stay free for large requests while small leftovers
// accumulate on nodes that are already busy.
type BestFit struct{}

// Name implements Policy
func (BestFit) Name() string { return "best-fit" }

// Select implements Policy
func (BestFit) Select(candidates []types.Node, cpuReq int) (types.Node, bool) {
	best := -1
	for i, node := range candidates {
		if node.AvailableCPU < cpuReq {
			continue
		}
		if best < 0 || node.AvailableCPU > candidates[best].AvailableCPU ||
			(node.AvailableCPU == candidates[best].AvailableCPU && node.ID < candidates[best].ID) {
			best = i
		}
	}
	if best < 0 {
		return types.Node{}, false
	}
	return candidates[best], true
}

// FirstFit picks the first node in ID order that fits
type FirstFit struct{}

// Name implements Policy
func (FirstFit) Name() string { return "first-fit" }

// Select implements Policy
func (FirstFit) Select(candidates []types.Node, cpuReq int) (types.Node, bool) {
	for _, node := range candidates {
		if node.AvailableCPU >= cpuReq {
			return node, true
		}
	}
	return types.Node{}, false
}

func isNoCapacity(err error) bool {
	return errors.Is(err, types.ErrNoCapacity)
}
