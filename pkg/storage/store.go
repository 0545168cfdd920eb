package storage

import (
	"github.com/cuemby/alpinekube/pkg/events"
)

// Journal is an append-only history of cluster events. It is written for
// inspection only; cluster state is never rebuilt from it.
type Journal interface {
	Append(event *events.Event) (uint64, error)
	List(filter Filter) ([]Record, error)
	Close() error
}

// Record is a journaled event with its sequence number
type Record struct {
	Seq   uint64        `json:"seq"`
	Event *events.Event `json:"event"`
}

// Filter selects journal records. Zero values match everything.
type Filter struct {
	AfterSeq uint64
	NodeID   string
	PodID    string
	Type     events.EventType
	Limit    int
}

func (f Filter) match(e *events.Event) bool {
	if f.NodeID != "" && e.NodeID != f.NodeID {
		return false
	}
	if f.PodID != "" && e.PodID != f.PodID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}
