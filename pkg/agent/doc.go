// Package agent runs on a node and sends heartbeats to the control plane.
//
// An optional local probe from pkg/health gates the heartbeats. While the
// node's own workload fails the probe the agent stays silent and the control
// plane's health controller demotes, restarts and eventually removes the node.
package agent
