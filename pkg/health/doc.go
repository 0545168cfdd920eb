/*
Package health watches node heartbeats and recovers from silent nodes.

The Controller is swept on a fixed period by the reconciler. For every node it
computes idle = now - LastHeartbeat and applies:

	Healthy   and idle > UnhealthyAfter → Unhealthy, then one restart attempt
	Unhealthy and idle > RemoveAfter    → node deleted, pods reallocated

# State Machine

	            heartbeat or successful restart
	   ┌──────────────────────────────────────────┐
	   │                                          │
	   ▼                                          │
	┌─────────┐   idle > UnhealthyAfter   ┌───────┴───┐   idle > RemoveAfter   ┌─────────┐
	│ Healthy │ ────────────────────────▶ │ Unhealthy │ ─────────────────────▶ │ Removed │
	└─────────┘                           └───────────┘                        └─────────┘

A successful restart refreshes the heartbeat and the node is Healthy again
with its pods untouched. A failed restart is logged and the node keeps its
Unhealthy state until it heartbeats or crosses RemoveAfter. Only one restart
is attempted per demotion.

With the default thresholds and a 5s sweep, a node whose last heartbeat
arrived at t=0 goes through:

	t=5s   sweep: idle 5s, nothing to do
	t=10s  sweep: idle 10s, marked Unhealthy, restart attempted
	t=20s  sweep: idle 20s, not yet past RemoveAfter
	t=25s  sweep: idle 25s, removed and its pods reallocated

# Sweep Order

A sweep runs in two passes over fresh snapshots:

 1. Every Healthy node past UnhealthyAfter is demoted and a restart is tried.
 2. Every Unhealthy node past RemoveAfter is removed.

All stale nodes are therefore Unhealthy before the first pod is reallocated,
and no evicted pod lands on a node that is itself about to fail. Inside a
removal the controller also skips any node that still reads Healthy but has
been silent past UnhealthyAfter.

# Reallocation

Pods of a removed node are resolved in the same ledger transaction as the
deletion:

	first-fit onto a healthy node → Running, new lifecycle token, full duration
	no fit, other nodes exist     → Waiting
	no nodes left                 → Terminated

A reallocated pod counts one more restart and gets a new lifecycle token, so
a completion timer armed for its previous placement is ignored. The Tracker
is handed every pod that is Running again so its completion can be scheduled.

# Concurrency

Every transition re-reads the node under the ledger lock, so a heartbeat that
arrives after the sweep took its snapshot always wins:

	sweep snapshot: n1 idle 21s
	heartbeat(n1)   ◀── lands while the restart call is in flight
	remove(n1)      re-checks idle under the lock and does nothing

Runtime calls (RestartNode, StopNode) are made outside the lock and bounded
by RestartTimeout. A removed node's environment is stopped after the ledger
no longer references it.

# Usage

	hc := health.NewController(l, rt, lifecycleManager, broker, health.DefaultConfig())
	result := hc.Sweep(ctx)
	fmt.Println(result.Unhealthy, result.Restarted, result.Removed)

Config is checked with Validate. RemoveAfter must be longer than
UnhealthyAfter and every duration must be positive.

# Workload Probes

The package also provides HTTP and TCP probes used by the node agent to gate
its own heartbeats on the health of the local workload:

	probe, err := health.ParseProbe("http://127.0.0.1:8080/healthz")
	status := health.NewStatus()
	status.Update(probe.Check(ctx), 3)

A Status turns unhealthy only after the given number of consecutive failures
and healthy again on the first success, so a single slow response does not
stop heartbeats.

# Monitoring Metrics

	alpinekube_node_transitions_total{state}     transitions by target state
	alpinekube_node_restarts_total{result}       restart attempts by result
	alpinekube_reallocations_total{outcome}      evicted pods by outcome

# Troubleshooting

Nodes flap between Healthy and Unhealthy:
  - The heartbeat interval is too close to UnhealthyAfter
  - The agent probe is failing intermittently, check its retries

Pods end up Terminated after a node failure:
  - The failed node was the last one in the cluster
*/
package health
