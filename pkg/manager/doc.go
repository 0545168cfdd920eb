/*
Package manager is the control plane facade.

A Manager owns the resource ledger and wires the pieces around it:

	RegisterNode  runtime.StartNode, then ledger (rolled back if the ledger rejects it)
	Heartbeat     ledger; an unhealthy node turns healthy again
	SubmitPod     scheduler (best fit), then lifecycle timer
	sweep         reconciler → health controller → waitlist

Cluster state lives only in memory. The optional event journal records what
happened but is never read back on start.

# Architecture

	            ┌───────────────────────────────┐
	 API ─────▶ │            Manager            │
	            └──┬──────────┬──────────┬──────┘
	               │          │          │
	               ▼          ▼          ▼
	         ┌─────────┐ ┌─────────┐ ┌──────────┐
	         │scheduler│ │lifecycle│ │reconciler│──▶ health.Controller
	         └────┬────┘ └────┬────┘ └────┬─────┘
	              │           │           │
	              ▼           ▼           ▼
	         ┌───────────────────────────────────┐
	         │      ledger (single mutex)        │
	         └───────────────────────────────────┘
	                          │
	                          ▼
	                 events.Broker ──▶ storage.BoltJournal (optional)

Every component mutates cluster state through ledger transactions, so no
component ever observes a half-applied change. Events are emitted after a
transaction commits.

# Usage

	rt, err := runtime.New(runtime.Config{Driver: runtime.DriverSimulated})
	if err != nil {
		return err
	}
	m := manager.NewManager(manager.DefaultConfig(), rt, nil)
	m.Start()
	defer m.Stop()

	if _, err := m.RegisterNode(ctx, "n1", 4); err != nil {
		return err
	}
	pod, err := m.SubmitPod(types.PodSpec{ID: "p1", CPURequest: 2, Duration: time.Minute})

Nodes keep themselves alive by calling Heartbeat, usually through the node
agent. A pod completes on its own once its duration elapses.

## Journaling Events

	journal, err := storage.NewBoltJournal("/var/lib/alpinekube/events.db")
	if err != nil {
		return err
	}
	m := manager.NewManager(cfg, rt, journal)

The manager subscribes the journal to its broker on Start and closes it on
Stop, after every queued event has been written.

## Watching Events

	sub := m.Subscribe()
	defer m.Unsubscribe(sub)
	for event := range sub {
		fmt.Println(event.Type, event.NodeID, event.PodID)
	}

Slow subscribers miss events instead of blocking the control plane.

# Lifecycle

Start launches, in order, the event broker, the journal writer, the metrics
collector and the sweep loop. Stop tears them down in reverse and closes the
runtime. Node environments started by the runtime are left running.

# Failure Scenarios

Runtime cannot start a node:
  - RegisterNode returns types.ErrRuntimeFailure and the ledger is unchanged

Two registrations race for the same node ID:
  - The loser gets types.ErrAlreadyExists and its environment is stopped

No node can fit a submission:
  - SubmitPod returns types.ErrNoCapacity; the pod is not queued

A node goes silent:
  - The next sweeps demote it, try one restart and finally remove it
  - Its pods are reallocated as described in pkg/health

# Monitoring

The manager starts a metrics.Collector that refreshes the node, pod, CPU and
waitlist gauges from ledger snapshots every sweep interval. Component health
for the ledger, the runtime, the journal and the sweeper is reported through
metrics.UpdateComponent and served on /health and /ready.

# See Also

  - pkg/ledger for the state and its invariants
  - pkg/health for the node state machine
  - pkg/api for the gRPC surface built on this package
*/
package manager
