/*
Package scheduler places pods on nodes.

Placement is stateless. Every decision reads the ledger inside the caller's
transaction, so the chosen node cannot change between selection and
allocation. Only healthy nodes with enough available CPU are candidates.

# Architecture

A placement is a filter followed by a policy:

	┌──────────────────────────────────────────────┐
	│        ledger transaction (write lock)       │
	│                                              │
	│  tx.Nodes()  sorted by ID                    │
	│      │                                       │
	│      ▼                                       │
	│  filterEligible                              │
	│    • drop nodes listed in skip               │
	│    • drop nodes that are not Healthy         │
	│    • drop nodes with AvailableCPU < request  │
	│      │                                       │
	│      ▼                                       │
	│  Policy.Select ──▶ node or ErrNoCapacity     │
	│      │                                       │
	│      ▼                                       │
	│  tx.StartPod / tx.Reassign                   │
	└──────────────────────────────────────────────┘

Because the filter, the selection and the allocation share one transaction,
two concurrent submissions can never both claim the last free CPU of a node.

# Policies

Two policies are provided:

	BestFit   most available CPU, lowest node ID on ties (new submissions)
	FirstFit  first node in ID order that fits (reallocation and the waitlist)

## Best Fit

Submissions spread load by picking the node with the most free CPU:

	n1: 4 free   n2: 6 free   n3: 6 free
	request 2 ──▶ n2 (n2 and n3 tie, n2 sorts first)

## First Fit

Pods evicted from a removed node and pods leaving the waitlist take the first
node in ID order that still fits, which keeps reallocation predictable:

	n1: 1 free   n2: 3 free   n3: 8 free
	request 2 ──▶ n2

# Core Components

Scheduler wraps the ledger and handles new submissions with best fit:

	sched := scheduler.NewScheduler(l)
	pod, err := sched.Schedule(types.PodSpec{ID: "p1", CPURequest: 2, Duration: time.Minute})

Schedule never queues a pod. A request that fits nowhere fails with
types.ErrNoCapacity and leaves the ledger unchanged; the caller decides
whether that is a rejection.

Place is the building block for callers that already hold a transaction.
The skip set excludes nodes that are still Healthy in the ledger but must not
receive work, such as a node already picked in the same pass:

	err := l.Update(func(tx *ledger.Tx) error {
		node, err := scheduler.Place(tx, scheduler.FirstFit{}, pod.CPURequest, used)
		if err != nil {
			return err
		}
		_, err = tx.Reassign(pod.ID, node.ID, now)
		return err
	})

# Errors

	types.ErrInvalidArgument  empty ID, CPU request or duration not positive
	types.ErrAlreadyExists    a pod with the same ID is still Running or Waiting
	types.ErrNoCapacity       no healthy node has enough available CPU

A pod ID may be reused once the previous pod is Completed or Terminated.

# Monitoring Metrics

	alpinekube_placements_total{policy, result}   placement attempts by policy and result
	alpinekube_scheduling_latency_seconds         time spent in Schedule

# See Also

  - pkg/ledger for the transaction model
  - pkg/health for reallocation of pods from removed nodes
  - pkg/reconciler for waitlist draining
*/
package scheduler
