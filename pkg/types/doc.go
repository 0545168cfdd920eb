/*
Package types defines the data model shared by every alpinekube package.

# Nodes

A Node offers a fixed TotalCPU. AvailableCPU is always TotalCPU minus the sum
of the CPU requests of the pods listed in AssignedPods. Nodes move between
NodeStateHealthy and NodeStateUnhealthy based on heartbeats; NodeStateRemoved
is terminal and removed nodes are deleted from the ledger rather than kept.

# Pods

A Pod is in exactly one of three places:

	Running              → listed in exactly one node's AssignedPods
	Waiting              → queued on the waitlist
	Completed/Terminated → neither (terminal, kept for queries)

LifecycleToken identifies one particular placement of a pod. Every time the
pod (re-)enters Running it receives a fresh token, which is how a completion
timer from an earlier placement recognizes that it is stale.

# Errors

The error taxonomy (ErrAlreadyExists, ErrNotFound, ErrNoCapacity,
ErrRuntimeFailure, ErrInvalidArgument) lives here so the API layer can map
errors to status codes without importing the components that produced them.
*/
package types
