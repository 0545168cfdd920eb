/*
Package runtime starts, restarts and stops the execution environment that
backs a node.

Three drivers implement Runtime:

	simulated   no external process; restarts are unsupported
	containerd  one container per node in the "alpinekube" namespace
	docker      one container per node through the Docker Engine API

Container drivers name the container node_<id>, pass NODE_ID in the
environment, share the host network and cap the container at the node's CPU
count and memory limit. In containerd the CPU cap is a CFS quota of
cpus × 100ms per 100ms period.

The handle returned by StartNode is opaque to callers and is stored on the
node in the ledger. Drivers are never called while the ledger lock is held.
*/
package runtime
