/*
Package reconciler runs the control plane's periodic sweep.

Each tick first runs the health controller over every node, then makes one
pass over the waitlist:

	for each waiting pod, in FIFO order:
	    first healthy node with enough CPU, not yet used in this pass
	    → Running with a new lifecycle token and a completion timer
	    otherwise the pod keeps its place in the queue

Limiting each node to one pod per pass spreads waiting pods across nodes
instead of packing the first node that frees up.
*/
package reconciler
