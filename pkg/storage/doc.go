/*
Package storage keeps an append-only journal of cluster events in bbolt.

Events are stored in a single "events" bucket keyed by the bucket's
sequence number, big-endian encoded so that a cursor walks them in order:

	events/
	  0000000000000001 → {"id":"…","type":"node.registered",…}
	  0000000000000002 → {"id":"…","type":"pod.scheduled",…}

The journal is history only. The control plane keeps its nodes, pods and
waitlist in memory and never reads them back from disk.
*/
package storage
