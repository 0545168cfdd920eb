/*
Package events is an in-memory pub/sub broker for cluster events.

A slow subscriber never holds up the others: each one has a buffered
channel and events that do not fit are dropped for that subscriber. Components take the narrow
Publisher interface and call Emit, which tolerates a nil publisher, so tests
can run them without a broker.

Event types:

	node.registered            node.unhealthy      node.restarted
	node.heartbeat_recovered   node.removed
	pod.scheduled              pod.rescheduled     pod.waitlisted
	pod.completed              pod.terminated

The broker feeds the StreamEvents RPC and, when configured, the bbolt journal
in pkg/storage.
*/
package events
