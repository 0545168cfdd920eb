/*
Package api serves the control plane over gRPC.

The ClusterAPI service (alpinekube.v1.ClusterAPI) is described by a
hand-written grpc.ServiceDesc and carried with a JSON codec registered under
the "json" content subtype, so no generated stubs are needed. Clients select
the codec with grpc.CallContentSubtype(api.CodecName); pkg/client does this
for every call.

Methods:

	RegisterNode   start a node environment and add it to the ledger
	Heartbeat      refresh a node's liveness
	SubmitPod      best-fit placement, rejected with ResourceExhausted when nothing fits
	GetPod         one pod by ID
	ListNodes      nodes, optionally filtered by state
	ListPods       pods, optionally filtered by status and node
	ListWaitlist   waiting pods in queue order
	StreamEvents   server stream of cluster events

Domain errors map onto status codes in toStatus. NewReadOnlyServer builds a
server that rejects every mutating call; the CLI exposes it on a local Unix
socket.

HealthServer exposes /health, /ready, /live and /metrics over plain HTTP.
*/
package api
