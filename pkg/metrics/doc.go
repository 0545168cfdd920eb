/*
Package metrics exposes Prometheus metrics and process health.

Gauges (nodes by state, pods by status, waitlist length, CPU) are refreshed
from a ledger snapshot by the Collector. Counters and histograms are updated
in place by the scheduler, lifecycle manager, health controller, reconciler
and API interceptors; Timer measures durations for the histograms.

HealthChecker tracks the health of named components. /ready reports ready
once every critical component (ledger, sweeper, API) has reported healthy.
*/
package metrics
