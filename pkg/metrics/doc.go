/*
Package metrics defines the Prometheus collectors exported by a relay
coordinator and the health checker behind its /health and /ready
endpoints.

All collectors register with the default Prometheus registry at init and
are served by Handler. Counters and histograms are updated inline by the
router, pipeline and resilience packages; gauges that mirror state, such
as relay_instances_total and relay_dead_letters_pending, are refreshed by
a Collector on an interval.

Readiness is gated on a set of critical components ("storage",
"registry" and "api" by default). Each component reports itself with
HealthChecker.Set as it starts or fails:

	hc := metrics.Default()
	hc.Set("storage", true, "")
	http.Handle("/ready", hc.ReadyHandler())

Timing helpers:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchDuration, "command")
*/
package metrics
