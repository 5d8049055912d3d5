/*
Package health carries instance liveness between application instances and
the registry.

Processor.Ingest consumes an instance's heartbeat stream, applies each
heartbeat to the registry (status, merged metadata, heartbeat time) and
acknowledges it. Processor.Relay turns registry changes into
HealthStreamResponse messages for external watchers; a removed instance is
reported as DOWN.

Neither path removes instances. Demotion and deregistration of instances
that stop heartbeating belong to the liveness sweeper in the reconciler
package, which may also use a Prober to check UP instances over TCP, or
over HTTP when the instance advertises a relay.health-url metadata key.
*/
package health
