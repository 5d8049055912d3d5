/*
Package types defines the data model shared by every Relay component.

# Core Types

Discovery:
  - ServiceInstance: a registered application instance, its capabilities and health
  - Heartbeat: a health update pushed by an instance
  - ServiceChangeNotification: ADDED / REMOVED / UPDATED registry changes
  - HealthStreamResponse: the per-instance view relayed to health watchers

Routing:
  - CommandEnvelope, QueryEnvelope: transient requests submitted for routing
  - RoutingOutcome: SUCCESS{target, result} | ROUTED{target} | ERROR{code, message}
  - CircuitBreakerState: CLOSED, OPEN, HALF_OPEN per operation name

Event log:
  - Event: an immutable fact, unique per (AggregateID, SequenceNumber)
  - Snapshot: the single live snapshot per aggregate
  - Payload: opaque typed blob {Type, Data}

# Errors

All components report failures with the sentinels in errors.go, wrapped with
fmt.Errorf("...: %w", err). ErrorCode maps any error onto the machine-readable
codes carried by API results:

	ErrValidation          -> VALIDATION_ERROR       (never retried)
	ErrNoHealthyInstance   -> NO_HEALTHY_INSTANCE    (routing dead-end)
	ErrTransient           -> TRANSIENT_DOWNSTREAM   (retried, breaker tracked)
	ErrConcurrencyConflict -> CONCURRENCY_CONFLICT   (caller reloads and retries)
	ErrCircuitOpen         -> CIRCUIT_OPEN           (fast fail)

# Payload Types

TypeRegistry maps declared payload type names to decode functions. Relay itself
never decodes business payloads; the registry is used by the instance SDK in
pkg/client so handlers receive typed values.
*/
package types
