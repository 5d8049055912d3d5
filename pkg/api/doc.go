/*
Package api implements the coordinator's gRPC surface and its HTTP health
endpoints.

# Services

One Server implements every relay.v1 service:

	relay.v1.Registry    RegisterService, UnregisterService, SendHeartbeat
	relay.v1.Discovery   GetHealthyServices, ListInstances, WatchServices, WatchHealth
	relay.v1.Commands    SubmitCommand
	relay.v1.Queries     SubmitQuery
	relay.v1.Events      AppendEvent, NextSequence, LoadEvents, SaveSnapshot,
	                     LoadSnapshot, SubscribeEvents, StreamNotifications

Messages are plain Go structs carried with the JSON codec registered by
package relayv1; clients select it with the "json" content-subtype. The
standard grpc.health.v1 service is registered next to them.

# Errors

Operations whose responses carry a status report domain failures in the
response body with a machine-readable code (VALIDATION_ERROR,
NO_HEALTHY_INSTANCE, CONCURRENCY_CONFLICT, ...). The remaining operations
return gRPC status errors built by ToStatus; FromStatus maps them back to
the sentinels in package types.

# Commands

SubmitCommand routes the command, then appends the events returned by the
handler. Each event gets the aggregate's next sequence number; on a
conflict the number is reloaded and the append retried, up to
DefaultAppendRetries times. Handlers and clients cannot set the relay.origin
metadata, so every event entering through the API is forwarded to the
broadcast channel.

# Health

HealthServer serves /health, /ready, /live and /metrics. Readiness checks
registered with AddCheck run on every /ready request.

# Usage

	srv := api.NewServer(api.Deps{
		Registry: reg,
		Commands: commands,
		Queries:  queries,
		Pipeline: pipe,
		Broker:   broker,
	})
	go srv.Start(":7070")
	defer srv.Stop()
*/
package api
