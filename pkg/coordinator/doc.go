/*
Package coordinator is the composition root of a relay node.

New turns a config.Config into a running set of components:

	store       bolt (default), postgres or memory event store
	registry    instance table, persisted in the node's state store
	resilience  breaker and retry per route, notices on the event broker
	routers     command and query routing over a gRPC dispatcher
	pipeline    append, broadcast forward, dead letters, subscriptions
	broadcast   kafka or nats forwarder plus the matching ingest side
	sagas       state machines fed from every appended event
	reconciler  liveness sweep, optional probes, dead letter redelivery
	api         relay.v1 gRPC services and the HTTP health endpoints
	dns         optional DNS view of the registry (dns.enabled)

With the postgres driver only events, snapshots and dead letters live in
Postgres. Registrations and saga instances stay in a bolt file under
node.data_dir, or in memory when no data directory is configured.

Start listens and starts the background loops; Stop tears them down in
reverse order and closes the stores.
*/
package coordinator
