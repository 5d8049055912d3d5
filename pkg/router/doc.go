/*
Package router picks the instance that handles a command or query.

Commands carry an aggregate id. Capable instances are sorted by instance id
and the aggregate's partition indexes into that list, so every command for an
aggregate reaches the same instance while the membership is stable. A failed
command is reported, never retried on a different instance.

Queries have no affinity. Each query type keeps its own round-robin cursor;
when an instance is unreachable or its circuit is open the next one is tried.

All dispatches go through the resilience wrapper under the operation name
"<service>:<type>".
*/
package router
