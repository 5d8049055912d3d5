/*
Package pipeline is the append path for domain events.

Append validates an event, stores it and then forwards it to the broadcast
channel keyed by the aggregate's partition key. Events whose relay.origin
metadata is "broadcast" were received from another coordinator and are
stored without being forwarded again. Ingest is the entry point for those
events; it marks the provenance itself and treats an already stored event as
a duplicate rather than a conflict.

Forwarding never fails an append. A failed forward is written to the dead
letter queue of the store and replayed by RedeliverDeadLetters, which the
reconciler calls periodically.

Subscribe gives in-process consumers, such as the saga manager, the events
appended on this node.
*/
package pipeline
