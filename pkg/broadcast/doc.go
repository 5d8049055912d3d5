/*
Package broadcast carries persisted events between coordinators.

A Forwarder publishes events, snapshots and commands keyed by the
aggregate's partition key. Two transports are provided: Kafka (franz-go) on
the topics <prefix>.events, <prefix>.commands and <prefix>.snapshots, and
NATS on the subjects <prefix>.<stream>.<partition>. Each record carries the
relay-node header naming the coordinator that produced it.

Receivers hand remote events to an Ingester with relay.origin=broadcast set
in the metadata, which stops the pipeline from forwarding them again.
Records produced by the local node are skipped.

Topic creation and retention are left to the operator.
*/
package broadcast
