// Package partition maps aggregate identifiers onto shards.
//
// Every event and command for one aggregate must land on the same shard so that
// per-aggregate ordering survives fan-out. Partition uses FNV-1a, which has no
// per-process seed, so the mapping is stable across restarts and across every
// coordinator in a deployment. PartitionKey is the routing key handed to the
// broadcast transport, letting Kafka's own partitioner preserve the same property.
package partition
