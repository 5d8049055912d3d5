package partition

import (
	"hash/fnv"
	"strings"
)

// DefaultKey is the broadcast key used for events without an aggregate id
const DefaultKey = "default"

// DefaultPartitions is used when no partition count is configured
const DefaultPartitions = 16

// Partition maps an aggregate id onto a shard in [0, total).
// The hash is FNV-1a so the mapping is identical across processes.
func Partition(aggregateID string, total int) int {
	if !IsValid(aggregateID) || total <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	v := int64(int32(h.Sum32()))
	if v < 0 {
		v = -v
	}
	return int(v % int64(total))
}

// PartitionPtr is Partition for an optional aggregate id; nil maps to 0
func PartitionPtr(aggregateID *string, total int) int {
	if aggregateID == nil {
		return 0
	}
	return Partition(*aggregateID, total)
}

// PartitionKey returns the key handed to the broadcast transport so its own
// partitioner keeps one aggregate on one partition
func PartitionKey(aggregateID string) string {
	if !IsValid(aggregateID) {
		return DefaultKey
	}
	return aggregateID
}

// IsValid reports whether aggregateID can be partitioned
func IsValid(aggregateID string) bool {
	return strings.TrimSpace(aggregateID) != ""
}

// Resolver binds a fixed partition count
type Resolver struct {
	Partitions int
}

// NewResolver creates a resolver, falling back to DefaultPartitions
func NewResolver(partitions int) Resolver {
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	return Resolver{Partitions: partitions}
}

// Partition maps aggregateID onto one of the resolver's partitions
func (r Resolver) Partition(aggregateID string) int {
	return Partition(aggregateID, r.Partitions)
}

// Key returns the broadcast key for aggregateID
func (r Resolver) Key(aggregateID string) string {
	return PartitionKey(aggregateID)
}

// PartitionForIndex picks the affinity slot for aggregateID among n sorted
// candidates. It returns -1 when there are no candidates.
func PartitionForIndex(aggregateID string, n int) int {
	if n <= 0 {
		return -1
	}
	return Partition(aggregateID, n)
}
