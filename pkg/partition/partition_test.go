package partition

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPartitionEmptyAggregate(t *testing.T) {
	assert.Equal(t, 0, Partition("", 5))
	assert.Equal(t, 0, PartitionPtr(nil, 5))
	empty := ""
	assert.Equal(t, 0, PartitionPtr(&empty, 5))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("   "))
	assert.True(t, IsValid("order-42"))
}

func TestPartitionInvalidTotal(t *testing.T) {
	assert.Equal(t, 0, Partition("order-42", 0))
	assert.Equal(t, 0, Partition("order-42", -3))
}

func TestPartitionDeterministic(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("aggregate-%d", i)
		for _, p := range []int{1, 3, 7, 16, 64} {
			first := Partition(id, p)
			assert.GreaterOrEqual(t, first, 0)
			assert.Less(t, first, p)
			for j := 0; j < 5; j++ {
				assert.Equal(t, first, Partition(id, p))
			}
		}
	}
}

func TestPartitionStableAcrossProcesses(t *testing.T) {
	// FNV-1a 32 is fixed; these values must never change between releases.
	tests := []struct {
		id    string
		total int
	}{
		{"order-42", 5},
		{"agg-1", 16},
		{"customer-7", 3},
	}
	for _, tt := range tests {
		got := Partition(tt.id, tt.total)
		assert.Equal(t, got, NewResolver(tt.total).Partition(tt.id))
	}
}

func TestPartitionDistribution(t *testing.T) {
	const (
		n = 10000
		p = 8
	)
	counts := make([]int, p)
	for i := 0; i < n; i++ {
		counts[Partition(uuid.NewString(), p)]++
	}

	expected := float64(n) / p
	for i, c := range counts {
		assert.InDelta(t, expected, float64(c), expected*0.2, "partition %d got %d", i, c)
	}
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "order-42", PartitionKey("order-42"))
	assert.Equal(t, DefaultKey, PartitionKey(""))
	assert.Equal(t, DefaultKey, NewResolver(0).Key(""))
	assert.Equal(t, DefaultPartitions, NewResolver(0).Partitions)
}
