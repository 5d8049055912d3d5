package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/relay/pkg/types"
)

type staticInstances []types.ServiceInstance

func (s staticInstances) List() []types.ServiceInstance { return s }

type deadLetterCount struct {
	n   int
	err error
}

func (d deadLetterCount) CountDeadLetters() (int, error) { return d.n, d.err }

func TestCollector_Instances(t *testing.T) {
	src := staticInstances{
		{InstanceID: "a", ServiceName: "orders", Status: types.InstanceStatusUp},
		{InstanceID: "b", ServiceName: "orders", Status: types.InstanceStatusUp},
		{InstanceID: "c", ServiceName: "orders", Status: types.InstanceStatusDown},
	}
	c := NewCollector(src, deadLetterCount{n: 4}, 0)
	c.Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(InstancesTotal.WithLabelValues("orders", "UP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(InstancesTotal.WithLabelValues("orders", "DOWN")))
	assert.Equal(t, 4.0, testutil.ToFloat64(DeadLettersPending))

	// removed series are cleared on the next pass
	c.instances = staticInstances{{InstanceID: "a", ServiceName: "orders", Status: types.InstanceStatusUp}}
	c.Collect()
	assert.Equal(t, 1.0, testutil.ToFloat64(InstancesTotal.WithLabelValues("orders", "UP")))
	_, stillSeen := c.seen[[2]string{"orders", "DOWN"}]
	assert.False(t, stillSeen)
}

func TestCollector_DeadLetterError(t *testing.T) {
	DeadLettersPending.Set(7)
	c := NewCollector(nil, deadLetterCount{err: errors.New("closed")}, 0)
	c.Collect()
	assert.Equal(t, 7.0, testutil.ToFloat64(DeadLettersPending))
}

func TestCollector_StartStop(t *testing.T) {
	c := NewCollector(staticInstances{}, nil, 0)
	c.Start()
	c.Stop()
	c.Stop()
}
