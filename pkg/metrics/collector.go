package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/relay/pkg/types"
)

// InstanceSource lists registered instances for gauge collection
type InstanceSource interface {
	List() []types.ServiceInstance
}

// DeadLetterSource reports how many events await broadcast redelivery
type DeadLetterSource interface {
	CountDeadLetters() (int, error)
}

// Collector periodically refreshes gauges that are derived from state
// rather than incremented inline.
type Collector struct {
	instances   InstanceSource
	deadLetters DeadLetterSource
	interval    time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	// series written on the previous pass, cleared when they disappear
	seen map[[2]string]struct{}
}

// NewCollector creates a collector. deadLetters may be nil.
func NewCollector(instances InstanceSource, deadLetters DeadLetterSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		instances:   instances,
		deadLetters: deadLetters,
		interval:    interval,
		stopCh:      make(chan struct{}),
		seen:        make(map[[2]string]struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		c.Collect()
		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect runs a single collection pass
func (c *Collector) Collect() {
	c.collectInstances()
	c.collectDeadLetters()
}

func (c *Collector) collectInstances() {
	if c.instances == nil {
		return
	}
	counts := make(map[[2]string]int)
	for _, inst := range c.instances.List() {
		counts[[2]string{inst.ServiceName, string(inst.Status)}]++
	}
	for key := range c.seen {
		if _, ok := counts[key]; !ok {
			InstancesTotal.DeleteLabelValues(key[0], key[1])
			delete(c.seen, key)
		}
	}
	for key, n := range counts {
		InstancesTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
		c.seen[key] = struct{}{}
	}
}

func (c *Collector) collectDeadLetters() {
	if c.deadLetters == nil {
		return
	}
	n, err := c.deadLetters.CountDeadLetters()
	if err != nil {
		return
	}
	DeadLettersPending.Set(float64(n))
}
