package router

import (
	"sort"
	"time"

	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/types"
)

// DefaultDispatchTimeout bounds a single dispatch attempt
const DefaultDispatchTimeout = 5 * time.Second

// Registry is the part of the instance registry the routers read
type Registry interface {
	FindCapable(capability string, requiredTags []string) []types.ServiceInstance
}

// Option configures a router
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithDispatchTimeout overrides DefaultDispatchTimeout
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{timeout: DefaultDispatchTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// candidates returns the capable instances in a stable order
func candidates(reg Registry, msgType string) []types.ServiceInstance {
	list := reg.FindCapable(msgType, nil)
	sort.Slice(list, func(i, j int) bool { return list[i].InstanceID < list[j].InstanceID })
	return list
}

// operationName names the breaker guarding calls of msgType into a service
func operationName(inst types.ServiceInstance, msgType string) string {
	return inst.ServiceName + ":" + msgType
}

func record(kind string, outcome types.RoutingOutcome) types.RoutingOutcome {
	metrics.RoutingOutcomesTotal.WithLabelValues(kind, string(outcome.Kind), string(outcome.ErrorCode)).Inc()
	return outcome
}
