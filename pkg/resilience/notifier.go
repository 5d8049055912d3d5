package resilience

import (
	"strconv"
	"time"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/types"
)

// Notifier observes resilience decisions
type Notifier interface {
	OnRetry(name string, attempt int, err error, wait time.Duration)
	OnSuccess(name string, attempts int)
	OnPermanentFailure(name string, attempts int, err error)
	OnStateChange(name string, from, to types.CircuitBreakerState)
}

// NopNotifier ignores all notifications
type NopNotifier struct{}

func (NopNotifier) OnRetry(string, int, error, time.Duration)                                  {}
func (NopNotifier) OnSuccess(string, int)                                                      {}
func (NopNotifier) OnPermanentFailure(string, int, error)                                      {}
func (NopNotifier) OnStateChange(string, types.CircuitBreakerState, types.CircuitBreakerState) {}

// BrokerNotifier records notifications as Prometheus metrics and publishes
// them on the coordinator's notification broker. broker may be nil.
type BrokerNotifier struct {
	broker *events.Broker
}

// NewBrokerNotifier creates a notifier that publishes to broker
func NewBrokerNotifier(broker *events.Broker) *BrokerNotifier {
	return &BrokerNotifier{broker: broker}
}

func (n *BrokerNotifier) OnRetry(name string, attempt int, err error, wait time.Duration) {
	metrics.RetriesTotal.WithLabelValues(name).Inc()
	n.publish(events.EventDispatchRetry, err.Error(), map[string]string{
		"operation": name,
		"attempt":   strconv.Itoa(attempt),
		"backoff":   wait.String(),
	})
}

func (n *BrokerNotifier) OnSuccess(name string, attempts int) {
	if attempts <= 1 {
		return
	}
	n.publish(events.EventDispatchSucceeded, "succeeded after retry", map[string]string{
		"operation": name,
		"attempts":  strconv.Itoa(attempts),
	})
}

func (n *BrokerNotifier) OnPermanentFailure(name string, attempts int, err error) {
	metrics.PermanentFailuresTotal.WithLabelValues(name).Inc()
	n.publish(events.EventDispatchFailed, err.Error(), map[string]string{
		"operation": name,
		"attempts":  strconv.Itoa(attempts),
		"code":      string(types.ErrorCode(err)),
	})
}

func (n *BrokerNotifier) OnStateChange(name string, from, to types.CircuitBreakerState) {
	metrics.CircuitState.WithLabelValues(name).Set(stateValue(to))
	n.publish(events.EventCircuitStateChanged, string(from)+" -> "+string(to), map[string]string{
		"operation": name,
		"from":      string(from),
		"to":        string(to),
	})
}

func (n *BrokerNotifier) publish(t events.EventType, msg string, md map[string]string) {
	if n.broker == nil {
		return
	}
	n.broker.Publish(&events.Event{Type: t, Message: msg, Metadata: md})
}

func stateValue(s types.CircuitBreakerState) float64 {
	switch s {
	case types.CircuitHalfOpen:
		return 1
	case types.CircuitOpen:
		return 2
	}
	return 0
}
