package pipeline

import (
	"errors"
	"sync"

	"github.com/cuemby/relay/pkg/types"
)

// ErrSubscriberOverflow closes a subscription that fell behind
var ErrSubscriberOverflow = errors.New("event subscriber fell behind")

// Subscription receives events appended after it was created
type Subscription struct {
	aggregateID string
	ch          chan types.Event
	done        chan struct{}
	p           *Pipeline

	mu     sync.Mutex
	closed bool
	err    error
}

// Subscribe returns a subscription for one aggregate, or for every
// aggregate when aggregateID is empty.
func (p *Pipeline) Subscribe(aggregateID string) *Subscription {
	s := &Subscription{
		aggregateID: aggregateID,
		ch:          make(chan types.Event, p.buffer),
		done:        make(chan struct{}),
		p:           p,
	}
	p.subMu.Lock()
	p.subs[s] = struct{}{}
	p.subMu.Unlock()
	return s
}

// C delivers events in append order per aggregate
func (s *Subscription) C() <-chan types.Event { return s.ch }

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended, nil after Close
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.p.subMu.Lock()
	delete(s.p.subs, s)
	s.p.subMu.Unlock()
	s.end(nil)
}

func (s *Subscription) end(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = reason
	close(s.done)
	close(s.ch)
}

func (s *Subscription) deliver(ev types.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// SubscriberCount returns the number of open subscriptions
func (p *Pipeline) SubscriberCount() int {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	return len(p.subs)
}

func (p *Pipeline) notify(ev types.Event) {
	var overflow []*Subscription
	p.subMu.RLock()
	for s := range p.subs {
		if s.aggregateID != "" && s.aggregateID != ev.AggregateID {
			continue
		}
		if !s.deliver(ev) {
			overflow = append(overflow, s)
		}
	}
	p.subMu.RUnlock()

	for _, s := range overflow {
		p.logger.Warn().Str("aggregate_id", s.aggregateID).Msg("Closing slow event subscriber")
		p.subMu.Lock()
		delete(p.subs, s)
		p.subMu.Unlock()
		s.end(ErrSubscriberOverflow)
	}
}
