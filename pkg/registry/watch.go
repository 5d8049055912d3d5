package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/types"
)

var (
	// ErrWatcherOverflow ends a watcher that fell too far behind
	ErrWatcherOverflow = errors.New("watcher fell behind and was dropped")

	// ErrWatcherClosed ends a watcher closed by its owner
	ErrWatcherClosed = errors.New("watcher closed")
)

// Watcher receives change notifications for one subscription. The channel
// returned by C is closed when the watcher ends; Err then explains why.
type Watcher struct {
	id          uint64
	serviceName string
	registry    *Registry

	mu     sync.Mutex
	ch     chan types.ServiceChangeNotification
	done   chan struct{}
	err    error
	closed bool
	// ids announced live while the snapshot is still being taken
	announced map[string]struct{}
}

// C returns the notification channel
func (w *Watcher) C() <-chan types.ServiceChangeNotification {
	return w.ch
}

// Done is closed when the watcher ends
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err returns the reason the watcher ended, or nil while it is active
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close ends the watcher and releases its registration
func (w *Watcher) Close() {
	w.mu.Lock()
	w.closeLocked(ErrWatcherClosed)
	w.mu.Unlock()
}

func (w *Watcher) closeLocked(reason error) {
	if w.closed {
		return
	}
	w.closed = true
	w.err = reason
	close(w.ch)
	close(w.done)
	w.registry.watchers.Delete(w.id)
	metrics.WatchersActive.Dec()
}

func (w *Watcher) matches(inst *types.ServiceInstance) bool {
	return w.serviceName == "" || w.serviceName == inst.ServiceName
}

// deliver never blocks: a full buffer drops the watcher
func (w *Watcher) deliver(n types.ServiceChangeNotification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.send(n) && w.announced != nil && n.ChangeType == types.ChangeAdded {
		w.announced[n.Instance.InstanceID] = struct{}{}
	}
}

// deliverInitial sends a snapshot ADDED unless a live ADDED for the same
// instance already went out
func (w *Watcher) deliverInitial(n types.ServiceChangeNotification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.announced[n.Instance.InstanceID]; ok {
		return
	}
	w.send(n)
}

func (w *Watcher) snapshotDone() {
	w.mu.Lock()
	w.announced = nil
	w.mu.Unlock()
}

// send is called with w.mu held and reports whether n was queued
func (w *Watcher) send(n types.ServiceChangeNotification) bool {
	if w.closed {
		return false
	}
	select {
	case w.ch <- n:
		return true
	default:
		metrics.WatchersDropped.Inc()
		w.registry.logger.Warn().
			Uint64("watcher", w.id).
			Str("service", w.serviceName).
			Msg("Dropping slow watcher")
		w.closeLocked(ErrWatcherOverflow)
		return false
	}
}

// Watch subscribes to changes for serviceName (all services when empty).
// The current matching instances are delivered first as ADDED, followed by
// live changes until ctx is cancelled or the watcher is closed.
func (r *Registry) Watch(ctx context.Context, serviceName string) (*Watcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &Watcher{
		id:          r.watcherID.Add(1),
		serviceName: serviceName,
		registry:    r,
		ch:          make(chan types.ServiceChangeNotification, r.watchBuffer+r.Count()),
		done:        make(chan struct{}),
		announced:   make(map[string]struct{}),
	}
	metrics.WatchersActive.Inc()
	r.watchers.Store(w.id, w)

	// Reading each entry under its lock orders the snapshot against
	// concurrent changes to the same instance. An instance registered while
	// the snapshot runs is announced once.
	r.instances.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		e.mu.RLock()
		if !e.removed && w.matches(&e.inst) {
			w.deliverInitial(types.ServiceChangeNotification{
				Instance:   e.inst.Clone(),
				ChangeType: types.ChangeAdded,
				Timestamp:  r.now(),
			})
		}
		e.mu.RUnlock()
		return true
	})
	w.snapshotDone()

	go func() {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.closeLocked(ctx.Err())
			w.mu.Unlock()
		case <-w.done:
		}
	}()

	return w, nil
}

// WatcherCount returns the number of active watchers
func (r *Registry) WatcherCount() int {
	n := 0
	r.watchers.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// notify is called with the instance's entry lock held
func (r *Registry) notify(inst types.ServiceInstance, change types.ChangeType) {
	metrics.RegistryChangesTotal.WithLabelValues(string(change)).Inc()
	n := types.ServiceChangeNotification{Instance: inst, ChangeType: change, Timestamp: r.now()}
	r.watchers.Range(func(_, v interface{}) bool {
		w := v.(*Watcher)
		if w.matches(&inst) {
			n.Instance = inst.Clone()
			w.deliver(n)
		}
		return true
	})
}
