package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/types"
)

const defaultWatchBuffer = 64

type entry struct {
	mu      sync.RWMutex
	inst    types.ServiceInstance
	removed bool
}

// Registry is the source of truth for instance liveness. Instances live in
// a sync.Map of entries that each carry their own lock, so heartbeats for
// different instances never contend.
type Registry struct {
	instances sync.Map // instanceID -> *entry
	watchers  sync.Map // watcher id -> *Watcher
	watcherID atomic.Uint64

	store       storage.InstanceStore
	broker      *events.Broker
	watchBuffer int
	onRemove    []func(types.ServiceInstance)
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithStore persists registrations so they survive a restart
func WithStore(s storage.InstanceStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithBroker publishes registration notices on b
func WithBroker(b *events.Broker) Option {
	return func(r *Registry) { r.broker = b }
}

// WithWatchBuffer sets how many notifications a watcher may lag behind
// before it is dropped.
func WithWatchBuffer(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.watchBuffer = n
		}
	}
}

// OnRemove calls fn with every instance after it is deregistered
func OnRemove(fn func(types.ServiceInstance)) Option {
	return func(r *Registry) { r.onRemove = append(r.onRemove, fn) }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		watchBuffer: defaultWatchBuffer,
		now:         time.Now,
		logger:      log.WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore loads persisted registrations with status UNKNOWN. Heartbeats
// bring them back to UP; the sweeper removes the ones that never return.
func (r *Registry) Restore() (int, error) {
	if r.store == nil {
		return 0, nil
	}
	list, err := r.store.ListInstances()
	if err != nil {
		return 0, fmt.Errorf("failed to load instances: %w", err)
	}
	for _, inst := range list {
		inst.Status = types.InstanceStatusUnknown
		inst.LastHeartbeat = r.now()
		r.instances.Store(inst.InstanceID, &entry{inst: inst})
	}
	r.logger.Info().Int("count", len(list)).Msg("Restored instance registrations")
	return len(list), nil
}

// Register upserts an instance. The first registration of an id emits
// ADDED, later ones emit UPDATED.
func (r *Registry) Register(ctx context.Context, inst types.ServiceInstance) (types.ServiceInstance, error) {
	if err := validate(inst); err != nil {
		return types.ServiceInstance{}, err
	}
	inst = inst.Clone()
	inst.Normalize()
	if inst.Status == "" || inst.Status == types.InstanceStatusUnknown {
		inst.Status = types.InstanceStatusStarting
	}
	inst.LastHeartbeat = r.now()

	for {
		if err := ctx.Err(); err != nil {
			return types.ServiceInstance{}, err
		}
		fresh := &entry{}
		fresh.mu.Lock()
		v, loaded := r.instances.LoadOrStore(inst.InstanceID, fresh)
		e := v.(*entry)
		if !loaded {
			e.inst = inst
			r.notify(inst, types.ChangeAdded)
			fresh.mu.Unlock()
			r.persist(inst)
			r.publish(events.EventInstanceRegistered, inst)
			r.logger.Info().
				Str("instance_id", inst.InstanceID).
				Str("service", inst.ServiceName).
				Str("address", inst.Address()).
				Strs("capabilities", inst.CommandTypes).
				Msg("Instance registered")
			return inst.Clone(), nil
		}
		fresh.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// lost a race with Deregister; try again with a new entry
			e.mu.Unlock()
			continue
		}
		e.inst = inst
		r.notify(inst, types.ChangeUpdated)
		e.mu.Unlock()
		r.persist(inst)
		r.logger.Debug().Str("instance_id", inst.InstanceID).Msg("Instance re-registered")
		return inst.Clone(), nil
	}
}

// Deregister removes an instance, reporting whether it existed
func (r *Registry) Deregister(instanceID string) bool {
	v, ok := r.instances.LoadAndDelete(instanceID)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	r.remove(e)
	return true
}

// DeregisterIfStale removes an instance only if its last heartbeat is
// before cutoff. The check and the removal happen under the entry lock, so
// a heartbeat that lands after a sweep listed the instance keeps it.
func (r *Registry) DeregisterIfStale(instanceID string, cutoff time.Time) bool {
	v, ok := r.instances.Load(instanceID)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	if e.removed || !e.inst.LastHeartbeat.Before(cutoff) || !r.instances.CompareAndDelete(instanceID, e) {
		e.mu.Unlock()
		return false
	}
	r.remove(e)
	return true
}

// remove finishes removing e, which is already out of the map. It is
// called with e.mu held and releases it.
func (r *Registry) remove(e *entry) {
	e.removed = true
	inst := e.inst.Clone()
	r.notify(inst, types.ChangeRemoved)
	e.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteInstance(inst.InstanceID); err != nil {
			r.logger.Warn().Err(err).Str("instance_id", inst.InstanceID).Msg("Failed to delete persisted instance")
		}
	}
	r.publish(events.EventInstanceDeregistered, inst)
	for _, fn := range r.onRemove {
		fn(inst.Clone())
	}
	r.logger.Info().Str("instance_id", inst.InstanceID).Str("service", inst.ServiceName).Msg("Instance deregistered")
}

// ApplyHeartbeat records a heartbeat: status, merged metadata and the
// heartbeat time. UPDATED is emitted only when status or metadata changed.
func (r *Registry) ApplyHeartbeat(hb types.Heartbeat) (types.ServiceInstance, error) {
	if hb.InstanceID == "" {
		return types.ServiceInstance{}, fmt.Errorf("%w: heartbeat without instance id", types.ErrValidation)
	}
	if hb.Status != "" && !hb.Status.Valid() {
		return types.ServiceInstance{}, fmt.Errorf("%w: unknown status %q", types.ErrValidation, hb.Status)
	}
	v, ok := r.instances.Load(hb.InstanceID)
	if !ok {
		return types.ServiceInstance{}, fmt.Errorf("%w: instance %s", types.ErrNotFound, hb.InstanceID)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return types.ServiceInstance{}, fmt.Errorf("%w: instance %s", types.ErrNotFound, hb.InstanceID)
	}

	changed := false
	if hb.Status != "" && hb.Status != types.InstanceStatusUnknown && hb.Status != e.inst.Status {
		e.inst.Status = hb.Status
		changed = true
	}
	for k, val := range hb.Metadata {
		if cur, ok := e.inst.Metadata[k]; ok && cur == val {
			continue
		}
		if e.inst.Metadata == nil {
			e.inst.Metadata = make(map[string]string, len(hb.Metadata))
		}
		e.inst.Metadata[k] = val
		changed = true
	}
	e.inst.LastHeartbeat = r.now()

	out := e.inst.Clone()
	if changed {
		r.notify(out, types.ChangeUpdated)
		r.persist(out)
	}
	return out, nil
}

// MarkStatus sets an instance's status, reporting whether it changed
func (r *Registry) MarkStatus(instanceID string, status types.InstanceStatus) bool {
	v, ok := r.instances.Load(instanceID)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	if e.removed || e.inst.Status == status {
		e.mu.Unlock()
		return false
	}
	e.inst.Status = status
	out := e.inst.Clone()
	r.notify(out, types.ChangeUpdated)
	e.mu.Unlock()

	r.persist(out)
	if status == types.InstanceStatusDown {
		r.publish(events.EventInstanceDown, out)
	}
	return true
}

// GetInstance returns a copy of the instance
func (r *Registry) GetInstance(instanceID string) (types.ServiceInstance, bool) {
	v, ok := r.instances.Load(instanceID)
	if !ok {
		return types.ServiceInstance{}, false
	}
	e := v.(*entry)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inst.Clone(), true
}

// List returns every instance sorted by id
func (r *Registry) List() []types.ServiceInstance {
	return r.collect(func(*types.ServiceInstance) bool { return true })
}

// GetHealthy returns usable instances of serviceName carrying every
// required tag. An empty serviceName matches all services.
func (r *Registry) GetHealthy(serviceName string, requiredTags []string) []types.ServiceInstance {
	return r.collect(func(i *types.ServiceInstance) bool {
		return i.Status.Usable() &&
			(serviceName == "" || i.ServiceName == serviceName) &&
			i.HasTags(requiredTags)
	})
}

// FindCapable returns usable instances that declared capability
func (r *Registry) FindCapable(capability string, requiredTags []string) []types.ServiceInstance {
	return r.collect(func(i *types.ServiceInstance) bool {
		return i.Status.Usable() && i.Handles(capability) && i.HasTags(requiredTags)
	})
}

// Count returns the number of registered instances
func (r *Registry) Count() int {
	n := 0
	r.instances.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (r *Registry) collect(match func(*types.ServiceInstance) bool) []types.ServiceInstance {
	out := []types.ServiceInstance{}
	r.instances.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		e.mu.RLock()
		if !e.removed && match(&e.inst) {
			out = append(out, e.inst.Clone())
		}
		e.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

func (r *Registry) persist(inst types.ServiceInstance) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveInstance(inst); err != nil {
		r.logger.Warn().Err(err).Str("instance_id", inst.InstanceID).Msg("Failed to persist instance")
	}
}

func (r *Registry) publish(t events.EventType, inst types.ServiceInstance) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:    t,
		Message: inst.InstanceID,
		Metadata: map[string]string{
			"instance_id": inst.InstanceID,
			"service":     inst.ServiceName,
			"status":      string(inst.Status),
		},
	})
}

func validate(inst types.ServiceInstance) error {
	var missing []string
	if strings.TrimSpace(inst.InstanceID) == "" {
		missing = append(missing, "instanceId")
	}
	if strings.TrimSpace(inst.ServiceName) == "" {
		missing = append(missing, "serviceName")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", types.ErrValidation, strings.Join(missing, ", "))
	}
	if inst.Port < 0 || inst.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", types.ErrValidation, inst.Port)
	}
	if inst.Status != "" && !inst.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", types.ErrValidation, inst.Status)
	}
	return nil
}
