package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/types"
)

// State is the position of a saga instance in its definition
type State string

// Transition computes the next state from the current one and an event.
// It must not have side effects.
type Transition func(current State, event types.Event) (State, error)

// Definition describes one saga type
type Definition struct {
	Name string
	// Start maps the event types that open a new instance
	Start map[string]Transition
	// Transitions maps state -> event type -> transition
	Transitions map[State]map[string]Transition
	// Terminal lists the states that complete an instance
	Terminal []State
	// CorrelationKey picks the instance an event belongs to; "" ignores the event
	CorrelationKey func(types.Event) string
	// Apply optionally folds the event into the instance data
	Apply func(data json.RawMessage, event types.Event) (json.RawMessage, error)
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: saga name is required", types.ErrValidation)
	}
	if len(d.Start) == 0 {
		return fmt.Errorf("%w: saga %s has no start events", types.ErrValidation, d.Name)
	}
	if d.CorrelationKey == nil {
		return fmt.Errorf("%w: saga %s has no correlation key", types.ErrValidation, d.Name)
	}
	return nil
}

func (d Definition) terminal(s State) bool {
	for _, t := range d.Terminal {
		if t == s {
			return true
		}
	}
	return false
}

// Instance is the persisted state of one running saga
type Instance struct {
	ID          string          `json:"id"`
	Definition  string          `json:"definition"`
	State       State           `json:"state"`
	Data        json.RawMessage `json:"data,omitempty"`
	LastEventID string          `json:"lastEventId,omitempty"`
	Completed   bool            `json:"completed"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// InstanceID returns the storage id of the instance of def correlated by key
func InstanceID(def, key string) string {
	return def + "/" + key
}

// Manager drives saga instances from appended events
type Manager struct {
	store storage.SagaStore
	now   func() time.Time

	mu   sync.RWMutex
	defs map[string]Definition

	locksMu sync.Mutex
	locks   map[string]*instanceLock

	logger zerolog.Logger
}

// NewManager creates a manager persisting through store
func NewManager(store storage.SagaStore) *Manager {
	return &Manager{
		store:  store,
		now:    time.Now,
		defs:   make(map[string]Definition),
		locks:  make(map[string]*instanceLock),
		logger: log.WithComponent("saga"),
	}
}

// Register adds a definition, replacing one with the same name
func (m *Manager) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.defs[def.Name] = def
	m.mu.Unlock()
	return nil
}

// Handle applies event to every saga it correlates with. Event types a
// saga does not know in its current state are ignored.
func (m *Manager) Handle(ctx context.Context, event types.Event) error {
	m.mu.RLock()
	defs := make([]Definition, 0, len(m.defs))
	for _, d := range m.defs {
		defs = append(defs, d)
	}
	m.mu.RUnlock()

	var errs []error
	for _, def := range defs {
		if err := m.handle(ctx, def, event); err != nil {
			errs = append(errs, fmt.Errorf("saga %s: %w", def.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) handle(ctx context.Context, def Definition, event types.Event) error {
	key := def.CorrelationKey(event)
	if key == "" {
		return nil
	}
	id := InstanceID(def.Name, key)

	unlock := m.lock(id)
	defer unlock()

	inst, found, err := m.load(ctx, id)
	if err != nil {
		return err
	}

	var tr Transition
	switch {
	case !found:
		tr = def.Start[event.EventType]
		inst = Instance{ID: id, Definition: def.Name, CreatedAt: m.now().UTC()}
	case inst.Completed:
		return nil
	case event.EventID != "" && event.EventID == inst.LastEventID:
		return nil
	default:
		tr = def.Transitions[inst.State][event.EventType]
	}
	if tr == nil {
		return nil
	}

	next, err := tr(inst.State, event)
	if err != nil {
		return err
	}
	if def.Apply != nil {
		data, err := def.Apply(inst.Data, event)
		if err != nil {
			return err
		}
		inst.Data = data
	}
	prev := inst.State
	inst.State = next
	inst.LastEventID = event.EventID
	inst.Completed = def.terminal(next)
	inst.UpdatedAt = m.now().UTC()

	if err := m.save(ctx, inst); err != nil {
		return err
	}
	m.logger.Debug().
		Str("saga", id).
		Str("event_type", event.EventType).
		Str("from", string(prev)).
		Str("to", string(next)).
		Bool("completed", inst.Completed).
		Msg("Saga transitioned")
	return nil
}

// Get loads the instance of def correlated by key
func (m *Manager) Get(ctx context.Context, def, key string) (Instance, bool, error) {
	return m.load(ctx, InstanceID(def, key))
}

// Run handles events from ch until it is closed or ctx is done
func (m *Manager) Run(ctx context.Context, ch <-chan types.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := m.Handle(ctx, ev); err != nil {
				m.logger.Error().Err(err).
					Str("aggregate_id", ev.AggregateID).
					Str("event_type", ev.EventType).
					Msg("Saga transition failed")
			}
		}
	}
}

// instanceLock serializes transitions of one instance. It is dropped once
// no goroutine holds or waits for it.
type instanceLock struct {
	mu   sync.Mutex
	refs int
}

func (m *Manager) lock(id string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &instanceLock{}
		m.locks[id] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.locksMu.Unlock()
	}
}

func (m *Manager) lockCount() int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return len(m.locks)
}

func (m *Manager) load(ctx context.Context, id string) (Instance, bool, error) {
	data, ok, err := m.store.LoadSaga(ctx, id)
	if err != nil || !ok {
		return Instance{}, false, err
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return Instance{}, false, fmt.Errorf("failed to decode saga %s: %w", id, err)
	}
	return inst, true, nil
}

func (m *Manager) save(ctx context.Context, inst Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode saga %s: %w", inst.ID, err)
	}
	return m.store.SaveSaga(ctx, inst.ID, data)
}
