package types

import (
	"encoding/json"
	"sort"
	"time"
)

// InstanceStatus represents the lifecycle state of a registered instance
type InstanceStatus string

const (
	InstanceStatusUnknown  InstanceStatus = "UNKNOWN"
	InstanceStatusStarting InstanceStatus = "STARTING"
	InstanceStatusUp       InstanceStatus = "UP"
	InstanceStatusDown     InstanceStatus = "DOWN"
	InstanceStatusDraining InstanceStatus = "DRAINING"
)

// Valid reports whether s is one of the known statuses
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceStatusUnknown, InstanceStatusStarting, InstanceStatusUp,
		InstanceStatusDown, InstanceStatusDraining:
		return true
	}
	return false
}

// Usable reports whether an instance in this status may receive traffic
func (s InstanceStatus) Usable() bool {
	return s == InstanceStatusUp
}

// ServiceInstance is one running application instance known to the registry
type ServiceInstance struct {
	InstanceID    string            `json:"instanceId"`
	ServiceName   string            `json:"serviceName"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	Status        InstanceStatus    `json:"status"`
	CommandTypes  []string          `json:"commandTypes,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
	Version       string            `json:"version,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
}

// Address returns host:port for dialing the instance
func (i *ServiceInstance) Address() string {
	return joinHostPort(i.Host, i.Port)
}

// Handles reports whether the instance declared the given capability
func (i *ServiceInstance) Handles(capability string) bool {
	for _, c := range i.CommandTypes {
		if c == capability {
			return true
		}
	}
	return false
}

// HasTags reports whether the instance carries every required tag
func (i *ServiceInstance) HasTags(required []string) bool {
	for _, want := range required {
		found := false
		for _, t := range i.Tags {
			if t == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand out beyond the registry lock
func (i *ServiceInstance) Clone() ServiceInstance {
	c := *i
	c.CommandTypes = append([]string(nil), i.CommandTypes...)
	c.Tags = append([]string(nil), i.Tags...)
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Normalize sorts and de-duplicates the set-valued fields
func (i *ServiceInstance) Normalize() {
	i.CommandTypes = dedupe(i.CommandTypes)
	i.Tags = dedupe(i.Tags)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Payload is an opaque business blob with a declared type name
type Payload struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsEmpty reports whether the payload carries no data
func (p Payload) IsEmpty() bool {
	return len(p.Data) == 0
}

// Event is an immutable fact persisted for one aggregate
type Event struct {
	EventID        string            `json:"eventId"`
	AggregateID    string            `json:"aggregateId"`
	AggregateType  string            `json:"aggregateType"`
	SequenceNumber int64             `json:"sequenceNumber"`
	EventType      string            `json:"eventType"`
	Payload        Payload           `json:"payload"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Clone returns a copy that shares no maps or slices with e
func (e *Event) Clone() Event {
	c := *e
	c.Payload.Data = append(json.RawMessage(nil), e.Payload.Data...)
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Metadata keys understood by the event pipeline
const (
	MetadataOrigin     = "relay.origin"
	MetadataOriginNode = "relay.origin-node"
	OriginBroadcast    = "broadcast"
	OriginLocal        = "local"
)

// FromBroadcast reports whether the event was ingested from the broadcast channel
func (e *Event) FromBroadcast() bool {
	return e.Metadata[MetadataOrigin] == OriginBroadcast
}

// Snapshot captures aggregate state at a sequence number
type Snapshot struct {
	AggregateID    string          `json:"aggregateId"`
	AggregateType  string          `json:"aggregateType"`
	SequenceNumber int64           `json:"sequenceNumber"`
	Data           json.RawMessage `json:"data"`
	Timestamp      time.Time       `json:"timestamp"`
}

// CommandEnvelope wraps a command submitted for routing
type CommandEnvelope struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	AggregateID string            `json:"aggregateId"`
	Payload     Payload           `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// QueryEnvelope wraps a read-only query submitted for routing
type QueryEnvelope struct {
	ID                   string            `json:"id"`
	Type                 string            `json:"type"`
	Payload              Payload           `json:"payload"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	ExpectedResponseType string            `json:"expectedResponseType,omitempty"`
	Timestamp            time.Time         `json:"timestamp"`
}

// MetadataAsync requests fire-and-forget command dispatch
const MetadataAsync = "relay.async"

// OutcomeKind tags a RoutingOutcome
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "SUCCESS"
	OutcomeRouted  OutcomeKind = "ROUTED"
	OutcomeError   OutcomeKind = "ERROR"
)

// RoutingOutcome is the result of routing a command or query
type RoutingOutcome struct {
	Kind           OutcomeKind `json:"kind"`
	TargetInstance string      `json:"targetInstance,omitempty"`
	Result         Payload     `json:"result,omitempty"`
	Events         []Event     `json:"events,omitempty"`
	ErrorCode      Code        `json:"errorCode,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// Success builds a SUCCESS outcome
func Success(target string, result Payload) RoutingOutcome {
	return RoutingOutcome{Kind: OutcomeSuccess, TargetInstance: target, Result: result}
}

// Routed builds a ROUTED outcome
func Routed(target string) RoutingOutcome {
	return RoutingOutcome{Kind: OutcomeRouted, TargetInstance: target}
}

// Failure builds an ERROR outcome from err
func Failure(err error) RoutingOutcome {
	return RoutingOutcome{Kind: OutcomeError, ErrorCode: ErrorCode(err), Message: err.Error()}
}

// OK reports whether the outcome is SUCCESS or ROUTED
func (o RoutingOutcome) OK() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeRouted
}

// CircuitBreakerState is the state of one named circuit breaker
type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "CLOSED"
	CircuitOpen     CircuitBreakerState = "OPEN"
	CircuitHalfOpen CircuitBreakerState = "HALF_OPEN"
)

// ChangeType classifies a registry change
type ChangeType string

const (
	ChangeAdded   ChangeType = "ADDED"
	ChangeRemoved ChangeType = "REMOVED"
	ChangeUpdated ChangeType = "UPDATED"
)

// ServiceChangeNotification is delivered to registry watchers
type ServiceChangeNotification struct {
	Instance   ServiceInstance `json:"instance"`
	ChangeType ChangeType      `json:"changeType"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Heartbeat is one health update sent by an instance
type Heartbeat struct {
	InstanceID string            `json:"instanceId"`
	Status     InstanceStatus    `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// HealthStreamResponse is relayed to health watchers
type HealthStreamResponse struct {
	InstanceID string            `json:"instanceId"`
	Status     InstanceStatus    `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// HeartbeatAck answers one heartbeat on the heartbeat stream
type HeartbeatAck struct {
	InstanceID string    `json:"instanceId"`
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
