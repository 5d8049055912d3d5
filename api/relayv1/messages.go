package relayv1

import (
	"time"

	"github.com/cuemby/relay/pkg/types"
)

type RegisterServiceRequest struct {
	Instance types.ServiceInstance `json:"instance"`
}

type RegisterServiceResponse struct {
	Success        bool       `json:"success"`
	Message        string     `json:"message,omitempty"`
	ErrorCode      types.Code `json:"errorCode,omitempty"`
	RegistrationID string     `json:"registrationId,omitempty"`
}

type UnregisterServiceRequest struct {
	InstanceID string `json:"instanceId"`
}

type UnregisterServiceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type GetHealthyServicesRequest struct {
	ServiceName string   `json:"serviceName,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type GetHealthyServicesResponse struct {
	Instances []types.ServiceInstance `json:"instances"`
}

type ListInstancesRequest struct{}

type ListInstancesResponse struct {
	Instances []types.ServiceInstance `json:"instances"`
}

type WatchServicesRequest struct {
	ServiceName string `json:"serviceName,omitempty"`
}

// ServiceChange is one message on a WatchServices stream. The last message
// of a stream that ends abnormally has Terminated set.
type ServiceChange struct {
	Notification *types.ServiceChangeNotification `json:"notification,omitempty"`
	Terminated   bool                             `json:"terminated,omitempty"`
	Reason       string                           `json:"reason,omitempty"`
}

type WatchHealthRequest struct {
	ServiceName string   `json:"serviceName,omitempty"`
	InstanceIDs []string `json:"instanceIds,omitempty"`
}

type SubmitCommandRequest struct {
	Command types.CommandEnvelope `json:"command"`
}

type SubmitCommandResponse struct {
	Success        bool              `json:"success"`
	Status         types.OutcomeKind `json:"status"`
	Message        string            `json:"message,omitempty"`
	ErrorCode      types.Code        `json:"errorCode,omitempty"`
	TargetInstance string            `json:"targetInstance,omitempty"`
	Result         types.Payload     `json:"result,omitempty"`
	// Events are the events the handler produced, as persisted
	Events []types.Event `json:"events,omitempty"`
}

type SubmitQueryRequest struct {
	Query types.QueryEnvelope `json:"query"`
}

type SubmitQueryResponse struct {
	Status         types.OutcomeKind `json:"status"`
	TargetInstance string            `json:"targetInstance,omitempty"`
	Result         types.Payload     `json:"result,omitempty"`
	ErrorMessage   string            `json:"errorMessage,omitempty"`
	ErrorCode      types.Code        `json:"errorCode,omitempty"`
}

type AppendEventRequest struct {
	Event types.Event `json:"event"`
}

type AppendEventResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	ErrorCode types.Code  `json:"errorCode,omitempty"`
	Event     types.Event `json:"event"`
}

type NextSequenceRequest struct {
	AggregateID string `json:"aggregateId"`
}

type NextSequenceResponse struct {
	SequenceNumber int64 `json:"sequenceNumber"`
}

type LoadEventsRequest struct {
	AggregateID  string `json:"aggregateId"`
	FromSequence int64  `json:"fromSequence,omitempty"`
}

type LoadEventsResponse struct {
	Events []types.Event `json:"events"`
}

type SaveSnapshotRequest struct {
	Snapshot types.Snapshot `json:"snapshot"`
}

type SaveSnapshotResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type LoadSnapshotRequest struct {
	AggregateID string `json:"aggregateId"`
}

type LoadSnapshotResponse struct {
	Found    bool            `json:"found"`
	Snapshot *types.Snapshot `json:"snapshot,omitempty"`
}

type SubscribeEventsRequest struct {
	// AggregateID limits the stream to one aggregate when set
	AggregateID string `json:"aggregateId,omitempty"`
}

type StreamNotificationsRequest struct {
	Types []string `json:"types,omitempty"`
}

// Notification is an operational notice from the coordinator
type Notification struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HandleKind says whether a HandleRequest carries a command or a query
type HandleKind string

const (
	KindCommand HandleKind = "command"
	KindQuery   HandleKind = "query"
)

// HandleRequest is sent by the coordinator to an instance
type HandleRequest struct {
	Kind        HandleKind        `json:"kind"`
	MessageID   string            `json:"messageId"`
	Type        string            `json:"type"`
	AggregateID string            `json:"aggregateId,omitempty"`
	Payload     types.Payload     `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HandleResponse carries a handler's result. Events are drafts: the
// coordinator assigns ids and sequence numbers when it appends them.
type HandleResponse struct {
	Result    types.Payload `json:"result,omitempty"`
	Events    []types.Event `json:"events,omitempty"`
	ErrorCode types.Code    `json:"errorCode,omitempty"`
	Error     string        `json:"error,omitempty"`
}
