package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/relay/pkg/types"
)

// Header keys attached to every broadcast record
const (
	HeaderNode = "relay-node"
	HeaderKey  = "relay-key"
	HeaderKind = "relay-kind"
)

// Record kinds
const (
	KindEvent    = "event"
	KindSnapshot = "snapshot"
	KindCommand  = "command"
)

// Forwarder publishes persisted records to the other coordinators.
// key is the partition key of the aggregate.
type Forwarder interface {
	Forward(ctx context.Context, key string, event types.Event) error
	ForwardSnapshot(ctx context.Context, key string, snapshot types.Snapshot) error
	ForwardCommand(ctx context.Context, key string, cmd types.CommandEnvelope) error
	Close() error
}

// Ingester accepts events received from the broadcast channel
type Ingester interface {
	Ingest(ctx context.Context, event types.Event) error
}

// Noop drops everything; used when broadcast is disabled
type Noop struct{}

func (Noop) Forward(context.Context, string, types.Event) error                  { return nil }
func (Noop) ForwardSnapshot(context.Context, string, types.Snapshot) error       { return nil }
func (Noop) ForwardCommand(context.Context, string, types.CommandEnvelope) error { return nil }
func (Noop) Close() error                                                        { return nil }

// Topics names the three broadcast streams under a prefix
type Topics struct {
	Events    string
	Commands  string
	Snapshots string
}

// DefaultPrefix is used when no prefix is configured
const DefaultPrefix = "relay"

// NewTopics derives topic names from prefix
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Events:    prefix + ".events",
		Commands:  prefix + ".commands",
		Snapshots: prefix + ".snapshots",
	}
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode broadcast record: %w", err)
	}
	return data, nil
}

// decodeEvent parses a broadcast event and flags it as remote
func decodeEvent(data []byte, node string) (types.Event, error) {
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: decode broadcast event: %v", types.ErrValidation, err)
	}
	md := make(map[string]string, len(ev.Metadata)+2)
	for k, v := range ev.Metadata {
		md[k] = v
	}
	md[types.MetadataOrigin] = types.OriginBroadcast
	if node != "" {
		md[types.MetadataOriginNode] = node
	}
	ev.Metadata = md
	return ev, nil
}
