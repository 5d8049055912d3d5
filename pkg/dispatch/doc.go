// Package dispatch delivers commands and queries to application instances
// over the relay.v1.Handler gRPC service.
package dispatch
