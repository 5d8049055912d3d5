// Package relayv1 declares the relay.v1 gRPC services, their messages and
// the JSON codec they are carried with. Every client stub in this package
// sets the "json" content-subtype on its calls, so servers and clients
// only need to import the package.
package relayv1
