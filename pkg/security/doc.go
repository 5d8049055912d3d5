// Package security loads the TLS material used by the relay.v1 gRPC API.
//
// Coordinators serve TLS 1.3 when api.tls.cert_file and api.tls.key_file
// are set, and additionally require client certificates signed by
// api.tls.ca_file when it is set. ClientConfig builds the matching
// configuration for the SDK and the CLI.
package security
