// Package registry tracks the application instances known to a relay
// coordinator: their declared capabilities, status and last heartbeat.
//
// Routers read it on every call through GetHealthy and FindCapable, which
// return copies; nothing outside the registry holds a live reference to an
// instance. Watch streams the current instances followed by live changes.
// A watcher that cannot keep up is dropped with ErrWatcherOverflow rather
// than slowing down other watchers.
package registry
