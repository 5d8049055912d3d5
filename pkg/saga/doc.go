// Package saga runs long-lived processes as state machines driven by
// appended events. Instances are correlated by a key taken from the event
// and persisted after every transition.
package saga
