// Package reconciler runs the coordinator's background loops: the liveness
// sweep that demotes and eventually deregisters instances that stopped
// heartbeating, and the redelivery of dead-lettered broadcast forwards.
package reconciler
