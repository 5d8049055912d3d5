package types

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrValidation marks bad input; never retried
	ErrValidation = errors.New("validation error")

	// ErrNoHealthyInstance means routing found nothing to call
	ErrNoHealthyInstance = errors.New("no healthy instance")

	// ErrTransient marks connectivity, timeout and transient storage failures
	ErrTransient = errors.New("transient downstream error")

	// ErrConcurrencyConflict means (aggregateId, sequenceNumber) already exists
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrCircuitOpen is returned while a breaker fast-fails calls
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNotFound is returned for unknown instances, aggregates or snapshots
	ErrNotFound = errors.New("not found")
)

// Code is a machine-readable error code carried by API results
type Code string

const (
	CodeOK                  Code = ""
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNoHealthyInstance   Code = "NO_HEALTHY_INSTANCE"
	CodeTransient           Code = "TRANSIENT_DOWNSTREAM"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeCircuitOpen         Code = "CIRCUIT_OPEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeDispatchFailed      Code = "DISPATCH_FAILED"
	CodeInternal            Code = "INTERNAL"
)

// ErrorCode maps an error onto the code taxonomy
func ErrorCode(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNoHealthyInstance):
		return CodeNoHealthyInstance
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrConcurrencyConflict):
		return CodeConcurrencyConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case IsTransient(err):
		return CodeTransient
	case errors.Is(err, ErrDispatch):
		return CodeDispatchFailed
	default:
		return CodeInternal
	}
}

// ErrDispatch wraps a handler-side failure reported by an instance
var ErrDispatch = errors.New("dispatch failed")

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
	}
	return false
}
