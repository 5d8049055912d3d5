package api

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/relay/pkg/pipeline"
	"github.com/cuemby/relay/pkg/registry"
	"github.com/cuemby/relay/pkg/types"
)

// ToStatus converts a domain error into a gRPC status error
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && !isDomain(err) {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, types.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, types.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, types.ErrConcurrencyConflict):
		return codes.AlreadyExists
	case errors.Is(err, types.ErrNoHealthyInstance),
		errors.Is(err, types.ErrCircuitOpen),
		errors.Is(err, types.ErrTransient):
		return codes.Unavailable
	case errors.Is(err, registry.ErrWatcherOverflow), errors.Is(err, pipeline.ErrSubscriberOverflow):
		return codes.ResourceExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func isDomain(err error) bool {
	for _, target := range []error{
		types.ErrValidation, types.ErrNotFound, types.ErrConcurrencyConflict,
		types.ErrNoHealthyInstance, types.ErrCircuitOpen, types.ErrTransient,
		types.ErrDispatch, registry.ErrWatcherOverflow, pipeline.ErrSubscriberOverflow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FromStatus converts a gRPC status error back into a domain error so
// callers can use errors.Is against the types sentinels.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", types.ErrValidation, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", types.ErrNotFound, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", types.ErrConcurrencyConflict, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", types.ErrTransient, st.Message())
	default:
		return err
	}
}
