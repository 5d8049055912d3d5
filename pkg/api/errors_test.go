package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/relay/pkg/registry"
	"github.com/cuemby/relay/pkg/types"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("%w: missing id", types.ErrValidation), codes.InvalidArgument},
		{types.ErrNotFound, codes.NotFound},
		{fmt.Errorf("%w: agg@1", types.ErrConcurrencyConflict), codes.AlreadyExists},
		{types.ErrNoHealthyInstance, codes.Unavailable},
		{types.ErrCircuitOpen, codes.Unavailable},
		{types.ErrTransient, codes.Unavailable},
		{registry.ErrWatcherOverflow, codes.ResourceExhausted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(ToStatus(tt.err)))
		})
	}
	assert.NoError(t, ToStatus(nil))
}

func TestFromStatus(t *testing.T) {
	assert.ErrorIs(t, FromStatus(status.Error(codes.InvalidArgument, "x")), types.ErrValidation)
	assert.ErrorIs(t, FromStatus(status.Error(codes.NotFound, "x")), types.ErrNotFound)
	assert.ErrorIs(t, FromStatus(status.Error(codes.AlreadyExists, "x")), types.ErrConcurrencyConflict)
	assert.True(t, types.IsTransient(FromStatus(status.Error(codes.Unavailable, "x"))))

	plain := errors.New("plain")
	assert.Equal(t, plain, FromStatus(plain))
	assert.Nil(t, FromStatus(nil))
}
