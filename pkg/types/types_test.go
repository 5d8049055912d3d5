package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: CodeOK},
		{name: "validation", err: fmt.Errorf("type required: %w", ErrValidation), want: CodeValidation},
		{name: "no instance", err: ErrNoHealthyInstance, want: CodeNoHealthyInstance},
		{name: "circuit open", err: fmt.Errorf("orders:Create: %w", ErrCircuitOpen), want: CodeCircuitOpen},
		{name: "conflict", err: ErrConcurrencyConflict, want: CodeConcurrencyConflict},
		{name: "transient", err: fmt.Errorf("dial: %w", ErrTransient), want: CodeTransient},
		{name: "deadline", err: context.DeadlineExceeded, want: CodeTransient},
		{name: "dispatch", err: fmt.Errorf("handler: %w", ErrDispatch), want: CodeDispatchFailed},
		{name: "other", err: errors.New("boom"), want: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestServiceInstanceHasTags(t *testing.T) {
	inst := ServiceInstance{Tags: []string{"eu", "canary"}}

	assert.True(t, inst.HasTags(nil))
	assert.True(t, inst.HasTags([]string{"eu"}))
	assert.True(t, inst.HasTags([]string{"canary", "eu"}))
	assert.False(t, inst.HasTags([]string{"us"}))
}

func TestServiceInstanceCloneIsIndependent(t *testing.T) {
	inst := ServiceInstance{
		InstanceID:   "svc-1",
		CommandTypes: []string{"CreateOrder"},
		Metadata:     map[string]string{"zone": "a"},
	}

	c := inst.Clone()
	c.Metadata["zone"] = "b"
	c.CommandTypes[0] = "DeleteOrder"

	assert.Equal(t, "a", inst.Metadata["zone"])
	assert.Equal(t, "CreateOrder", inst.CommandTypes[0])
}

func TestServiceInstanceNormalize(t *testing.T) {
	inst := ServiceInstance{CommandTypes: []string{"b", "a", "b", ""}}
	inst.Normalize()
	assert.Equal(t, []string{"a", "b"}, inst.CommandTypes)
	assert.True(t, inst.Handles("a"))
	assert.False(t, inst.Handles("c"))
}

func TestTypeRegistryDecode(t *testing.T) {
	type createOrder struct {
		Amount int `json:"amount"`
	}

	reg := NewTypeRegistry()
	RegisterJSON[createOrder](reg, "CreateOrder")

	p, err := NewPayload("CreateOrder", createOrder{Amount: 42})
	require.NoError(t, err)

	v, err := reg.Decode(p)
	require.NoError(t, err)
	assert.Equal(t, 42, v.(*createOrder).Amount)

	_, err = reg.Decode(Payload{Type: "Unknown"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoutingOutcomeConstructors(t *testing.T) {
	assert.True(t, Success("svc-1", Payload{}).OK())
	assert.True(t, Routed("svc-1").OK())

	out := Failure(fmt.Errorf("for type CreateOrder: %w", ErrNoHealthyInstance))
	assert.False(t, out.OK())
	assert.Equal(t, CodeNoHealthyInstance, out.ErrorCode)
}
