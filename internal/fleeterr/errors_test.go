package fleeterr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransient(t *testing.T) {
	assert.NoError(t, Transient("op", nil))

	err := Transient("update vehicle", context.DeadlineExceeded)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// no double wrapping
	again := Transient("outer", err)
	assert.Same(t, err, again)

	wrapped := fmt.Errorf("sync: %w", err)
	assert.True(t, IsTransient(wrapped))
}

func TestTypedErrorsMatch(t *testing.T) {
	err := fmt.Errorf("close order: %w", &IllegalTransitionError{VehicleID: "v1", Event: "close_delivery_order", State: "disponible"})
	assert.True(t, IsIllegalTransition(err))
	assert.False(t, IsNoWorkflow(err))
	assert.Contains(t, err.Error(), "not allowed from disponible")

	nw := &NoWorkflowError{VehicleID: "v2"}
	assert.True(t, IsNoWorkflow(nw))

	var ide *InvalidDateError
	assert.True(t, errors.As(fmt.Errorf("x: %w", &InvalidDateError{Value: "31/02"}), &ide))
	assert.Equal(t, "31/02", ide.Value)
	assert.Equal(t, "invalid date: missing value", (&InvalidDateError{}).Error())
}
