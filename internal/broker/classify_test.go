package broker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mkarasev/oms-saga/internal/domain"
)

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("connection refused")))
	assert.False(t, IsPermanent(domain.ErrInsufficientStock), "business outcome, handled by the handler itself")

	assert.True(t, IsPermanent(Permanent(errors.New("broken payload"))))
	assert.True(t, IsPermanent(fmt.Errorf("decode: %w", Permanent(errors.New("bad json")))))
	assert.True(t, IsPermanent(domain.ErrOrderIDRequired))
	assert.True(t, IsPermanent(fmt.Errorf("validate: %w", domain.ErrProductIDRequired)))
}

func TestPermanentPreservesCause(t *testing.T) {
	cause := errors.New("field missing")
	wrapped := Permanent(cause)
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, cause.Error(), wrapped.Error())
	assert.Nil(t, Permanent(nil))
}
