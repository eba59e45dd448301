package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrapFormatsContext(t *testing.T) {
	base := stderrors.New("socket closed")
	err := Wrap(base, "transit-monitor", "Poll", "timetable fetch")

	require.Error(t, err)
	assert.Equal(t, "transit-monitor.Poll: timetable fetch failed: socket closed", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"transient", WrapTransient(base, "c", "m", "a"), ErrorTransient},
		{"invalid", WrapInvalid(base, "c", "m", "a"), ErrorInvalid},
		{"fatal", WrapFatal(base, "c", "m", "a"), ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ce *ClassifiedError
			require.True(t, stderrors.As(tt.err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "c", ce.Component)
			assert.True(t, stderrors.Is(tt.err, base))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrMonitorUnavailable))
	assert.True(t, IsTransient(ErrHardwareWrite))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(stderrors.New("connection refused")))
	assert.False(t, IsTransient(stderrors.New("parse error")))

	// Classification wins over message content
	wrapped := WrapInvalid(stderrors.New("timeout while validating"), "c", "m", "a")
	assert.False(t, IsTransient(wrapped))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrInvalidTransition))
	assert.True(t, IsFatal(ErrConflictingGreens))
	assert.True(t, IsFatal(fmt.Errorf("advance: %w", ErrInvalidTransition)))
	assert.False(t, IsFatal(ErrMonitorUnavailable))
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrUnknownMode))
	assert.True(t, IsInvalid(ErrDuplicateMode))
	assert.True(t, IsInvalid(ErrInvalidPlan))
	assert.False(t, IsInvalid(ErrHardwareWrite))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrConflictingGreens))
	assert.Equal(t, ErrorInvalid, Classify(ErrUnknownMode))
	assert.Equal(t, ErrorTransient, Classify(ErrMonitorUnavailable))
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("weird")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}
