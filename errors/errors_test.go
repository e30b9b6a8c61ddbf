package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrap(t *testing.T) {
	base := stderrors.New("socket closed")
	wrapped := Wrap(base, "server", "acceptLoop", "accept")

	require.Error(t, wrapped)
	assert.Equal(t, "server.acceptLoop: accept failed: socket closed", wrapped.Error())
	assert.True(t, stderrors.Is(wrapped, base))

	assert.NoError(t, Wrap(nil, "server", "acceptLoop", "accept"))
}

func TestWrapTransient(t *testing.T) {
	base := stderrors.New("boom")
	err := WrapTransient(base, "server", "Start", "bind")

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
	assert.True(t, stderrors.Is(err, base))

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "server", ce.Component)
	assert.Equal(t, "Start", ce.Operation)
}

func TestWrapInvalid(t *testing.T) {
	err := WrapInvalid(ErrParsingFailed, "parser", "Parse", "command decode")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
}

func TestWrapFatal(t *testing.T) {
	err := WrapFatal(ErrInvalidConfig, "config", "Validate", "canvas dimensions")
	assert.True(t, IsFatal(err))
	assert.Equal(t, ErrorFatal, Classify(err))
}

func TestIsTransient_SentinelsAndPatterns(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection timeout sentinel", ErrConnectionTimeout, true},
		{"connection lost sentinel", ErrConnectionLost, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"wrapped timeout message", fmt.Errorf("read tcp: i/o timeout"), true},
		{"connection reset message", fmt.Errorf("read: connection reset by peer"), true},
		{"plain error", stderrors.New("no such pixel"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify_DefaultsToTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("who knows")))
	assert.Equal(t, ErrorInvalid, Classify(ErrLineTooLong))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
}
