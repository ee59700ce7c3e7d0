package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"connection lost", ErrConnectionLost, ErrorTransient},
		{"wrapped eof", fmt.Errorf("recv: %w", io.EOF), ErrorTransient},
		{"protocol", fmt.Errorf("frame: %w", ErrProtocol), ErrorInvalid},
		{"retries exhausted", ErrMaxRetriesExceeded, ErrorFatal},
		{"explicit fatal", WrapFatal(io.EOF, "pull", "Run", "reconnect"), ErrorFatal},
		{"explicit invalid", WrapInvalid(io.EOF, "pull", "Run", "decode"), ErrorInvalid},
		{"unknown", stderrors.New("something"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(WrapTransient(stderrors.New("x"), "c", "m", "a")))
	assert.False(t, IsTransient(stderrors.New("plain")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "push", "Run", "send"))
	assert.Nil(t, WrapFatal(nil, "push", "Run", "send"))

	err := WrapFatal(ErrConnectionLost, "push", "Run", "send")
	assert.Equal(t, "push.Run: send failed: connection lost", err.Error())
	assert.True(t, Is(err, ErrConnectionLost))

	var ce *ClassifiedError
	assert.True(t, As(err, &ce))
	assert.Equal(t, "push", ce.Component)
	assert.Equal(t, "Run", ce.Operation)
	assert.Equal(t, "fatal", ce.Class.String())
}
