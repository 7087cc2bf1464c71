package resilience

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestMissingInputError_Is(t *testing.T) {
	err := NewMissingInput("registry", "/data/registry.csv", os.ErrNotExist)
	wrapped := eris.Wrap(err, "select: load registry")

	assert.True(t, errors.Is(wrapped, ErrMissingInputSource))
	assert.True(t, errors.Is(wrapped, os.ErrNotExist))
	assert.Contains(t, err.Error(), "registry")
	assert.Contains(t, err.Error(), "/data/registry.csv")

	var mi *MissingInputError
	assert.True(t, errors.As(wrapped, &mi))
	assert.Equal(t, "registry", mi.Source)
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"missing input", NewMissingInput("exclusions", "x.csv", nil), true},
		{"corrupt store", fmt.Errorf("load: %w", ErrCorruptStore), false},
		{"malformed", fmt.Errorf("row 3: %w", ErrMalformedRecord), false},
		{"unparsable", fmt.Errorf("dni: %w", ErrUnparsableField), false},
		{"delivery", &DeliveryError{Channel: "telegram", Err: errors.New("boom")}, false},
		{"other", errors.New("disk full"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestDeliveryError(t *testing.T) {
	inner := errors.New("file too large")
	err := &DeliveryError{Channel: "webhook", Err: inner}

	assert.True(t, errors.Is(err, ErrDeliveryFailed))
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, "deliver via webhook: file too large", err.Error())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("invalid chat id")))
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransient(&net.DNSError{IsTimeout: true, Err: "timeout"}))
	assert.True(t, IsTransient(errors.New("Post https://api.telegram.org: i/o timeout")))
	assert.True(t, IsTransient(errors.New("Too Many Requests: retry after 5")))
}
