// Package resilience defines how batch failures are classified: which errors
// stop a step, which are absorbed, and which are only logged.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrMissingInputSource marks a required input that is entirely unavailable.
	// It is fatal to the step that needs it.
	ErrMissingInputSource = errors.New("missing input source")

	// ErrCorruptStore marks a consolidated store that exists but cannot be
	// decoded. Callers treat the store as empty.
	ErrCorruptStore = errors.New("corrupt consolidated store")

	// ErrMalformedRecord marks a row with the wrong shape. It is counted and dropped.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnparsableField marks a field a filter stage could not parse.
	ErrUnparsableField = errors.New("unparsable field")

	// ErrDeliveryFailed marks a notification that did not reach its target.
	ErrDeliveryFailed = errors.New("external delivery failure")
)

// MissingInputError names the input that could not be read.
type MissingInputError struct {
	Source string
	Path   string
	Err    error
}

// NewMissingInput wraps err as a missing input for the named source.
func NewMissingInput(source, path string, err error) *MissingInputError {
	return &MissingInputError{Source: source, Path: path, Err: err}
}

func (e *MissingInputError) Error() string {
	msg := fmt.Sprintf("missing input %s (%s)", e.Source, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MissingInputError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMissingInputSource) match any MissingInputError.
func (e *MissingInputError) Is(target error) bool { return target == ErrMissingInputSource }

// DeliveryError wraps a failed notification.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

// IsFatal reports whether err must abort the current step. Row-level,
// corrupt-store and delivery errors never abort; everything else does.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrMalformedRecord),
		errors.Is(err, ErrUnparsableField),
		errors.Is(err, ErrCorruptStore),
		errors.Is(err, ErrDeliveryFailed):
		return false
	}
	return true
}

// IsTransient returns true for network conditions that would likely clear on
// their own (timeouts, connection resets, DNS failures). It only informs log
// severity; nothing in the batch retries automatically.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"too many requests",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
