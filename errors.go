package cytoqc

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the cytoqc package. A *Error matches the
// sentinel of its kind with errors.Is.
var (
	// ErrConfig is returned for an invalid configuration.
	ErrConfig = errors.New("invalid configuration")

	// ErrInsufficientData is returned when there are too few events or windows.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoPeaksDetected is returned when no channel yields a peak set.
	ErrNoPeaksDetected = errors.New("no peaks detected")

	// ErrChannelNotFound is returned when a requested channel is absent.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrStats is returned when a statistical computation fails.
	ErrStats = errors.New("statistics error")

	// ErrLengthMismatch is returned when a mask does not match the event count.
	ErrLengthMismatch = errors.New("length mismatch")
)

// ErrorKind categorizes QC errors.
type ErrorKind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown ErrorKind = iota
	// KindConfig indicates an invalid configuration value.
	KindConfig
	// KindInsufficientData indicates too few events, values or windows.
	KindInsufficientData
	// KindNoPeaks indicates that no peaks could be extracted.
	KindNoPeaks
	// KindChannelNotFound indicates a missing channel.
	KindChannelNotFound
	// KindStats indicates a failed statistical computation.
	KindStats
	// KindLengthMismatch indicates a mask of the wrong length.
	KindLengthMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindInsufficientData:
		return "insufficient_data"
	case KindNoPeaks:
		return "no_peaks"
	case KindChannelNotFound:
		return "channel_not_found"
	case KindStats:
		return "stats"
	case KindLengthMismatch:
		return "length_mismatch"
	default:
		return "unknown"
	}
}

// Error provides detailed information about a failed QC operation.
type Error struct {
	Kind    ErrorKind
	Message string
	// Channel is the channel involved, if any.
	Channel string
	// Required and Actual are set for KindInsufficientData and
	// KindLengthMismatch.
	Required int
	Actual   int
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	switch e.Kind {
	case KindInsufficientData, KindLengthMismatch:
		msg = fmt.Sprintf("%s (required %d, got %d)", msg, e.Required, e.Actual)
	}
	if e.Channel != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Channel)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error matching for Error.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindConfig:
		return target == ErrConfig
	case KindInsufficientData:
		return target == ErrInsufficientData
	case KindNoPeaks:
		return target == ErrNoPeaksDetected
	case KindChannelNotFound:
		return target == ErrChannelNotFound
	case KindStats:
		return target == ErrStats
	case KindLengthMismatch:
		return target == ErrLengthMismatch
	}
	return false
}

// newError creates a new Error.
func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func configError(format string, args ...any) *Error {
	return newError(KindConfig, fmt.Sprintf(format, args...), nil)
}

func insufficientData(message string, required, actual int) *Error {
	return &Error{Kind: KindInsufficientData, Message: message, Required: required, Actual: actual}
}

func channelNotFound(name string) *Error {
	return &Error{Kind: KindChannelNotFound, Message: "channel not found", Channel: name}
}

func lengthMismatch(message string, required, actual int) *Error {
	return &Error{Kind: KindLengthMismatch, Message: message, Required: required, Actual: actual}
}
