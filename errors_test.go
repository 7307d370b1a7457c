package cytoqc

import (
	"errors"
	"strings"
	"testing"
)

func TestError(t *testing.T) {
	cause := errors.New("underlying cause")

	err := newError(KindStats, "smoothing failed", cause)
	if !errors.Is(err, ErrStats) {
		t.Error("expected error to match ErrStats")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to unwrap to cause")
	}
	if errors.Is(err, ErrConfig) {
		t.Error("stats error should not match ErrConfig")
	}

	// Test insufficient data error
	insufficient := insufficientData("no events", 1, 0)
	if !errors.Is(insufficient, ErrInsufficientData) {
		t.Error("expected error to match ErrInsufficientData")
	}
	if !strings.Contains(insufficient.Error(), "required 1, got 0") {
		t.Errorf("unexpected message %q", insufficient.Error())
	}

	// Test channel error
	missing := channelNotFound("FL9-A")
	if !errors.Is(missing, ErrChannelNotFound) {
		t.Error("expected error to match ErrChannelNotFound")
	}
	if !strings.Contains(missing.Error(), "FL9-A") {
		t.Errorf("channel missing from message %q", missing.Error())
	}

	// Test unknown kind doesn't match specific errors
	unknown := newError(KindUnknown, "unknown", nil)
	for _, target := range []error{ErrConfig, ErrInsufficientData, ErrNoPeaksDetected, ErrChannelNotFound, ErrStats, ErrLengthMismatch} {
		if errors.Is(unknown, target) {
			t.Errorf("unknown error should not match %v", target)
		}
	}
}

func TestErrorAs(t *testing.T) {
	var wrapped error = lengthMismatch("mask length", 10, 9)
	wrapped = errors.Join(errors.New("context"), wrapped)

	var qcErr *Error
	if !errors.As(wrapped, &qcErr) {
		t.Fatal("expected errors.As to find *Error")
	}
	if qcErr.Kind != KindLengthMismatch || qcErr.Required != 10 || qcErr.Actual != 9 {
		t.Errorf("got %+v", qcErr)
	}
	if qcErr.Kind.String() != "length_mismatch" {
		t.Errorf("kind string %q", qcErr.Kind.String())
	}
}
