package cytoqc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryerSuccess(t *testing.T) {
	r := NewRetryer(DefaultRetryConfig())

	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		return nil
	})

	if result.Attempts != 1 || result.LastErr != nil || calls != 1 {
		t.Errorf("got %+v after %d calls", result, calls)
	}
}

func TestRetryerFailureThenSuccess(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond})

	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if result.LastErr != nil {
		t.Errorf("expected no error, got %v", result.LastErr)
	}
}

func TestRetryerAllFailures(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond})

	expectedErr := errors.New("persistent error")
	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		return expectedErr
	})

	if result.Attempts != 3 || calls != 3 {
		t.Errorf("expected 3 attempts, got %d (%d calls)", result.Attempts, calls)
	}
	if result.LastErr != expectedErr {
		t.Errorf("expected %v, got %v", expectedErr, result.LastErr)
	}
}

func TestRetryerContextCancellation(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 10, InitialBackoff: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan RetryResult)
	go func() {
		done <- r.Do(ctx, func() error { return errors.New("error") })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	result := <-done
	if !errors.Is(result.LastErr, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.LastErr)
	}
}

func TestRetryerRetryIf(t *testing.T) {
	fatal := errors.New("fatal")
	r := NewRetryer(RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		RetryIf:        IsRetryable,
	})

	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	if calls != 1 || result.LastErr != fatal {
		t.Errorf("non-retryable error retried: %d calls, %v", calls, result.LastErr)
	}
}

func TestRetryValue(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond})

	calls := 0
	v, result := RetryValue(context.Background(), r, func() ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("503 service unavailable")
		}
		return []byte("blob"), nil
	})
	if result.LastErr != nil || string(v) != "blob" || result.Attempts != 2 {
		t.Errorf("RetryValue = %q, %+v", v, result)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{errors.New("Connection Refused"), true},
		{errors.New("server returned HTTP status 503"), true},
		{errors.New("invalid argument"), false},
		{&recoverableError{errors.New("remote write: status 500")}, true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return boom }); err != boom {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}
	if cb.State() != "open" {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != "closed" {
		t.Errorf("expected closed after a successful probe, got %s", cb.State())
	}
}
