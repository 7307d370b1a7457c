package cytoqc

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// RetryConfig configures retry behavior for remote storage and remote write.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	// Default: 30s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff after each retry.
	// Default: 2.0
	BackoffMultiplier float64

	// Jitter randomizes the backoff; 0.1 means ±10%.
	// Default: 0.1
	Jitter float64

	// RetryIf decides whether an error is retried. Nil retries every error.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Retryer runs operations with exponential backoff.
type Retryer struct {
	config RetryConfig
}

// NewRetryer fills unset fields of config with defaults.
func NewRetryer(config RetryConfig) *Retryer {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = def.Jitter
	}
	return &Retryer{config: config}
}

// RetryResult reports how an operation ended.
type RetryResult struct {
	Attempts int
	LastErr  error
}

// Do executes op until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done.
func (r *Retryer) Do(ctx context.Context, op func() error) RetryResult {
	_, res := RetryValue(ctx, r, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return res
}

// RetryValue is Do for operations that produce a value.
func RetryValue[T any](ctx context.Context, r *Retryer, op func() (T, error)) (T, RetryResult) {
	var zero T
	backoff := r.config.InitialBackoff

	for attempt := 1; ; attempt++ {
		v, err := op()
		if err == nil {
			return v, RetryResult{Attempts: attempt}
		}
		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			return zero, RetryResult{Attempts: attempt, LastErr: err}
		}
		if attempt >= r.config.MaxAttempts {
			return zero, RetryResult{Attempts: attempt, LastErr: err}
		}

		select {
		case <-ctx.Done():
			return zero, RetryResult{Attempts: attempt, LastErr: ctx.Err()}
		case <-time.After(r.jitter(backoff)):
		}

		backoff = min(time.Duration(float64(backoff)*r.config.BackoffMultiplier), r.config.MaxBackoff)
	}
}

func (r *Retryer) jitter(d time.Duration) time.Duration {
	if r.config.Jitter == 0 {
		return d
	}
	span := float64(d) * r.config.Jitter
	return time.Duration(float64(d) + (rand.Float64()*2-1)*span)
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"503",
	"502",
	"504",
	"429",
}

// IsRetryable reports whether err looks transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *recoverableError
	if errors.As(err, &re) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// recoverableError marks an error the caller knows to be transient, such as
// a 5xx answer from a remote-write endpoint.
type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string { return e.err.Error() }
func (e *recoverableError) Unwrap() error { return e.err }

// CircuitBreaker stops calling a failing dependency for a cool-down period.
// It is safe for concurrent use.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        circuitState
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// ErrCircuitOpen is returned while the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// NewCircuitBreaker opens after maxFailures consecutive failures and probes
// again after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

// Execute runs op unless the circuit is open.
func (cb *CircuitBreaker) Execute(op func() error) error {
	cb.mu.Lock()
	if cb.state == circuitOpen {
		if time.Since(cb.lastFailure) <= cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = circuitHalfOpen
	}
	cb.mu.Unlock()

	err := op()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.failures = 0
		cb.state = circuitClosed
		return nil
	}
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures || cb.state == circuitHalfOpen {
		cb.state = circuitOpen
	}
	return err
}

// State returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
