package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/services"
)

// ErrMaxRetriesExceeded matches every *MaxRetriesExceededError via errors.Is.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// MaxRetriesExceededError reports that every attempt failed with a retryable error.
type MaxRetriesExceededError struct {
	Attempts int
	Last     error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Last)
}

func (e *MaxRetriesExceededError) Unwrap() []error {
	return []error{ErrMaxRetriesExceeded, e.Last}
}

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// AttemptTimeout bounds each attempt; zero leaves attempts unbounded.
	AttemptTimeout time.Duration
	IsRetryable    func(error) bool
	// OnRetry observes a failed attempt before the executor sleeps.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// PolicyFromConfig builds the shared policy from the [retry] section.
func PolicyFromConfig(cfg config.Retry) Policy {
	return Policy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialDelay:   time.Duration(cfg.InitialDelayMillis) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.MaxDelayMillis) * time.Millisecond,
		Multiplier:     cfg.Multiplier,
		JitterFraction: cfg.JitterFraction,
		AttemptTimeout: time.Duration(cfg.AttemptTimeoutSeconds) * time.Second,
	}
}

// Delay returns the pre-jitter wait after the given 1-based failed attempt:
// min(MaxDelay, InitialDelay * Multiplier^(attempt-1)).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.InitialDelay <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	raw := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && raw > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if raw > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(raw)
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.IsRetryable != nil {
		return p.IsRetryable(err)
	}
	return DefaultRetryable(err)
}

// Executor runs operations under a Policy. The zero value is not usable; use NewExecutor.
type Executor struct {
	sleeper func(time.Duration)
	random  func() float64
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(e *Executor) {
		e.sleeper = sleeper
	}
}

// WithRandom overrides the jitter source. The function must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(e *Executor) {
		if random != nil {
			e.random = random
		}
	}
}

// NewExecutor constructs an Executor.
func NewExecutor(opts ...Option) *Executor {
	exec := &Executor{random: rand.Float64}
	for _, opt := range opts {
		opt(exec)
	}
	return exec
}

// Do runs op until it succeeds, fails with a non-retryable error, or the policy
// runs out of attempts.
func (e *Executor) Do(ctx context.Context, policy Policy, op func(context.Context) error) error {
	_, err := Retry(ctx, e, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Retry runs op under policy and returns its first successful result.
func Retry[T any](ctx context.Context, e *Executor, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if e == nil {
		e = NewExecutor()
	}
	attempts := policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		result, err := runAttempt(ctx, policy.AttemptTimeout, op)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if !policy.retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := e.delayFor(policy, attempt, err)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, delay)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	return zero, &MaxRetriesExceededError{Attempts: attempts, Last: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return result, services.Wrap(services.ErrTimeout, "", "attempt", fmt.Sprintf("exceeded %s", timeout), err)
	}
	return result, err
}

func (e *Executor) delayFor(policy Policy, attempt int, err error) time.Duration {
	delay := policy.Delay(attempt)
	var statusErr *services.StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > delay {
		hinted := statusErr.RetryAfter
		if policy.MaxDelay > 0 && hinted > policy.MaxDelay {
			hinted = policy.MaxDelay
		}
		return hinted
	}
	if policy.JitterFraction <= 0 || delay <= 0 {
		return delay
	}
	offset := (e.random()*2 - 1) * policy.JitterFraction * float64(delay)
	jittered := time.Duration(float64(delay) + offset)
	if jittered < 0 {
		return 0
	}
	return jittered
}

func (e *Executor) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if e.sleeper != nil {
		e.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
