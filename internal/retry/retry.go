package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	retrygo "github.com/avast/retry-go"

	"cachegen/internal/config"
	"cachegen/internal/logging"
)

// jitterFraction bounds the random perturbation applied to each delay.
const jitterFraction = 0.10

// ErrConditionNotMet marks an attempt whose result the caller's predicate
// asked to retry even though the operation returned no error.
var ErrConditionNotMet = errors.New("retry condition not met")

// Config describes a backoff policy.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// RetryOn restricts retries to errors matching one of these sentinels.
	// An empty list retries every failure.
	RetryOn []error
}

// FromConfig converts the [retry] configuration section.
func FromConfig(c config.Retry) Config {
	return Config{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: time.Duration(c.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(c.MaxDelayMS) * time.Millisecond,
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 1
	}
	return c
}

// Delay returns the pre-jitter wait before retry n, where n=0 is the wait
// after the first failed attempt. The result is truncated to whole
// milliseconds and capped at MaxDelay when MaxDelay is positive.
func Delay(cfg Config, n uint) time.Duration {
	cfg = cfg.normalized()
	delay := float64(cfg.InitialDelay.Milliseconds())
	limit := float64(cfg.MaxDelay.Milliseconds())
	capped := cfg.MaxDelay > 0
	if capped && delay > limit {
		delay = limit
	}
	for i := uint(0); i < n; i++ {
		delay *= cfg.Multiplier
		if capped && delay >= limit {
			delay = limit
			break
		}
		if delay >= math.MaxInt64/float64(time.Millisecond) {
			delay = math.MaxInt64 / float64(time.Millisecond)
			break
		}
	}
	return time.Duration(int64(delay)) * time.Millisecond
}

// applyJitter perturbs d by up to ±10% using sample in [0,1). The result is
// never negative.
func applyJitter(d time.Duration, sample float64) time.Duration {
	ms := float64(d.Milliseconds())
	ms += ms * jitterFraction * (2*sample - 1)
	if ms < 0 {
		ms = 0
	}
	return time.Duration(int64(ms)) * time.Millisecond
}

// ExhaustedError reports that an operation failed on its final attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable regardless of the allow-list.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type conditionError struct {
	err error
}

func (e *conditionError) Error() string {
	if e.err == nil {
		return ErrConditionNotMet.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConditionNotMet, e.err)
}

func (e *conditionError) Unwrap() []error {
	if e.err == nil {
		return []error{ErrConditionNotMet}
	}
	return []error{ErrConditionNotMet, e.err}
}

// Executor runs operations under a fixed policy.
type Executor struct {
	cfg    Config
	logger *slog.Logger
	sample func() float64
}

// New constructs an executor for cfg. A nil logger discards retry logs.
func New(cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:    cfg.normalized(),
		logger: logging.NewComponentLogger(logger, "retry"),
		sample: rand.Float64,
	}
}

// Config returns the normalized policy.
func (e *Executor) Config() Config {
	return e.cfg
}

// Do runs op until it succeeds, returns a non-retryable error, the context
// ends, or the attempt budget is spent.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := 0
	err := retrygo.Do(
		func() error {
			attempts++
			return op(ctx)
		},
		retrygo.Attempts(uint(e.cfg.MaxAttempts)),
		retrygo.Context(ctx),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(e.shouldRetry),
		retrygo.DelayType(e.delayFor),
		retrygo.OnRetry(func(n uint, err error) {
			e.logger.Debug("attempt failed",
				logging.Int("attempt", int(n)+1),
				logging.Int("max_attempts", e.cfg.MaxAttempts),
				logging.Error(err),
			)
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("retry interrupted after %d attempt(s): %w", attempts, err)
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		err = perm.err
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}

func (e *Executor) shouldRetry(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var cond *conditionError
	if errors.As(err, &cond) {
		return true
	}
	if len(e.cfg.RetryOn) == 0 {
		return true
	}
	for _, target := range e.cfg.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (e *Executor) delayFor(n uint, _ error, _ *retrygo.Config) time.Duration {
	delay := Delay(e.cfg, n)
	if e.cfg.Jitter {
		delay = applyJitter(delay, e.sample())
	}
	return delay
}

// Do runs op under cfg without a logger.
func Do(ctx context.Context, cfg Config, op func(context.Context) error) error {
	return New(cfg, nil).Do(ctx, op)
}

// DoWithCondition retries based on the operation's result as well as its
// error. shouldRetry receives each attempt's outcome; returning true schedules
// another attempt. When attempts run out the last result is returned together
// with an *ExhaustedError wrapping ErrConditionNotMet (and the last error, if
// any). A nil predicate retries on error only.
func DoWithCondition[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error), shouldRetry func(T, error) bool) (T, error) {
	var last T
	err := e.Do(ctx, func(ctx context.Context) error {
		result, opErr := op(ctx)
		last = result
		if shouldRetry == nil {
			return opErr
		}
		if !shouldRetry(result, opErr) {
			return Permanent(opErr)
		}
		return &conditionError{err: opErr}
	})
	return last, err
}
