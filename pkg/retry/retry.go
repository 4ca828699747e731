// Package retry runs store and language model calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0; 0.1 spreads each wait by +/-10%

	// MaxSameErrorType stops retrying after N consecutive failures of the same
	// class. Zero disables the check. Only applies to the DoIfRetryable variants.
	MaxSameErrorType int

	// OnRetry, when set, is called before each wait with the 1-based attempt that failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig is 3 retries starting at 100ms, doubling up to 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// RetryableError is implemented by errors that know whether they are transient.
// It takes precedence over message matching.
type RetryableError interface {
	error
	IsRetryable() bool
}

// errorClass groups message fragments that identify one kind of failure.
type errorClass struct {
	name      string
	retryable bool
	fragments []string
}

// errorClasses is checked in order; the first class with a matching fragment wins.
var errorClasses = []errorClass{
	{"503", true, []string{"503"}},
	{"502", true, []string{"502"}},
	{"504", true, []string{"504"}},
	{"500", true, []string{"500"}},
	{"429", true, []string{"429"}},
	{"404", false, []string{"404"}},
	{"403", false, []string{"403"}},
	{"401", false, []string{"401"}},
	{"400", false, []string{"400"}},
	{"connection", true, []string{"connection refused", "connection reset", "no such host", "network is unreachable", "too many connections"}},
	{"timeout", true, []string{"timeout", "timed out", "deadline exceeded"}},
	{"broken_pipe", true, []string{"broken pipe"}},
	{"rate_limit", true, []string{"rate limit", "too many requests"}},
	{"lock", true, []string{"database is locked", "deadlock"}},
	{"busy", true, []string{"temporary failure", "service busy", "service unavailable", "overloaded"}},
}

func classify(err error) (errorClass, bool) {
	msg := strings.ToLower(err.Error())
	for _, c := range errorClasses {
		for _, f := range c.fragments {
			if strings.Contains(msg, f) {
				return c, true
			}
		}
	}
	return errorClass{name: "unknown"}, false
}

// classifyErrorType names the class of err for repeated-failure detection.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}
	c, _ := classify(err)
	return c.name
}

// IsRetryable reports whether err is transient. Cancellation never is; an error
// in the chain implementing RetryableError decides next; otherwise the message
// is matched against known transient failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	c, ok := classify(err)
	return ok && c.retryable
}

// applyJitter spreads delay uniformly within +/- delay*factor.
func applyJitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	spread := float64(delay) * factor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + spread)
}

// streak counts consecutive failures of one error class.
type streak struct {
	class string
	n     int
}

func (s *streak) observe(err error) int {
	class := classifyErrorType(err)
	if class == s.class {
		s.n++
	} else {
		s.class, s.n = class, 1
	}
	return s.n
}

func loop[T any](ctx context.Context, cfg *Config, fn func() (T, error), onlyTransient bool) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result T
		err    error
		same   streak
	)
	delay := cfg.InitialDelay

	for attempt := 0; ; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}

		if onlyTransient {
			if !IsRetryable(err) {
				return result, err
			}
			if n := same.observe(err); cfg.MaxSameErrorType > 0 && n >= cfg.MaxSameErrorType {
				return result, fmt.Errorf("repeated error (%d times, type=%s): %w", n, same.class, err)
			}
		}

		if attempt >= cfg.MaxRetries {
			return result, err
		}

		wait := applyJitter(delay, cfg.JitterFactor)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, wait)
		}
		if werr := sleep(ctx, wait); werr != nil {
			return result, werr
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do retries fn on any error until it succeeds, retries run out or ctx ends.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := loop(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() }, false)
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return loop(ctx, cfg, fn, false)
}

// DoIfRetryable retries only transient errors and gives up early when the same
// class of error keeps coming back.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := loop(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() }, true)
	return err
}

// DoIfRetryableWithResult is DoIfRetryable for functions that return a value.
func DoIfRetryableWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return loop(ctx, cfg, fn, true)
}
