// Package retry polls bounded operations until they resolve or a
// deadline passes. Probes report a three-way outcome so "not yet
// done" is never confused with a real failure.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Clock abstracts time so poll loops can be tested without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Policy configures one polling loop. The zero value is not usable;
// Timeout and PollInterval must be positive.
type Policy struct {
	// Timeout bounds the total elapsed time across all attempts.
	Timeout time.Duration
	// PollInterval spaces consecutive attempts.
	PollInterval time.Duration
	// Jitter perturbs each interval by up to this fraction of
	// PollInterval. Zero means fully deterministic spacing.
	Jitter float64
	// Clock defaults to the system clock when nil.
	Clock Clock
}

func (p Policy) clock() Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return systemClock{}
}

// interval returns the next inter-attempt delay.
func (p Policy) interval() time.Duration {
	if p.Jitter <= 0 {
		return p.PollInterval
	}
	bound := int64(float64(p.PollInterval) * p.Jitter)
	if bound <= 0 {
		return p.PollInterval
	}
	fuzz := time.Duration(rand.Int63n(bound))
	return p.PollInterval + fuzz
}

type resultState int

const (
	statePending resultState = iota
	stateDone
	stateFailed
)

// Result is one probe outcome: Done carries a value, Pending asks for
// another attempt, Failed terminates the loop with an error.
type Result[T any] struct {
	state resultState
	value T
	err   error
}

// Done resolves the loop with value.
func Done[T any](value T) Result[T] {
	return Result[T]{state: stateDone, value: value}
}

// Pending signals the operation has not finished yet.
func Pending[T any]() Result[T] {
	return Result[T]{state: statePending}
}

// Failed terminates the loop with a definitive error. Retrying on
// failure is never correct; only Pending is retried.
func Failed[T any](err error) Result[T] {
	return Result[T]{state: stateFailed, err: err}
}

// TimeoutError reports that polling exceeded its deadline without a
// definitive result. The operation's true state is unknown. After is
// the time actually spent polling.
type TimeoutError struct {
	After    time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s (%d attempts)", e.After, e.Attempts)
}

// Do invokes probe until it returns Done or Failed, spacing attempts
// by the policy interval, or until the policy timeout or ctx expires.
// A fresh attempt counter is created per invocation.
func Do[T any](ctx context.Context, policy Policy, probe func(context.Context) Result[T]) (T, error) {
	var zero T
	clock := policy.clock()
	start := clock.Now()
	deadline := start.Add(policy.Timeout)
	attempts := 0

	for {
		attempts++
		res := probe(ctx)
		switch res.state {
		case stateDone:
			return res.value, nil
		case stateFailed:
			return zero, res.err
		}

		now := clock.Now()
		if !now.Before(deadline) {
			return zero, &TimeoutError{After: now.Sub(start), Attempts: attempts}
		}

		// Never give up early: if the next interval would overshoot,
		// wait out the remainder and probe once more at the deadline.
		wait := policy.interval()
		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-clock.After(wait):
		}
	}
}
