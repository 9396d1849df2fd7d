package backoff

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy describes a capped exponential delay schedule with a bounded number of attempts.
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Attempts   int
}

// Delay returns min(Initial * Multiplier^attempt, Max) for a zero-based attempt.
// Without a Max the result saturates at the largest time.Duration.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(math.Round(d))
}

func (p Policy) Validate() error {
	if p.Attempts <= 0 {
		return fmt.Errorf("attempts must be > 0, got %d", p.Attempts)
	}
	if p.Initial < 0 {
		return fmt.Errorf("initial delay must not be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.Max <= 0 {
		return fmt.Errorf("max delay must be > 0, got %s", p.Max)
	}
	if p.Max < p.Initial {
		return fmt.Errorf("max delay %s is below initial delay %s", p.Max, p.Initial)
	}
	return nil
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExhaustedError is returned by Poll when no probe satisfied the predicate.
type ExhaustedError struct {
	Attempts int
	Last     any
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("condition not met after %d attempts (last: %v)", e.Attempts, e.Last)
}

// Poll sleeps, probes and evaluates done until it reports true or the attempt budget runs out.
// The sleep comes before every probe, including the first, so a preceding action has time to land.
// A probe error ends the loop immediately.
func Poll[T any](ctx context.Context, p Policy, sleep Sleeper, probe func(context.Context) (T, error), done func(T) bool) (T, error) {
	var last T
	if sleep == nil {
		sleep = ContextSleep
	}
	for i := 0; i < p.Attempts; i++ {
		if err := sleep(ctx, p.Delay(i)); err != nil {
			return last, err
		}
		res, err := probe(ctx)
		if err != nil {
			return res, err
		}
		last = res
		if done(res) {
			return res, nil
		}
	}
	return last, &ExhaustedError{Attempts: p.Attempts, Last: last}
}
