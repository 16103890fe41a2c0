package retry

import (
	"context"
	"time"

	"followcast/internal/logging"
	"followcast/internal/metrics"
)

// Decision tells Do what to do with a failed attempt.
type Decision int

const (
	// Retry after the fixed back-off.
	Retry Decision = iota
	// Stop and return the error to the caller.
	Stop
)

// Policy configures a fixed back-off retry loop.
type Policy struct {
	// Name labels logs and the retry metric, e.g. "followers/ids".
	Name    string
	Backoff time.Duration
	// MaxAttempts bounds the loop; zero retries until success, a Stop decision, or ctx is done.
	MaxAttempts int
	// Classify maps an error to a decision and a short reason label.
	Classify func(err error) (Decision, string)
	// Sleep waits d or returns ctx.Err(); defaults to a timer select.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result carries attempt telemetry for one Do call.
type Result struct {
	Attempts int
	Retries  map[string]int
	Elapsed  time.Duration
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Sleep waits for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, the classifier says Stop, MaxAttempts is hit,
// or ctx is cancelled. The last error is returned in the latter three cases.
func Do(ctx context.Context, p Policy, fn Func) (Result, error) {
	start := time.Now()
	res := Result{Retries: map[string]int{}}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			res.Elapsed = time.Since(start)
			if attempt > 1 {
				logging.Info("retry_succeeded", map[string]any{"op": p.Name, "attempts": attempt, "elapsed_ms": res.Elapsed.Milliseconds()})
			}
			return res, nil
		}
		if ctx.Err() != nil {
			res.Elapsed = time.Since(start)
			return res, ctx.Err()
		}
		decision, reason := Retry, "error"
		if p.Classify != nil {
			decision, reason = p.Classify(err)
		}
		if decision == Stop || (p.MaxAttempts > 0 && attempt >= p.MaxAttempts) {
			res.Elapsed = time.Since(start)
			return res, err
		}
		res.Retries[reason]++
		metrics.IncAPIRetry(p.Name, reason)
		fields := map[string]any{"op": p.Name, "attempt": attempt, "reason": reason, "backoff_ms": p.Backoff.Milliseconds(), "error": err.Error()}
		if reason == "rate_limit" {
			logging.Warn("retry_backoff", fields)
		} else {
			logging.Error("retry_backoff", fields)
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
	}
}
