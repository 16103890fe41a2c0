// Package schedule computes how long a campaign must wait before its next send.
package schedule

import (
	"time"

	"followcast/internal/logging"
	"followcast/internal/model"
)

// Cause names what a Delay is waiting on.
type Cause string

const (
	CauseNone      Cause = "none"
	CausePacing    Cause = "pacing"
	CauseRateLimit Cause = "rate_limit"
)

// Limits is the remote message ceiling per rolling window.
type Limits struct {
	Ceiling int
	Window  time.Duration
}

// Gap is the minimum spacing between sends under spread pacing.
func (l Limits) Gap() time.Duration {
	if l.Ceiling <= 0 {
		return 0
	}
	return l.Window / time.Duration(l.Ceiling)
}

// Delay is the wait before the next send.
type Delay struct {
	Wait     time.Duration
	ResumeAt time.Time
	Cause    Cause
}

// CalcDelay returns the wait before the next send given past send times
// (oldest first). Only the last l.Ceiling entries matter.
func CalcDelay(now time.Time, history []time.Time, pacing model.Pacing, l Limits) Delay {
	var pace, rate time.Duration
	n := len(history)
	if n > 0 && pacing == model.PacingSpread {
		pace = l.Gap() - elapsed(now, history[n-1])
	}
	if l.Ceiling > 0 && n >= l.Ceiling {
		rate = l.Window - elapsed(now, history[n-l.Ceiling])
	}
	if pace < 0 {
		pace = 0
	}
	if rate < 0 {
		rate = 0
	}

	d := Delay{Cause: CauseNone}
	switch {
	case rate > 0 && rate >= pace:
		d.Wait, d.Cause = rate, CauseRateLimit
	case pace > 0:
		d.Wait, d.Cause = pace, CausePacing
	}
	d.ResumeAt = now.Add(d.Wait)
	return d
}

// elapsed is now-t, clamped at zero for events stamped in the future.
func elapsed(now, t time.Time) time.Duration {
	e := now.Sub(t)
	if e < 0 {
		logging.Warn("send_history_in_future", map[string]any{"event": t, "now": now, "skew_ms": (-e).Milliseconds()})
		return 0
	}
	return e
}
