package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"followcast/internal/model"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNoHistoryNoWait(t *testing.T) {
	d := CalcDelay(now, nil, model.PacingSpread, Limits{Ceiling: 10, Window: time.Hour})
	assert.Equal(t, Delay{Wait: 0, ResumeAt: now, Cause: CauseNone}, d)
}

func TestBurstIgnoresSpacing(t *testing.T) {
	hist := []time.Time{now.Add(-time.Second)}
	d := CalcDelay(now, hist, model.PacingBurst, Limits{Ceiling: 10, Window: time.Hour})
	assert.Equal(t, CauseNone, d.Cause)
	assert.Zero(t, d.Wait)
}

func TestSpreadWaitsRemainingGap(t *testing.T) {
	l := Limits{Ceiling: 24, Window: 24 * time.Hour}
	d := CalcDelay(now, []time.Time{now.Add(-20 * time.Minute)}, model.PacingSpread, l)
	assert.Equal(t, 40*time.Minute, d.Wait)
	assert.Equal(t, CausePacing, d.Cause)
	assert.Equal(t, now.Add(40*time.Minute), d.ResumeAt)

	d = CalcDelay(now, []time.Time{now.Add(-2 * time.Hour)}, model.PacingSpread, l)
	assert.Zero(t, d.Wait)
}

func TestRateLimitUsesNthFromLast(t *testing.T) {
	l := Limits{Ceiling: 3, Window: time.Hour}
	hist := []time.Time{
		now.Add(-90 * time.Minute),
		now.Add(-50 * time.Minute),
		now.Add(-10 * time.Minute),
		now.Add(-5 * time.Minute),
	}
	d := CalcDelay(now, hist, model.PacingBurst, l)
	assert.Equal(t, 10*time.Minute, d.Wait)
	assert.Equal(t, CauseRateLimit, d.Cause)
}

func TestRateLimitWinsTies(t *testing.T) {
	l := Limits{Ceiling: 2, Window: time.Hour}
	hist := []time.Time{now.Add(-30 * time.Minute), now}
	d := CalcDelay(now, hist, model.PacingSpread, l)
	assert.Equal(t, 30*time.Minute, d.Wait)
	assert.Equal(t, CauseRateLimit, d.Cause)
}

func TestFutureEventsAreClamped(t *testing.T) {
	l := Limits{Ceiling: 1, Window: time.Hour}
	d := CalcDelay(now, []time.Time{now.Add(time.Hour)}, model.PacingBurst, l)
	assert.Equal(t, time.Hour, d.Wait)
	assert.Equal(t, CauseRateLimit, d.Cause)
}

func TestRateLimitLaw(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("ceiling sends inside the window wait until the oldest expires", prop.ForAll(
		func(ceiling int, windowMin int, spacingSec int) bool {
			window := time.Duration(windowMin) * time.Minute
			spacing := time.Duration(spacingSec) * time.Second
			if time.Duration(ceiling-1)*spacing >= window {
				spacing = window / time.Duration(ceiling)
			}
			hist := make([]time.Time, ceiling)
			for i := range hist {
				hist[i] = now.Add(-time.Duration(ceiling-1-i) * spacing)
			}
			d := CalcDelay(now, hist, model.PacingBurst, Limits{Ceiling: ceiling, Window: window})
			want := window - now.Sub(hist[0])
			return want > 0 && d.Wait == want && d.Cause == CauseRateLimit
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 48*60),
		gen.IntRange(0, 3600),
	))
	properties.TestingRun(t)
}

func TestSpreadLaw(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("one prior send waits the remaining gap", prop.ForAll(
		func(ceiling int, windowMin int, agoSec int) bool {
			l := Limits{Ceiling: ceiling, Window: time.Duration(windowMin) * time.Minute}
			last := now.Add(-time.Duration(agoSec) * time.Second)
			d := CalcDelay(now, []time.Time{last}, model.PacingSpread, l)
			want := l.Window/time.Duration(ceiling) - now.Sub(last)
			if want < 0 {
				want = 0
			}
			if ceiling == 1 && l.Window-now.Sub(last) > want {
				want = l.Window - now.Sub(last)
			}
			return d.Wait == want && d.ResumeAt.Equal(now.Add(want))
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 48*60),
		gen.IntRange(0, 48*3600),
	))
	properties.TestingRun(t)
}

type fakeHistory struct {
	times []time.Time
	err   error
	limit int
	table bool
}

func (f *fakeHistory) RecentSends(ctx context.Context, rehearsal bool, limit int) ([]time.Time, error) {
	f.limit, f.table = limit, rehearsal
	return f.times, f.err
}

func TestGateReadsSelectedTable(t *testing.T) {
	h := &fakeHistory{times: []time.Time{now.Add(-time.Minute)}}
	g := Gate{History: h, Limits: Limits{Ceiling: 60, Window: time.Hour}}
	d, err := g.Next(context.Background(), now, model.PacingSpread, true)
	require.NoError(t, err)
	assert.Zero(t, d.Wait)
	assert.Equal(t, 60, h.limit)
	assert.True(t, h.table)

	h.err = errors.New("disk gone")
	_, err = g.Next(context.Background(), now, model.PacingBurst, false)
	assert.Error(t, err)
}
