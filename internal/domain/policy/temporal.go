package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/enact-ai/enact/internal/domain/governance"
)

// TimeWindow is a recurring daily window in local time.
// A request falls in the window when start <= now < end on an allowed
// weekday. An empty Days set means every day.
type TimeWindow struct {
	start minuteOfDay
	end   minuteOfDay
	days  map[time.Weekday]struct{}
}

// minuteOfDay is a clock time expressed as minutes since midnight.
type minuteOfDay int

// parseClock parses an "HH:MM" string into minutes since midnight.
func parseClock(s string) (minuteOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("clock time %q: %w", s, err)
	}
	return minuteOfDay(t.Hour()*60 + t.Minute()), nil
}

// NewTimeWindow builds a window from "HH:MM" start and end times and an
// optional weekday set. End must be after start.
func NewTimeWindow(start, end string, days ...time.Weekday) (TimeWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return TimeWindow{}, err
	}
	if e <= s {
		return TimeWindow{}, fmt.Errorf("window end %q must be after start %q", end, start)
	}

	w := TimeWindow{start: s, end: e}
	if len(days) > 0 {
		w.days = make(map[time.Weekday]struct{}, len(days))
		for _, d := range days {
			w.days[d] = struct{}{}
		}
	}
	return w, nil
}

// contains reports whether the instant falls inside the window.
func (w TimeWindow) contains(now time.Time) bool {
	if w.days != nil {
		if _, ok := w.days[now.Weekday()]; !ok {
			return false
		}
	}
	m := minuteOfDay(now.Hour()*60 + now.Minute())
	return w.start <= m && m < w.end
}

// Temporal allows a request when local time falls within any configured
// window; outside every window the configured default applies.
type Temporal struct {
	windows      []TimeWindow
	defaultAllow bool
	now          func() time.Time
}

// TemporalOption configures a Temporal policy.
type TemporalOption func(*Temporal)

// WithTemporalClock overrides the clock. Tests use this to pin the time.
func WithTemporalClock(now func() time.Time) TemporalOption {
	return func(p *Temporal) { p.now = now }
}

// NewTemporal creates a Temporal policy over the given windows.
func NewTemporal(windows []TimeWindow, defaultAllow bool, opts ...TemporalOption) *Temporal {
	p := &Temporal{
		windows:      windows,
		defaultAllow: defaultAllow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate implements Policy.
func (p *Temporal) Evaluate(_ context.Context, _ governance.Request) (governance.Decision, error) {
	now := p.now()
	for _, w := range p.windows {
		if w.contains(now) {
			return governance.Allowed("within allowed time window"), nil
		}
	}
	return governance.Decision{
		Allow:  p.defaultAllow,
		Reason: "outside allowed time windows",
	}, nil
}

// Compile-time interface verification.
var _ Policy = (*Temporal)(nil)
