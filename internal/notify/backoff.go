package notify

import (
	"fmt"
	"time"
)

const (
	DefaultBaseInterval = 10 * time.Second
	DefaultMaxInterval  = 60 * time.Minute
)

// Window is a daily time-of-day range, both ends inclusive, expressed as
// offsets from local midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

func DefaultWindow() Window {
	return Window{Start: 8 * time.Hour, End: 21*time.Hour + 30*time.Minute}
}

// ParseWindow reads "HH:MM" or "HH:MM:SS" bounds.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("parse window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("parse window end: %w", err)
	}
	if e < s {
		return Window{}, fmt.Errorf("window end %s is before start %s", end, start)
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(value string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", value)
}

func (w Window) Contains(t time.Time) bool {
	offset := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
	return offset >= w.Start && offset <= w.End
}

type BackoffConfig struct {
	Base   time.Duration
	Max    time.Duration
	Window Window
}

// Backoff spaces out notifications to the active holder. The interval doubles
// on every notification up to Max and drops back to Base when a new holder is
// selected.
type Backoff struct {
	cfg      BackoffConfig
	interval time.Duration
	last     time.Time
	notified bool
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = DefaultBaseInterval
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMaxInterval
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.Window == (Window{}) {
		cfg.Window = DefaultWindow()
	}
	return &Backoff{cfg: cfg, interval: cfg.Base}
}

// Eligible reports whether a notification may be sent at now.
func (b *Backoff) Eligible(now time.Time, hasHolder bool) bool {
	if !hasHolder || !b.cfg.Window.Contains(now) {
		return false
	}
	return !b.notified || now.Sub(b.last) > b.interval
}

// Fired records a notification sent at now and doubles the interval.
func (b *Backoff) Fired(now time.Time) {
	b.last = now
	b.notified = true
	b.interval *= 2
	if b.interval > b.cfg.Max {
		b.interval = b.cfg.Max
	}
}

func (b *Backoff) Reset() {
	b.interval = b.cfg.Base
}

func (b *Backoff) Interval() time.Duration {
	return b.interval
}

func (b *Backoff) LastNotified() (time.Time, bool) {
	return b.last, b.notified
}
