// Package clock resolves "current time" in the platform's reference timezone
// and implements the time-of-day matching used by the delivery scheduler.
//
// The scheduler runs on a low-frequency external trigger (every 10-60
// minutes), so it cannot assume it fires at the exact target minute.
// IsWithinTolerance compensates for trigger jitter while bounding how late a
// missed window can be picked up.
package clock

import (
	"fmt"
	"time"
)

// DefaultTimezone is the platform's reference timezone (UTC+7). All
// user-facing send times are interpreted in this zone.
const DefaultTimezone = "Asia/Ho_Chi_Minh"

// defaultOffset is the fixed UTC offset used when the IANA timezone database
// is unavailable on the host. Matches DefaultTimezone, which observes no DST.
const defaultOffset = 7 * 60 * 60

// DefaultToleranceMinutes is the tolerance applied to send-time matching when
// the caller does not specify one.
const DefaultToleranceMinutes = 5

// Clock resolves instants in a fixed target timezone, independent of the host
// process timezone. The zero value is not usable; construct with New.
type Clock struct {
	loc *time.Location

	// nowFn is the wall-clock source; injected for testing.
	nowFn func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithNowFunc overrides the wall-clock source. Intended for tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(c *Clock) {
		c.nowFn = fn
	}
}

// New creates a Clock for the named IANA timezone. If the zone cannot be
// resolved (stripped-down container images commonly lack tzdata), it degrades
// to a fixed UTC+7 offset rather than failing: the scheduler must keep
// running even when timezone resolution is broken.
func New(tz string, opts ...Option) *Clock {
	if tz == "" {
		tz = DefaultTimezone
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.FixedZone(tz, defaultOffset)
	}

	c := &Clock{
		loc:   loc,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the current instant expressed in the target timezone.
func (c *Clock) Now() time.Time {
	return c.nowFn().In(c.loc)
}

// Location returns the resolved target timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// TimeOfDay formats an instant as a zero-padded "HH:MM" string in the
// target timezone.
func (c *Clock) TimeOfDay(t time.Time) string {
	return t.In(c.loc).Format("15:04")
}

// IsWithinTolerance reports whether currentHHMM falls within
// toleranceMinutes of targetHHMM. The two values are compared as flat
// minutes-since-midnight: a target of "23:58" and a current time of "00:02"
// are ~1436 minutes apart and never match. An exact match always counts.
// Malformed inputs never match.
func IsWithinTolerance(targetHHMM, currentHHMM string, toleranceMinutes int) bool {
	if targetHHMM == currentHHMM {
		return true
	}

	target, err := minutesSinceMidnight(targetHHMM)
	if err != nil {
		return false
	}
	current, err := minutesSinceMidnight(currentHHMM)
	if err != nil {
		return false
	}

	diff := target - current
	if diff < 0 {
		diff = -diff
	}
	return diff <= toleranceMinutes
}

// NextOccurrence returns the next instant at or after from whose time-of-day
// in the target timezone equals targetHHMM. If that time-of-day has already
// passed today, tomorrow's occurrence is returned.
func (c *Clock) NextOccurrence(targetHHMM string, from time.Time) (time.Time, error) {
	hour, minute, err := ParseTimeOfDay(targetHHMM)
	if err != nil {
		return time.Time{}, err
	}

	local := from.In(c.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, c.loc)
	if next.Before(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

// ParseTimeOfDay parses a "HH:MM" string into hour and minute components.
// A single-digit hour is accepted ("6:30"), matching what users type into
// the settings form; minutes must be two digits.
func ParseTimeOfDay(s string) (int, int, error) {
	var hour, minute int
	n, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour %d out of range [0,23]", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute %d out of range [0,59]", minute)
	}
	return hour, minute, nil
}

// minutesSinceMidnight converts "HH:MM" to minutes since midnight.
func minutesSinceMidnight(s string) (int, error) {
	hour, minute, err := ParseTimeOfDay(s)
	if err != nil {
		return 0, err
	}
	return hour*60 + minute, nil
}
