// Package clock implements the "platform clock/timers" external
// collaborator from spec §6: monotonic millisecond timestamps with
// wrap-safe comparison, and one-shot timers that are cancellable and
// resettable.
//
// It is a thin wrapper around github.com/benbjohnson/clock so production
// code uses the real wall clock while tests drive a *clock.Mock
// deterministically instead of sleeping.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Millis is a monotonic millisecond timestamp, truncated to 32 bits to
// match the embedded source's wrap-safe time type (spec §6). Comparisons
// must go through Before/Diff, never plain `<`, since the value wraps
// every ~49.7 days.
type Millis uint32

// Before reports whether a happened strictly before b, correctly handling
// wraparound: the comparison is done on the signed difference, so it
// remains correct as long as the true gap between a and b is less than
// roughly half the Millis range (~24.8 days), which always holds for the
// timers this package drives (the longest-lived one is the 10-hour
// lastMulticastTime validity window).
func Before(a, b Millis) bool {
	return int32(a-b) < 0
}

// Diff returns a-b as a signed duration, wrap-safe under the same
// assumption as Before.
func Diff(a, b Millis) time.Duration {
	return time.Duration(int32(a-b)) * time.Millisecond
}

// Add returns m advanced by d, wrapping as needed.
func Add(m Millis, d time.Duration) Millis {
	return m + Millis(d.Milliseconds())
}

// Clock provides the current monotonic time and one-shot timers to the
// scheduler and entry state machines.
type Clock struct {
	inner clock.Clock
}

// New returns a Clock backed by the real wall clock.
func New() *Clock {
	return &Clock{inner: clock.New()}
}

// NewMock returns a Clock backed by a controllable mock, along with the
// mock itself so tests can advance time with Add/Set instead of sleeping.
func NewMock() (*Clock, *clock.Mock) {
	m := clock.NewMock()
	return &Clock{inner: m}, m
}

// Now returns the current time truncated to the wrap-safe Millis type.
func (c *Clock) Now() Millis {
	return Millis(c.inner.Now().UnixMilli())
}

// Timer is a cancellable, resettable one-shot timer, per spec §6.
type Timer struct {
	inner *clock.Timer
}

// AfterFunc schedules fn to run after d, returning a Timer that can be
// Stop()ped or Reset() to a new duration. Mirrors clock.Clock.AfterFunc;
// fn runs on the Clock's own goroutine (the real clock uses time.AfterFunc
// semantics, the mock clock runs it synchronously as part of Add/Set), so
// callers that mutate shared state from fn must forward the call onto
// their own event loop rather than act on it directly.
func (c *Clock) AfterFunc(d time.Duration, fn func()) *Timer {
	return &Timer{inner: c.inner.AfterFunc(d, fn)}
}

// Stop cancels the timer, returning false if it had already fired or been
// stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.inner == nil {
		return false
	}
	return t.inner.Stop()
}

// Reset reschedules the timer to fire after d from now, returning false if
// the timer had already expired or been stopped.
func (t *Timer) Reset(d time.Duration) bool {
	if t == nil || t.inner == nil {
		return false
	}
	return t.inner.Reset(d)
}
