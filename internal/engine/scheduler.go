package engine

import (
	"time"
)

// Scheduler signals when the next tick is due.
type Scheduler interface {
	// Ticks delivers one value per due tick. Signals that arrive while a
	// tick is running are coalesced by the scheduler, never queued.
	Ticks() <-chan time.Time
	// Stop releases the scheduler's resources.
	Stop()
}

// IntervalScheduler fires on a fixed interval. It wraps time.Ticker, which
// already drops ticks for a slow receiver.
type IntervalScheduler struct {
	ticker *time.Ticker
}

// NewIntervalScheduler starts a scheduler firing every interval.
// Panics if interval is not positive, like time.NewTicker.
func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{ticker: time.NewTicker(interval)}
}

// Ticks implements Scheduler.
func (s *IntervalScheduler) Ticks() <-chan time.Time {
	return s.ticker.C
}

// Stop implements Scheduler.
func (s *IntervalScheduler) Stop() {
	s.ticker.Stop()
}

// ManualScheduler fires only when Trigger is called. Used by tests and the
// scenario harness.
type ManualScheduler struct {
	ch chan time.Time
}

// NewManualScheduler creates a scheduler with no pending signal.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{ch: make(chan time.Time, 1)}
}

// Trigger requests a tick. Returns false when a signal is already pending,
// in which case this one is dropped.
func (s *ManualScheduler) Trigger() bool {
	select {
	case s.ch <- time.Now():
		return true
	default:
		return false
	}
}

// Ticks implements Scheduler.
func (s *ManualScheduler) Ticks() <-chan time.Time {
	return s.ch
}

// Stop implements Scheduler. Pending signals are left in place.
func (s *ManualScheduler) Stop() {}
