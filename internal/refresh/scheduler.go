// Package refresh implements the polling cadence shared by the dashboard
// collections.
package refresh

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Callback is invoked on every refresh. silent is true for background ticks,
// which must not toggle any user-facing loading indicator.
type Callback func(silent bool)

// Scheduler fires a callback on a fixed interval while the view is visible.
// It owns at most one timer at any moment.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	visible  bool
	stopped  bool
	callback Callback
	timer    *time.Timer
	gen      uint64
	logger   *zap.SugaredLogger
}

// New returns a visible scheduler. An interval of 0 leaves it disabled.
func New(interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if interval < 0 {
		interval = 0
	}
	s := &Scheduler{
		interval: interval,
		visible:  true,
		logger:   logger,
	}
	s.mu.Lock()
	s.rearmLocked()
	s.mu.Unlock()
	return s
}

// SetCallback replaces the refresh callback; the running timer is kept.
func (s *Scheduler) SetCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// SetInterval changes the cadence. Zero disables ticking.
func (s *Scheduler) SetInterval(interval time.Duration) {
	if interval < 0 {
		interval = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	s.rearmLocked()

	s.logger.Debugw("Refresh interval changed", "interval", interval)
}

// Interval returns the configured cadence.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// IsEnabled reports whether periodic ticking is configured.
func (s *Scheduler) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval > 0 && !s.stopped
}

// Visible reports the last visibility signal.
func (s *Scheduler) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Active reports whether a tick is currently armed.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// SetVisible suspends ticking while hidden. Becoming visible again fires one
// silent refresh immediately and restarts the cadence.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	if s.visible == visible || s.stopped {
		s.mu.Unlock()
		return
	}
	s.visible = visible
	s.rearmLocked()
	fire := visible && s.interval > 0
	cb := s.callback
	s.mu.Unlock()

	if fire && cb != nil {
		s.logger.Debugw("View visible again, refreshing")
		cb(true)
	}
}

// Trigger runs a manual, non-silent refresh. It does not reset the cadence.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	cb := s.callback
	stopped := s.stopped
	s.mu.Unlock()

	if cb != nil && !stopped {
		cb(false)
	}
}

// Stop cancels the timer for good.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.gen++
	s.stopTimerLocked()
}

// rearmLocked tears down the current timer and, when ticking is allowed,
// starts exactly one new one.
func (s *Scheduler) rearmLocked() {
	s.gen++
	s.stopTimerLocked()
	if s.stopped || !s.visible || s.interval <= 0 {
		return
	}
	s.scheduleLocked(s.gen)
}

func (s *Scheduler) scheduleLocked(gen uint64) {
	s.timer = time.AfterFunc(s.interval, func() { s.tick(gen) })
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	cb := s.callback
	s.mu.Unlock()

	if cb != nil {
		cb(true)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen && s.timer == nil {
		s.scheduleLocked(gen)
	}
}
