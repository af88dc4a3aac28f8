package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kwhitfield/bastion/internal/config"
)

// LockoutTracker counts failed authentication attempts per principal and
// bans a principal once MaxTry failures land inside a sliding TrialWindow.
// Failures are evaluated against the trailing window on every attempt, so
// slow drips that never fit MaxTry failures into the window never ban.
//
// State is in-memory and per-process. A restart forgives everything, which
// is the accepted trade-off for keeping the hot path off the database.
type LockoutTracker struct {
	mu       sync.Mutex
	config   config.LockoutConfig
	failures map[string][]time.Time // trailing MaxTry failure times per principal
	bans     map[string]time.Time   // ban expiry per principal
	logger   *slog.Logger

	now func() time.Time
}

func NewLockoutTracker(cfg config.LockoutConfig, logger *slog.Logger) *LockoutTracker {
	return &LockoutTracker{
		config:   cfg,
		failures: make(map[string][]time.Time),
		bans:     make(map[string]time.Time),
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether lockout tracking is active at all.
func (t *LockoutTracker) Enabled() bool {
	return t.config.Enabled()
}

// IsBanned reports whether the principal is under an active ban and, if so,
// how long the ban has left. Expired bans are removed on the way through.
func (t *LockoutTracker) IsBanned(principalKey string) (time.Duration, bool) {
	if !t.Enabled() || principalKey == "" {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.bans[principalKey]
	if !ok {
		return 0, false
	}

	remaining := expiry.Sub(t.now())
	if remaining <= 0 {
		delete(t.bans, principalKey)
		return 0, false
	}
	return remaining, true
}

// RecordFailure registers a failed attempt for the principal. It returns the
// ban duration and true when this failure crossed the threshold.
//
// Only the trailing MaxTry timestamps are kept; the principal is banned when
// those MaxTry failures all fit inside TrialWindow. With TrialWindow <= 0
// any MaxTry lifetime failures ban.
func (t *LockoutTracker) RecordFailure(principalKey string) (time.Duration, bool) {
	if !t.Enabled() || principalKey == "" {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	timestamps := append(t.failures[principalKey], t.now())
	if excess := len(timestamps) - t.config.MaxTry; excess > 0 {
		timestamps = timestamps[excess:]
	}

	if len(timestamps) < t.config.MaxTry {
		t.failures[principalKey] = timestamps
		return 0, false
	}

	if t.config.TrialWindow > 0 {
		span := timestamps[len(timestamps)-1].Sub(timestamps[0])
		if span > t.config.TrialWindow {
			t.failures[principalKey] = timestamps
			return 0, false
		}
	}

	delete(t.failures, principalKey)
	t.bans[principalKey] = t.now().Add(t.config.BanTime)

	t.logger.Warn("principal banned after repeated failures",
		slog.String("principal", principalKey),
		slog.Int("max_try", t.config.MaxTry),
		slog.Duration("ban_time", t.config.BanTime))

	return t.config.BanTime, true
}

// Clear forgets the principal's failure history after a successful login.
// An active ban is NOT cleared; a banned principal stays banned until the
// ban expires even if a parallel request somehow authenticated.
func (t *LockoutTracker) Clear(principalKey string) {
	if principalKey == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, principalKey)
}

// Sweep drops expired bans and failure histories too old to ever contribute
// to a ban. Called periodically by the background cleanup job.
func (t *LockoutTracker) Sweep() (removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, expiry := range t.bans {
		if !expiry.After(now) {
			delete(t.bans, key)
			removed++
		}
	}

	if t.config.TrialWindow > 0 {
		cutoff := now.Add(-t.config.TrialWindow)
		for key, timestamps := range t.failures {
			if timestamps[len(timestamps)-1].Before(cutoff) {
				delete(t.failures, key)
				removed++
			}
		}
	}

	return removed
}
