package globelogix

import "time"

// DailyWindow is the window used by daily contributions, daily bonuses and distribution freshness.
const DailyWindow = 24 * time.Hour

// An EligibilityWindow decides whether an event may happen again given when it last happened. It is the single
// time-window rule shared by contribution collection, daily bonuses, distribution freshness and notification
// rate limiting.
type EligibilityWindow struct {
	Duration time.Duration
}

// NewEligibilityWindow returns a window of the given duration.
func NewEligibilityWindow(duration time.Duration) EligibilityWindow {
	return EligibilityWindow{Duration: duration}
}

// IsEligible reports whether at least duration has elapsed between last and now. A zero last time is always
// eligible.
func IsEligible(now, last time.Time, duration time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return !now.Before(last.Add(duration))
}

// Eligible reports whether the window has elapsed since last.
func (w EligibilityWindow) Eligible(now, last time.Time) bool {
	return IsEligible(now, last, w.Duration)
}

// NextEligible returns the earliest time the event may happen again.
func (w EligibilityWindow) NextEligible(last time.Time) time.Time {
	if last.IsZero() {
		return last
	}
	return last.Add(w.Duration)
}

// Remaining returns how long until the window elapses, or zero when already eligible.
func (w EligibilityWindow) Remaining(now, last time.Time) time.Duration {
	if w.Eligible(now, last) {
		return 0
	}
	return w.NextEligible(last).Sub(now)
}
