package domain

import "time"

// Expiry is advisory: an expired ephemeral review is hidden from every read
// but may remain in the store until the optional reaper purges it.

// ExpiryState is how a review's lifetime is presented.
type ExpiryState string

const (
	ExpiryPermanent     ExpiryState = "permanent"
	ExpiryActive        ExpiryState = "active"
	ExpiryAboutToExpire ExpiryState = "about_to_expire"
	ExpiryExpired       ExpiryState = "expired"
)

// IsVisible reports whether r is shown at now. Permanent reviews are always
// visible; ephemeral ones until their expiry instant, exclusive.
func IsVisible(r Review, now time.Time) bool {
	exp, ephemeral := r.expiry()
	if !ephemeral {
		return true
	}
	return now.Before(exp)
}

// RemainingDays returns the whole days left before r expires, floored and
// clamped at zero. It is nil for permanent reviews.
func RemainingDays(r Review, now time.Time) *int {
	exp, ephemeral := r.expiry()
	if !ephemeral {
		return nil
	}
	days := 0
	if left := exp.Sub(now); left > 0 {
		days = int(left / (24 * time.Hour))
	}
	return &days
}

// ExpiryStateOf classifies r at now. Zero remaining days reads as about to expire.
func ExpiryStateOf(r Review, now time.Time) ExpiryState {
	days := RemainingDays(r, now)
	switch {
	case days == nil:
		return ExpiryPermanent
	case !IsVisible(r, now):
		return ExpiryExpired
	case *days == 0:
		return ExpiryAboutToExpire
	default:
		return ExpiryActive
	}
}

// VisibleOnly returns the reviews of rs visible at now, preserving order.
func VisibleOnly(rs []Review, now time.Time) []Review {
	out := make([]Review, 0, len(rs))
	for _, r := range rs {
		if IsVisible(r, now) {
			out = append(out, r)
		}
	}
	return out
}
