// Package ledger derives streak, counter and achievement state from a user's
// stats document. Every function takes a value and returns a new one; the
// caller's store decides when the result is committed.
package ledger

import (
	"time"

	"didi-mentor/internal/domain"
)

// UpdateStreak applies one completed call at now. Calendar days are computed
// in now's location, so the caller's local clock decides what "yesterday"
// means. A LastCallDate after now (clock skew) is treated like the same day.
func UpdateStreak(stats domain.UserStats, now time.Time) domain.UserStats {
	out := stats.Clone()

	switch {
	case stats.LastCallDate.IsZero():
		out.CurrentStreak = 1
	default:
		switch gap := daysBetween(stats.LastCallDate, now); {
		case gap <= 0:
			// same day: unchanged
		case gap == 1:
			out.CurrentStreak = stats.CurrentStreak + 1
		default:
			out.CurrentStreak = 1
		}
	}

	if out.CurrentStreak > out.BestStreak {
		out.BestStreak = out.CurrentStreak
	}
	out.LastCallDate = now
	return out
}

// daysBetween counts calendar-day boundaries from a to b in b's location.
func daysBetween(a, b time.Time) int {
	loc := b.Location()
	a = a.In(loc)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	// UTC midnights avoid DST making a day 23 or 25 hours long.
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
