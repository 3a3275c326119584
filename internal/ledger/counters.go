package ledger

import (
	"time"

	"didi-mentor/internal/domain"
)

// RecordTurn counts one answered user turn.
func RecordTurn(stats domain.UserStats) domain.UserStats {
	out := stats.Clone()
	out.TotalTurns++
	return out
}

// RecordCall folds a finished call into stats: call and talk-time counters,
// pack progress (capped at 100) and the streak.
func RecordCall(stats domain.UserStats, summary domain.SessionSummary, packDelta int, now time.Time) domain.UserStats {
	out := stats.Clone()
	out.TotalCalls++
	if summary.Duration > 0 {
		out.TotalTalkTime += summary.Duration
	}
	if summary.TopicID != "" && packDelta > 0 {
		if out.PackProgress == nil {
			out.PackProgress = make(map[string]int)
		}
		p := out.PackProgress[summary.TopicID] + packDelta
		if p > 100 {
			p = 100
		}
		out.PackProgress[summary.TopicID] = p
	}
	return UpdateStreak(out, now)
}
