package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"didi-mentor/internal/domain"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, ist)
}

func TestUpdateStreak_FirstCall(t *testing.T) {
	out := UpdateStreak(domain.UserStats{CurrentStreak: 9, BestStreak: 2}, day(2024, 3, 2, 10))
	require.Equal(t, 1, out.CurrentStreak)
	require.Equal(t, 2, out.BestStreak)
	require.Equal(t, day(2024, 3, 2, 10), out.LastCallDate)
}

func TestUpdateStreak_Yesterday(t *testing.T) {
	in := domain.UserStats{CurrentStreak: 5, BestStreak: 5, LastCallDate: day(2024, 3, 1, 20)}
	out := UpdateStreak(in, day(2024, 3, 2, 7))
	require.Equal(t, 6, out.CurrentStreak)
	require.Equal(t, 6, out.BestStreak)
}

func TestUpdateStreak_GapResets(t *testing.T) {
	in := domain.UserStats{CurrentStreak: 5, BestStreak: 8, LastCallDate: day(2024, 2, 27, 9)}
	out := UpdateStreak(in, day(2024, 3, 2, 9))
	require.Equal(t, 1, out.CurrentStreak)
	require.Equal(t, 8, out.BestStreak)
}

func TestUpdateStreak_SameDayIsStable(t *testing.T) {
	stats := domain.UserStats{CurrentStreak: 4, BestStreak: 4, LastCallDate: day(2024, 3, 2, 6)}
	for h := 7; h < 23; h += 4 {
		stats = UpdateStreak(stats, day(2024, 3, 2, h))
		require.Equal(t, 4, stats.CurrentStreak)
	}
}

func TestUpdateStreak_UsesCallersCalendar(t *testing.T) {
	// 23:30 IST on Mar 1 is 18:00 UTC; 00:30 IST on Mar 2 is the next local day
	// even though both fall on Mar 1 in UTC.
	last := time.Date(2024, 3, 1, 23, 30, 0, 0, ist)
	now := time.Date(2024, 3, 2, 0, 30, 0, 0, ist)
	out := UpdateStreak(domain.UserStats{CurrentStreak: 2, BestStreak: 2, LastCallDate: last.UTC()}, now)
	require.Equal(t, 3, out.CurrentStreak)
}

func TestUpdateStreak_MonthAndLeapBoundaries(t *testing.T) {
	out := UpdateStreak(domain.UserStats{CurrentStreak: 1, LastCallDate: day(2024, 2, 29, 12)}, day(2024, 3, 1, 12))
	require.Equal(t, 2, out.CurrentStreak)

	out = UpdateStreak(domain.UserStats{CurrentStreak: 1, LastCallDate: day(2023, 12, 31, 12)}, day(2024, 1, 1, 12))
	require.Equal(t, 2, out.CurrentStreak)
}

func TestUpdateStreak_ClockSkewKeepsStreak(t *testing.T) {
	in := domain.UserStats{CurrentStreak: 3, BestStreak: 3, LastCallDate: day(2024, 3, 5, 12)}
	out := UpdateStreak(in, day(2024, 3, 2, 12))
	require.Equal(t, 3, out.CurrentStreak)
	require.Equal(t, day(2024, 3, 2, 12), out.LastCallDate)
}

func TestUpdateStreak_BestNeverDecreases(t *testing.T) {
	stats := domain.UserStats{}
	now := day(2024, 1, 1, 9)
	best := 0
	// Mix of consecutive days, repeats and gaps.
	steps := []int{0, 1, 1, 0, 1, 3, 1, 1, 1, 1, 5, 0, 1}
	for _, step := range steps {
		now = now.AddDate(0, 0, step)
		stats = UpdateStreak(stats, now)
		require.GreaterOrEqual(t, stats.BestStreak, stats.CurrentStreak)
		require.GreaterOrEqual(t, stats.BestStreak, best)
		best = stats.BestStreak
	}
	require.Equal(t, 5, best)
}

func TestUpdateStreak_DoesNotMutateInput(t *testing.T) {
	in := domain.UserStats{CurrentStreak: 1, PackProgress: map[string]int{"savings": 10}}
	out := UpdateStreak(in, day(2024, 3, 2, 9))
	out.PackProgress["savings"] = 99
	require.Equal(t, 10, in.PackProgress["savings"])
	require.True(t, in.LastCallDate.IsZero())
}
