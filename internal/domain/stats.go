package domain

import (
	"errors"
	"time"
)

// ErrVersionConflict is wrapped by stores when a stats write loses an
// optimistic concurrency race.
var ErrVersionConflict = errors.New("stats version conflict")

// UserStats is the longitudinal progress document for one user. The ledger
// treats it as a value: functions receive a copy and return a new one.
type UserStats struct {
	UserID        string        `json:"userId"`
	TotalCalls    int           `json:"totalCalls"`
	TotalTurns    int           `json:"totalTurns"`
	TotalTalkTime time.Duration `json:"totalTalkTime"`
	CurrentStreak int           `json:"currentStreak"`
	BestStreak    int           `json:"bestStreak"`
	// LastCallDate is the zero time when the user has never completed a call.
	LastCallDate time.Time `json:"lastCallDate"`
	// PackProgress maps topic id to completion percent (0-100).
	PackProgress map[string]int `json:"packProgress,omitempty"`
	// Achievements maps achievement id to unlock time.
	Achievements map[string]time.Time `json:"achievements,omitempty"`
	// Flags are populated by collaborators outside the engine (festival
	// events, onboarding milestones).
	Flags map[string]bool `json:"flags,omitempty"`
	// Version is the optimistic concurrency token owned by the store.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so derived values never alias the input maps.
func (s UserStats) Clone() UserStats {
	out := s
	if s.PackProgress != nil {
		out.PackProgress = make(map[string]int, len(s.PackProgress))
		for k, v := range s.PackProgress {
			out.PackProgress[k] = v
		}
	}
	if s.Achievements != nil {
		out.Achievements = make(map[string]time.Time, len(s.Achievements))
		for k, v := range s.Achievements {
			out.Achievements[k] = v
		}
	}
	if s.Flags != nil {
		out.Flags = make(map[string]bool, len(s.Flags))
		for k, v := range s.Flags {
			out.Flags[k] = v
		}
	}
	return out
}

// UnlockedIDs lists the unlocked achievement ids in no particular order.
func (s UserStats) UnlockedIDs() []string {
	ids := make([]string, 0, len(s.Achievements))
	for id := range s.Achievements {
		ids = append(ids, id)
	}
	return ids
}

// CompletedPacks counts packs at 100 percent.
func (s UserStats) CompletedPacks() int {
	n := 0
	for _, p := range s.PackProgress {
		if p >= 100 {
			n++
		}
	}
	return n
}

// StartedPacks counts packs with any progress.
func (s UserStats) StartedPacks() int {
	n := 0
	for _, p := range s.PackProgress {
		if p > 0 {
			n++
		}
	}
	return n
}
