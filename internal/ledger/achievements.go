package ledger

import (
	"time"

	"didi-mentor/internal/domain"
	"didi-mentor/internal/prompt"
)

// Rarity orders achievements for display only.
type Rarity int

const (
	RarityCommon Rarity = iota
	RarityRare
	RarityEpic
)

// Achievement is a static catalog entry. Predicates must be pure and
// monotonic: once true for a stats trajectory they stay true.
type Achievement struct {
	ID          string
	Title       string
	Description string
	Category    string
	Rarity      Rarity
	Predicate   func(domain.UserStats) bool
}

var catalog = []Achievement{
	{
		ID: "first-call", Title: "पहली बातचीत", Description: "दीदी से पहली बार बात की",
		Category: "calls", Rarity: RarityCommon,
		Predicate: func(s domain.UserStats) bool { return s.TotalCalls >= 1 },
	},
	{
		ID: "streak-3", Title: "तीन दिन लगातार", Description: "तीन दिन लगातार पाठ सुना",
		Category: "streak", Rarity: RarityCommon,
		Predicate: func(s domain.UserStats) bool { return s.BestStreak >= 3 },
	},
	{
		ID: "streak-7", Title: "पूरा हफ़्ता", Description: "सात दिन लगातार पाठ सुना",
		Category: "streak", Rarity: RarityRare,
		Predicate: func(s domain.UserStats) bool { return s.BestStreak >= 7 },
	},
	{
		ID: "streak-30", Title: "महीने भर की लगन", Description: "तीस दिन लगातार पाठ सुना",
		Category: "streak", Rarity: RarityEpic,
		Predicate: func(s domain.UserStats) bool { return s.BestStreak >= 30 },
	},
	{
		ID: "calls-10", Title: "पक्की सहेली", Description: "दस बार दीदी से बात की",
		Category: "calls", Rarity: RarityCommon,
		Predicate: func(s domain.UserStats) bool { return s.TotalCalls >= 10 },
	},
	{
		ID: "calls-50", Title: "सच्ची साथी", Description: "पचास बार दीदी से बात की",
		Category: "calls", Rarity: RarityRare,
		Predicate: func(s domain.UserStats) bool { return s.TotalCalls >= 50 },
	},
	{
		ID: "talker-50", Title: "खुलकर बोलने वाली", Description: "पचास बार अपने जवाब दिए",
		Category: "turns", Rarity: RarityCommon,
		Predicate: func(s domain.UserStats) bool { return s.TotalTurns >= 50 },
	},
	{
		ID: "talk-60m", Title: "एक घंटा सीखा", Description: "कुल एक घंटा दीदी से बात की",
		Category: "calls", Rarity: RarityRare,
		Predicate: func(s domain.UserStats) bool { return s.TotalTalkTime >= time.Hour },
	},
	{
		ID: "explorer", Title: "नई राहें", Description: "तीन अलग विषय शुरू किए",
		Category: "packs", Rarity: RarityCommon,
		Predicate: func(s domain.UserStats) bool { return s.StartedPacks() >= 3 },
	},
	{
		ID: "pack-complete", Title: "पहला पाठ पूरा", Description: "एक विषय पूरा किया",
		Category: "packs", Rarity: RarityRare,
		Predicate: func(s domain.UserStats) bool { return s.CompletedPacks() >= 1 },
	},
	{
		ID: "all-packs", Title: "ज्ञान की दीदी", Description: "सभी विषय पूरे किए",
		Category: "packs", Rarity: RarityEpic,
		Predicate: completedEveryPack,
	},
	{
		// The flag is set by the festival campaign service, not by the engine.
		ID: "festival-diwali", Title: "दिवाली की रौनक", Description: "दिवाली के ख़ास पाठ में हिस्सा लिया",
		Category: "festival", Rarity: RarityRare,
		Predicate: func(s domain.UserStats) bool { return s.Flags["festival_diwali"] },
	},
}

func completedEveryPack(s domain.UserStats) bool {
	for _, id := range prompt.IDs() {
		if s.PackProgress[id] < 100 {
			return false
		}
	}
	return true
}

// Catalog returns a copy of the achievement definitions in declaration order.
func Catalog() []Achievement {
	out := make([]Achievement, len(catalog))
	copy(out, catalog)
	return out
}

// Find returns the definition for id.
func Find(id string) (Achievement, bool) {
	for _, a := range catalog {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// EvaluateAchievements returns, in catalog order, the ids whose predicate is
// true and which are not already in unlocked. Calling it again with the same
// inputs returns the same ids.
func EvaluateAchievements(stats domain.UserStats, unlocked []string) []string {
	return evaluate(catalog, stats, unlocked)
}

func evaluate(defs []Achievement, stats domain.UserStats, unlocked []string) []string {
	seen := make(map[string]struct{}, len(unlocked))
	for _, id := range unlocked {
		seen[id] = struct{}{}
	}
	var out []string
	for _, a := range defs {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		if a.Predicate != nil && a.Predicate(stats) {
			out = append(out, a.ID)
		}
	}
	return out
}

// Unlock returns a copy of stats with ids recorded at now. Ids already
// present keep their original unlock time.
func Unlock(stats domain.UserStats, ids []string, now time.Time) domain.UserStats {
	out := stats.Clone()
	if len(ids) == 0 {
		return out
	}
	if out.Achievements == nil {
		out.Achievements = make(map[string]time.Time, len(ids))
	}
	for _, id := range ids {
		if _, ok := out.Achievements[id]; !ok {
			out.Achievements[id] = now
		}
	}
	return out
}
