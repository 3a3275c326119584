package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"didi-mentor/internal/domain"
	"didi-mentor/internal/ledger"
	"didi-mentor/internal/logging"
)

const maxStatsAttempts = 3

// ProgressStore persists turns and the per-user stats document. SaveStats
// must reject a write whose Version differs from the stored one with an error
// wrapping domain.ErrVersionConflict, and store Version+1 on success.
type ProgressStore interface {
	SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error
	Turns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	LoadStats(ctx context.Context, userID string) (domain.UserStats, error)
	SaveStats(ctx context.Context, userID string, stats domain.UserStats) error
}

// Progress is the committed stats value plus achievements unlocked by the
// write that produced it.
type Progress struct {
	Stats    domain.UserStats `json:"stats"`
	Unlocked []string         `json:"unlocked"`
}

type ProgressService struct {
	store ProgressStore
	log   *logging.Logger
	now   func() time.Time
}

func NewProgressService(store ProgressStore, log *logging.Logger) (*ProgressService, error) {
	if store == nil {
		return nil, errors.New("usecase: progress store must not be nil")
	}
	if log == nil {
		log = logging.Nop()
	}
	return &ProgressService{store: store, log: log.Sub("progress"), now: time.Now}, nil
}

// RecordTurn persists turn and, for user turns, bumps the turn counter.
// Other roles are stored only and yield an empty Progress.
func (p *ProgressService) RecordTurn(ctx context.Context, userID, sessionID string, turn domain.Turn) (Progress, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" {
		return Progress{}, newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	if sessionID == "" {
		return Progress{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if !turn.Role.Valid() {
		return Progress{}, newError(ErrorInvalidInput, "invalid_role", nil)
	}
	if strings.TrimSpace(turn.ID) == "" {
		return Progress{}, newError(ErrorInvalidInput, "empty_turn_id", nil)
	}
	if turn.At.IsZero() {
		turn.At = p.now()
	}

	if err := p.store.SaveTurn(ctx, sessionID, turn); err != nil {
		return Progress{}, newError(ErrorInternal, "turn_write_error", err)
	}
	if turn.Role != domain.RoleUser {
		return Progress{}, nil
	}
	return p.update(ctx, userID, turn.At, ledger.RecordTurn)
}

// RecordCall folds a finished call into the user's stats: counters, pack
// progress, streak and achievements.
func (p *ProgressService) RecordCall(ctx context.Context, userID string, summary domain.SessionSummary, packDelta int, now time.Time) (Progress, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Progress{}, newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	if packDelta < 0 {
		return Progress{}, newError(ErrorInvalidInput, "negative_pack_delta", nil)
	}
	if now.IsZero() {
		now = p.now()
	}
	out, err := p.update(ctx, userID, now, func(s domain.UserStats) domain.UserStats {
		return ledger.RecordCall(s, summary, packDelta, now)
	})
	if err != nil {
		return Progress{}, err
	}
	p.log.Info().
		Str("user", userID).
		Int("streak", out.Stats.CurrentStreak).
		Strs("unlocked", out.Unlocked).
		Msg("call recorded")
	return out, nil
}

// Stats returns the user's current stats document.
func (p *ProgressService) Stats(ctx context.Context, userID string) (domain.UserStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserStats{}, newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	stats, err := p.store.LoadStats(ctx, userID)
	if err != nil {
		return domain.UserStats{}, newError(ErrorInternal, "stats_read_error", err)
	}
	stats.UserID = userID
	return stats, nil
}

// SessionTurns returns the persisted turns of a session in order.
func (p *ProgressService) SessionTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	turns, err := p.store.Turns(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "turns_read_error", err)
	}
	return turns, nil
}

// update runs an optimistic read-modify-write, retrying on version conflicts.
func (p *ProgressService) update(ctx context.Context, userID string, now time.Time, apply func(domain.UserStats) domain.UserStats) (Progress, error) {
	for attempt := 1; ; attempt++ {
		current, err := p.store.LoadStats(ctx, userID)
		if err != nil {
			return Progress{}, newError(ErrorInternal, "stats_read_error", err)
		}
		current.UserID = userID

		next := apply(current)
		unlocked := ledger.EvaluateAchievements(next, next.UnlockedIDs())
		next = ledger.Unlock(next, unlocked, now)
		next.Version = current.Version

		err = p.store.SaveStats(ctx, userID, next)
		if err == nil {
			next.Version++
			return Progress{Stats: next, Unlocked: unlocked}, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return Progress{}, newError(ErrorInternal, "stats_write_error", err)
		}
		if attempt >= maxStatsAttempts {
			return Progress{}, newError(ErrorConflict, "stats_version_conflict", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Progress{}, newError(ErrorInternal, "stats_write_cancelled", ctxErr)
		}
		p.log.Debug().Str("user", userID).Int("attempt", attempt).Msg("stats version conflict, retrying")
	}
}
