package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"didi-mentor/internal/classifier"
	"didi-mentor/internal/domain"
	"didi-mentor/internal/gateway"
	"didi-mentor/internal/logging"
	"didi-mentor/internal/prompt"
)

// ReplyGenerator is satisfied by *gateway.Gateway.
type ReplyGenerator interface {
	Generate(ctx context.Context, history []domain.Turn, topicID string) (gateway.Reply, error)
}

type SessionState int

const (
	SessionUninitialized SessionState = iota
	SessionActive
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionActive:
		return "active"
	case SessionEnded:
		return "ended"
	}
	return "unknown"
}

type SessionDeps struct {
	Gateway ReplyGenerator
	Logger  *logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Session is one call's conversation. It is safe for concurrent use, but at
// most one SendUserTurn may be in flight; overlapping sends are rejected.
type Session struct {
	gw    ReplyGenerator
	log   *logging.Logger
	now   func() time.Time
	newID func() string

	inflight *semaphore.Weighted

	mu           sync.Mutex
	id           string
	state        SessionState
	topicID      string
	createdAt    time.Time
	turns        []domain.Turn
	emotion      domain.EmotionTag
	endRequested bool
}

func NewSession(deps SessionDeps) (*Session, error) {
	if deps.Gateway == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	id := deps.NewID()
	return &Session{
		gw:       deps.Gateway,
		log:      deps.Logger.Sub("session").With("session", id),
		now:      deps.Now,
		newID:    deps.NewID,
		inflight: semaphore.NewWeighted(1),
		id:       id,
		state:    SessionUninitialized,
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) TopicID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topicID
}

// Turns returns a copy of the history in chronological order.
func (s *Session) Turns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Start seeds the history with the topic's system prompt and returns the
// personalized opening line. Unknown topics use the generic mentor prompt.
func (s *Session) Start(_ context.Context, topicID string, profile domain.Profile) (domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionEnded:
		return domain.Turn{}, newError(ErrorSessionClosed, "session_ended", nil)
	case SessionActive:
		return domain.Turn{}, newError(ErrorInvalidInput, "session_already_started", nil)
	}

	topic := prompt.Topic(topicID)
	now := s.now()
	system := strings.TrimSpace(prompt.Personalize(topic.System, profile, now))
	opening := strings.TrimSpace(prompt.Personalize(topic.Opening, profile, now))
	if system == "" || opening == "" {
		return domain.Turn{}, newError(ErrorInternal, "prompt_unresolved", nil)
	}

	openingTurn := domain.Turn{
		ID:      s.newID(),
		Role:    domain.RoleAssistant,
		Text:    opening,
		At:      now,
		Emotion: classifier.ClassifyEmotion(opening),
	}
	s.turns = append(s.turns,
		domain.Turn{ID: s.newID(), Role: domain.RoleSystem, Text: system, At: now},
		openingTurn,
	)
	s.topicID = topic.ID
	s.createdAt = now
	s.emotion = openingTurn.Emotion
	s.state = SessionActive

	s.log.Info().Str("topic", topic.ID).Msg("session started")
	return openingTurn, nil
}

// SendUserTurn appends the user's utterance, asks the gateway for the reply
// and appends it. The engine never ends the call on its own; EndCall on the
// returned turn is a hint for the caller.
func (s *Session) SendUserTurn(ctx context.Context, text string) (domain.Turn, error) {
	text = strings.TrimSpace(text)
	if err := s.checkActive(); err != nil {
		return domain.Turn{}, err
	}
	if text == "" {
		return domain.Turn{}, newError(ErrorInvalidInput, "empty_turn", nil)
	}
	if !s.inflight.TryAcquire(1) {
		return domain.Turn{}, newError(ErrorBusy, "turn_in_flight", nil)
	}
	defer s.inflight.Release(1)

	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return domain.Turn{}, newError(ErrorSessionClosed, "session_not_active", nil)
	}
	s.turns = append(s.turns, domain.Turn{
		ID:   s.newID(),
		Role: domain.RoleUser,
		Text: text,
		At:   s.now(),
	})
	history := make([]domain.Turn, len(s.turns))
	copy(history, s.turns)
	topicID := s.topicID
	s.mu.Unlock()

	reply, err := s.gw.Generate(ctx, history, topicID)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidHistory) {
			return domain.Turn{}, newError(ErrorInvalidHistory, "no_conversation_turn", err)
		}
		return domain.Turn{}, newError(ErrorInternal, "gateway_error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		s.log.Debug().Str("source", reply.Source).Msg("reply arrived after end, dropped")
		return domain.Turn{}, newError(ErrorSessionClosed, "ended_during_turn", nil)
	}
	turn := domain.Turn{
		ID:      reply.ID,
		Role:    domain.RoleAssistant,
		Text:    reply.Text,
		At:      s.now(),
		Emotion: classifier.ClassifyEmotion(reply.Text),
		EndCall: reply.EndCall,
	}
	if turn.ID == "" {
		turn.ID = s.newID()
	}
	s.turns = append(s.turns, turn)
	s.emotion = turn.Emotion
	s.endRequested = turn.EndCall

	s.log.Debug().Str("source", reply.Source).Str("emotion", string(turn.Emotion)).Bool("endCall", turn.EndCall).Msg("turn answered")
	return turn, nil
}

// End closes the session. Any later operation fails with SESSION_CLOSED.
func (s *Session) End() (domain.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionEnded:
		return domain.SessionSummary{}, newError(ErrorSessionClosed, "session_ended", nil)
	case SessionUninitialized:
		return domain.SessionSummary{}, newError(ErrorSessionClosed, "session_not_started", nil)
	}
	s.state = SessionEnded

	summary := domain.SessionSummary{
		SessionID:    s.id,
		TopicID:      s.topicID,
		LastEmotion:  s.emotion,
		EndRequested: s.endRequested,
	}
	for _, t := range s.turns {
		if t.Role != domain.RoleSystem {
			summary.TurnCount++
		}
	}
	if n := len(s.turns); n > 0 {
		summary.Duration = s.turns[n-1].At.Sub(s.turns[0].At)
	}

	s.log.Info().Int("turns", summary.TurnCount).Dur("duration", summary.Duration).Msg("session ended")
	return summary, nil
}

func (s *Session) checkActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SessionActive:
		return nil
	case SessionEnded:
		return newError(ErrorSessionClosed, "session_ended", nil)
	}
	return newError(ErrorSessionClosed, "session_not_started", nil)
}
