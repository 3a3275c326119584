package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"didi-mentor/internal/domain"
	"didi-mentor/internal/logging"
	"didi-mentor/internal/prompt"
)

const (
	defaultMaxCallTurns = 12
	defaultPackDelta    = 20
)

// TranscriptSource yields the user's utterances. io.EOF means the user hung up.
type TranscriptSource interface {
	Next(ctx context.Context) (string, error)
}

// SpeechSink plays the mentor's lines.
type SpeechSink interface {
	Speak(ctx context.Context, text string, opts domain.SpeechOptions) error
}

// CallRecorder persists turns and the finished call; *ProgressService
// satisfies it.
type CallRecorder interface {
	RecordTurn(ctx context.Context, userID, sessionID string, turn domain.Turn) (Progress, error)
	RecordCall(ctx context.Context, userID string, summary domain.SessionSummary, packDelta int, now time.Time) (Progress, error)
}

type CallDeps struct {
	Session     *Session
	Progress    CallRecorder
	Transcripts TranscriptSource
	Speech      SpeechSink
	Logger      *logging.Logger

	UserID  string
	TopicID string
	Profile domain.Profile
	// MaxTurns bounds the user turns per call; zero uses the default.
	MaxTurns int
	// PackDelta is the progress credited to a curriculum pack per call.
	PackDelta int
	Now       func() time.Time
}

type CallResult struct {
	Summary  domain.SessionSummary
	Progress Progress
}

// RunCall drives one call end to end: opening, the turn loop, then End and
// the stats update. It stops when the mentor signals goodbye, the transcript
// source is exhausted or MaxTurns user turns have been answered.
func RunCall(ctx context.Context, deps CallDeps) (CallResult, error) {
	if deps.Session == nil || deps.Transcripts == nil || deps.Speech == nil {
		return CallResult{}, newError(ErrorInvalidInput, "missing_call_dependency", nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MaxTurns <= 0 {
		deps.MaxTurns = defaultMaxCallTurns
	}
	if deps.PackDelta <= 0 {
		deps.PackDelta = defaultPackDelta
	}
	log := deps.Logger.Sub("call").With("session", deps.Session.ID())
	speech := prompt.SpeechOptions(deps.Profile.Language)
	rec := &turnRecorder{deps: deps, log: log}

	opening, err := deps.Session.Start(ctx, deps.TopicID, deps.Profile)
	if err != nil {
		return CallResult{}, err
	}
	rec.flush(ctx)
	speak(ctx, deps.Speech, log, opening.Text, speech)

	answered, silent := 0, 0
	for answered < deps.MaxTurns && silent < deps.MaxTurns {
		text, err := deps.Transcripts.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_, _ = deps.Session.End()
			return CallResult{}, newError(ErrorInternal, "transcript_error", err)
		}
		if strings.TrimSpace(text) == "" {
			silent++
			continue
		}

		reply, err := deps.Session.SendUserTurn(ctx, text)
		if err != nil {
			_, _ = deps.Session.End()
			return CallResult{}, err
		}
		answered++
		rec.flush(ctx)
		speak(ctx, deps.Speech, log, reply.Text, speech)
		if reply.EndCall {
			break
		}
	}

	summary, err := deps.Session.End()
	if err != nil {
		return CallResult{}, err
	}
	result := CallResult{Summary: summary}
	if deps.Progress == nil || deps.UserID == "" {
		return result, nil
	}

	delta := 0
	if prompt.Known(summary.TopicID) {
		delta = deps.PackDelta
	}
	progress, err := deps.Progress.RecordCall(ctx, deps.UserID, summary, delta, deps.Now())
	if err != nil {
		return result, err
	}
	result.Progress = progress
	return result, nil
}

func speak(ctx context.Context, sink SpeechSink, log *logging.Logger, text string, opts domain.SpeechOptions) {
	if err := sink.Speak(ctx, text, opts); err != nil {
		log.Warn().Err(err).Msg("speech output failed")
	}
}

// turnRecorder persists turns appended to the session since the last flush.
// Persistence failures are logged; the call goes on.
type turnRecorder struct {
	deps CallDeps
	log  *logging.Logger
	next int
}

func (r *turnRecorder) flush(ctx context.Context) {
	turns := r.deps.Session.Turns()
	if r.deps.Progress == nil || r.deps.UserID == "" {
		r.next = len(turns)
		return
	}
	for ; r.next < len(turns); r.next++ {
		t := turns[r.next]
		if _, err := r.deps.Progress.RecordTurn(ctx, r.deps.UserID, r.deps.Session.ID(), t); err != nil {
			r.log.Warn().Err(err).Str("turn", t.ID).Msg("turn not recorded")
		}
	}
}
