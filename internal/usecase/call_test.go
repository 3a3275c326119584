package usecase

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"didi-mentor/internal/domain"
	"didi-mentor/internal/gateway"
)

type scriptedTranscripts struct {
	lines []string
	err   error
}

func (s *scriptedTranscripts) Next(context.Context) (string, error) {
	if len(s.lines) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

type recordingSpeech struct {
	spoken []string
	opts   []domain.SpeechOptions
	err    error
}

func (r *recordingSpeech) Speak(_ context.Context, text string, opts domain.SpeechOptions) error {
	r.spoken = append(r.spoken, text)
	r.opts = append(r.opts, opts)
	return r.err
}

// scriptedGateway returns replies in order, repeating the last one.
type scriptedGateway struct {
	replies []gateway.Reply
	calls   int
}

func (g *scriptedGateway) Generate(context.Context, []domain.Turn, string) (gateway.Reply, error) {
	r := g.replies[min(g.calls, len(g.replies)-1)]
	g.calls++
	return r, nil
}

func fixedNow() time.Time { return callDay }

func TestRunCall_EndsOnValediction(t *testing.T) {
	gw := &scriptedGateway{replies: []gateway.Reply{
		{Text: "बहुत बढ़िया! और बताइए।"},
		{Text: "आज के लिए बस इतना। अलविदा!", EndCall: true},
		{Text: "never reached"},
	}}
	store := newMemStore()
	speech := &recordingSpeech{}
	session := mustNewSession(t, gw)

	res, err := RunCall(context.Background(), CallDeps{
		Session:     session,
		Progress:    mustNewProgress(t, store),
		Transcripts: &scriptedTranscripts{lines: []string{"मैं बचत करती हूँ", "", "धन्यवाद", "फिर से"}},
		Speech:      speech,
		UserID:      "u-1",
		TopicID:     "savings",
		Profile:     domain.Profile{Name: "गीता", Language: "hi-IN"},
		Now:         fixedNow,
	})
	require.NoError(t, err)
	require.Equal(t, 2, gw.calls)
	require.Equal(t, SessionEnded, session.State())

	require.Len(t, speech.spoken, 3)
	require.Contains(t, speech.spoken[0], "गीता")
	require.Equal(t, "hi-IN", speech.opts[0].Language)

	require.True(t, res.Summary.EndRequested)
	require.Equal(t, 5, res.Summary.TurnCount)
	require.Equal(t, []string{"first-call"}, res.Progress.Unlocked)
	require.Equal(t, defaultPackDelta, res.Progress.Stats.PackProgress["savings"])
	require.Equal(t, 2, res.Progress.Stats.TotalTurns)
	require.Equal(t, 1, res.Progress.Stats.TotalCalls)

	// system, opening, and two user/assistant pairs
	require.Len(t, store.turns[session.ID()], 6)
}

func TestRunCall_StopsWhenTranscriptExhausted(t *testing.T) {
	gw := &scriptedGateway{replies: []gateway.Reply{{Text: "अच्छा, और?"}}}
	session := mustNewSession(t, gw)

	res, err := RunCall(context.Background(), CallDeps{
		Session:     session,
		Transcripts: &scriptedTranscripts{lines: []string{"एक", "दो"}},
		Speech:      &recordingSpeech{},
		TopicID:     "savings",
	})
	require.NoError(t, err)
	require.Equal(t, 2, gw.calls)
	require.False(t, res.Summary.EndRequested)
	require.Equal(t, Progress{}, res.Progress)
}

func TestRunCall_MaxTurns(t *testing.T) {
	gw := &scriptedGateway{replies: []gateway.Reply{{Text: "अच्छा, और?"}}}
	session := mustNewSession(t, gw)

	_, err := RunCall(context.Background(), CallDeps{
		Session:     session,
		Transcripts: &scriptedTranscripts{lines: []string{"1", "2", "3", "4", "5"}},
		Speech:      &recordingSpeech{},
		TopicID:     "savings",
		MaxTurns:    3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, gw.calls)
}

func TestRunCall_GenericTopicEarnsNoPackProgress(t *testing.T) {
	store := newMemStore()
	_, err := RunCall(context.Background(), CallDeps{
		Session:     mustNewSession(t, &scriptedGateway{replies: []gateway.Reply{{Text: "ठीक है"}}}),
		Progress:    mustNewProgress(t, store),
		Transcripts: &scriptedTranscripts{},
		Speech:      &recordingSpeech{},
		UserID:      "u-1",
		TopicID:     "unknown-topic",
		Now:         fixedNow,
	})
	require.NoError(t, err)
	require.Empty(t, store.stats["u-1"].PackProgress)
	require.Equal(t, 1, store.stats["u-1"].TotalCalls)
}

func TestRunCall_SpeechFailureIsNotFatal(t *testing.T) {
	gw := &scriptedGateway{replies: []gateway.Reply{{Text: "अलविदा", EndCall: true}}}
	_, err := RunCall(context.Background(), CallDeps{
		Session:     mustNewSession(t, gw),
		Transcripts: &scriptedTranscripts{lines: []string{"बाय"}},
		Speech:      &recordingSpeech{err: errors.New("audio device busy")},
		TopicID:     "savings",
	})
	require.NoError(t, err)
}

func TestRunCall_TranscriptError(t *testing.T) {
	session := mustNewSession(t, &scriptedGateway{replies: []gateway.Reply{{Text: "ठीक है"}}})
	_, err := RunCall(context.Background(), CallDeps{
		Session:     session,
		Transcripts: &scriptedTranscripts{err: errors.New("mic unplugged")},
		Speech:      &recordingSpeech{},
		TopicID:     "savings",
	})
	expectCode(t, err, ErrorInternal, "transcript_error")
	require.Equal(t, SessionEnded, session.State())
}

func TestRunCall_ValidatesDependencies(t *testing.T) {
	_, err := RunCall(context.Background(), CallDeps{})
	expectCode(t, err, ErrorInvalidInput, "missing_call_dependency")
}
