// Package gateway produces the mentor's next line through an ordered chain of
// providers: proxy, then direct model call, then canned fallback.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"didi-mentor/internal/classifier"
	"didi-mentor/internal/domain"
	"didi-mentor/internal/logging"
)

var (
	// ErrInvalidHistory signals a caller bug: there is nothing to respond to.
	ErrInvalidHistory = errors.New("gateway: history has no non-system turn")
	// ErrNotConfigured makes the chain advance silently.
	ErrNotConfigured = errors.New("gateway: provider not configured")
	// ErrMalformedResponse is treated like a transient failure.
	ErrMalformedResponse = errors.New("gateway: malformed response")
	// ErrExhausted is only possible when the chain has no terminal provider.
	ErrExhausted = errors.New("gateway: every provider failed")
)

// Request is what each provider sees. History is never mutated.
type Request struct {
	History []domain.Turn
	TopicID string
}

// Provider is one step of the fallback chain. Returning any error passes the
// request to the next step; providers are attempted at most once per call.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Reply is the normalized result regardless of which provider answered.
type Reply struct {
	ID      string
	Text    string
	EndCall bool
	Source  string
}

// Gateway holds no conversation state; every Generate call is independent.
type Gateway struct {
	providers []Provider
	log       *logging.Logger
	tracer    trace.Tracer
}

func New(log *logging.Logger, providers ...Provider) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, errors.New("gateway: at least one provider is required")
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("gateway: provider %d is nil", i)
		}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Gateway{
		providers: providers,
		log:       log.Sub("gateway"),
		tracer:    otel.Tracer("didi-mentor/gateway"),
	}, nil
}

// Generate walks the chain in order and returns the first successful reply.
// EndCall is classified on the final text whichever provider produced it.
func (g *Gateway) Generate(ctx context.Context, history []domain.Turn, topicID string) (Reply, error) {
	ctx, span := g.tracer.Start(ctx, "Generate", trace.WithAttributes(
		attribute.String("topic.id", topicID),
		attribute.Int("history.length", len(history)),
	))
	defer span.End()

	if !hasConversationTurn(history) {
		span.SetStatus(codes.Error, ErrInvalidHistory.Error())
		return Reply{}, ErrInvalidHistory
	}

	req := Request{History: history, TopicID: topicID}
	for _, p := range g.providers {
		text, err := g.attempt(ctx, p, req)
		if err != nil {
			continue
		}
		reply := Reply{
			ID:      uuid.NewString(),
			Text:    text,
			EndCall: classifier.ShouldEndCall(text),
			Source:  p.Name(),
		}
		span.SetAttributes(
			attribute.String("reply.source", reply.Source),
			attribute.Bool("reply.end_call", reply.EndCall),
		)
		g.log.Debug().Str("provider", reply.Source).Str("topic", topicID).Bool("endCall", reply.EndCall).Msg("reply generated")
		return reply, nil
	}

	span.SetStatus(codes.Error, ErrExhausted.Error())
	return Reply{}, ErrExhausted
}

func (g *Gateway) attempt(ctx context.Context, p Provider, req Request) (string, error) {
	ctx, span := g.tracer.Start(ctx, "Provider", trace.WithAttributes(attribute.String("provider", p.Name())))
	defer span.End()

	text, err := p.Generate(ctx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("%s: empty text: %w", p.Name(), ErrMalformedResponse)
	}
	switch {
	case err == nil:
		return strings.TrimSpace(text), nil
	case errors.Is(err, ErrNotConfigured):
		span.SetAttributes(attribute.Bool("provider.skipped", true))
		g.log.Debug().Str("provider", p.Name()).Msg("provider not configured, skipping")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Warn().Str("provider", p.Name()).Err(err).Msg("provider failed, falling through")
	}
	return "", err
}

func hasConversationTurn(history []domain.Turn) bool {
	for _, t := range history {
		if t.Role != domain.RoleSystem {
			return true
		}
	}
	return false
}
