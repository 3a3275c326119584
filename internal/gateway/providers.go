package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"didi-mentor/internal/domain"
	"didi-mentor/internal/integrations/gemini"
	"didi-mentor/internal/prompt"
)

const (
	ProviderProxy  = "proxy"
	ProviderDirect = "direct"
	ProviderMock   = "mock"

	// DefaultDirectTimeout keeps a stalled model call from freezing a live call.
	DefaultDirectTimeout = 8 * time.Second
)

// genericTeachingPrompt is the deterministic fallback for topics without a
// reply pool.
const genericTeachingPrompt = "चलिए एक छोटा सा सवाल करते हैं। पैसे बचाने का सबसे सुरक्षित तरीका कौन सा है? " +
	"(क) घर में गद्दे के नीचे रखना, (ख) बैंक खाते में जमा करना, (ग) किसी को उधार दे देना। " +
	"सोचकर अपना जवाब बताइए।"

// ProxyChatter is satisfied by proxy.Client.
type ProxyChatter interface {
	Chat(ctx context.Context, messages []domain.ChatMessage, topicID string) (string, error)
}

// ProxyProvider forwards the full history to a server-side proxy. A nil
// client means no proxy URL was configured.
type ProxyProvider struct {
	client ProxyChatter
}

func NewProxyProvider(client ProxyChatter) *ProxyProvider {
	return &ProxyProvider{client: client}
}

func (p *ProxyProvider) Name() string { return ProviderProxy }

func (p *ProxyProvider) Generate(ctx context.Context, req Request) (string, error) {
	if p.client == nil {
		return "", ErrNotConfigured
	}
	return p.client.Chat(ctx, domain.ChatMessages(req.History), req.TopicID)
}

// DirectGenerator is satisfied by gemini.Client.
type DirectGenerator interface {
	Configured() bool
	Generate(ctx context.Context, prompt string) (string, error)
}

// DirectProvider calls the model API with a single flattened prompt under a
// fixed timeout.
type DirectProvider struct {
	client  DirectGenerator
	timeout time.Duration
}

func NewDirectProvider(client DirectGenerator, timeout time.Duration) *DirectProvider {
	if timeout <= 0 {
		timeout = DefaultDirectTimeout
	}
	return &DirectProvider{client: client, timeout: timeout}
}

func (p *DirectProvider) Name() string { return ProviderDirect }

func (p *DirectProvider) Generate(ctx context.Context, req Request) (string, error) {
	if p.client == nil || !p.client.Configured() {
		return "", ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.client.Generate(ctx, BuildDirectPrompt(req.History, req.TopicID))
	switch {
	case errors.Is(err, gemini.ErrNoAPIKey):
		return "", ErrNotConfigured
	case errors.Is(err, gemini.ErrNoCandidate):
		return "", fmt.Errorf("direct: %w: %v", ErrMalformedResponse, err)
	case err != nil:
		return "", fmt.Errorf("direct: %w", err)
	}
	return text, nil
}

// BuildDirectPrompt embeds the system instruction and a serialized transcript
// into one user message. The system turn in history wins over the catalog
// because it carries the personalization applied at session start.
func BuildDirectPrompt(history []domain.Turn, topicID string) string {
	system := ""
	var transcript strings.Builder
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		switch t.Role {
		case domain.RoleSystem:
			if system == "" {
				system = text
			}
			continue
		case domain.RoleAssistant:
			transcript.WriteString("दीदी: ")
		default:
			transcript.WriteString("बहन: ")
		}
		transcript.WriteString(text)
		transcript.WriteString("\n")
	}
	if system == "" {
		system = prompt.Lookup(topicID).System
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(system))
	b.WriteString("\n\nअब तक की बातचीत:\n")
	b.WriteString(transcript.String())
	b.WriteString("\nदीदी का अगला जवाब सिर्फ़ बोले जाने वाले शब्दों में, दो-तीन छोटे वाक्यों में लिखें।\nदीदी:")
	return b.String()
}

// MockProvider always answers from the static topic pools.
type MockProvider struct {
	intN func(n int) int
}

type MockOption func(*MockProvider)

// WithPicker replaces the pseudo-random index source.
func WithPicker(intN func(n int) int) MockOption {
	return func(p *MockProvider) {
		if intN != nil {
			p.intN = intN
		}
	}
}

func NewMockProvider(opts ...MockOption) *MockProvider {
	p := &MockProvider{intN: rand.IntN}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MockProvider) Name() string { return ProviderMock }

func (p *MockProvider) Generate(_ context.Context, req Request) (string, error) {
	replies := prompt.Topic(req.TopicID).Replies
	if len(replies) == 0 {
		return genericTeachingPrompt, nil
	}
	i := p.intN(len(replies))
	if i < 0 || i >= len(replies) {
		i = 0
	}
	return replies[i], nil
}
