package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"didi-mentor/internal/integrations/paramstore"
)

const DefaultModel = "gemini-2.0-flash"

var (
	// ErrNoAPIKey means neither an inline key nor a parameter store source was
	// configured.
	ErrNoAPIKey = errors.New("gemini: no api key configured")
	// ErrNoCandidate is returned when the response carries no usable text.
	ErrNoCandidate = errors.New("gemini: no candidate text in response")
)

// KeySource is satisfied by paramstore.Client.
type KeySource interface {
	Token(ctx context.Context, name string) (string, error)
}

// Client issues single-turn generateContent requests.
type Client struct {
	model      string
	baseURL    string
	httpClient *http.Client
	apiKey     string
	keys       KeySource
	keyParam   string

	mu    sync.Mutex
	genai *genai.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithParamStore resolves the key from SSM on first use when no inline key
// is set.
func WithParamStore(keys KeySource, name string) Option {
	return func(c *Client) {
		c.keys = keys
		c.keyParam = strings.TrimSpace(name)
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(model string, opts ...Option) *Client {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	c := &Client{model: model}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a key source exists. It does not contact SSM.
func (c *Client) Configured() bool {
	return c.apiKey != "" || (c.keys != nil && c.keyParam != "")
}

func (c *Client) Model() string { return c.model }

// Generate sends prompt as a single user turn and returns the first
// candidate's text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	gc, err := c.client(ctx)
	if err != nil {
		return "", err
	}

	resp, err := gc.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return firstCandidateText(resp)
}

// client resolves the key and builds the SDK client on first success. A
// failed attempt is not cached; the next call tries again.
func (c *Client) client(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.genai != nil {
		return c.genai, nil
	}

	key, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.genai = gc
	return gc, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.keys == nil || c.keyParam == "" {
		return "", ErrNoAPIKey
	}
	key, err := c.keys.Token(ctx, c.keyParam)
	switch {
	case errors.Is(err, paramstore.ErrNotFound):
		return "", ErrNoAPIKey
	case err != nil:
		return "", fmt.Errorf("gemini: fetch key from paramstore: %w", err)
	}
	return key, nil
}

func firstCandidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoCandidate
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return "", ErrNoCandidate
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrNoCandidate
	}
	return text, nil
}
