package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"didi-mentor/internal/domain"
)

const defaultTimeout = 15 * time.Second

// chatRequest is the body posted to the proxy endpoint.
type chatRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
	TopicID  string               `json:"topicId"`
}

// chatResponse is the minimal body the proxy returns on success.
type chatResponse struct {
	Text string `json:"text"`
}

// HTTPStatusError captures non-2xx proxy responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("proxy: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// ErrEmptyReply is returned when a 2xx response carries no text.
var ErrEmptyReply = errors.New("proxy: empty reply text")

// Client posts conversation history to a server-side proxy that holds the
// model credentials.
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the request timeout. It is applied to a copy of the final
// HTTP client, so it composes with WithHTTPClient in either order. Timeouts
// are the only bound on a proxy call; the gateway does not add its own.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(url string, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("proxy: url must not be empty")
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := http.Client{}
		if c.httpClient != nil {
			hc = *c.httpClient
		}
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// Chat sends the full message list and topic id and returns the reply text.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage, topicID string) (string, error) {
	body, err := json.Marshal(chatRequest{Messages: messages, TopicID: topicID})
	if err != nil {
		return "", fmt.Errorf("proxy: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("proxy: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	raw, err := c.doJSONRequest(req)
	if err != nil {
		return "", fmt.Errorf("proxy: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("proxy: decode response: %w", err)
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func (c *Client) doJSONRequest(req *http.Request) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        c.url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
