package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"didi-mentor/internal/integrations/paramstore"
)

type fakeKeys struct {
	val   string
	err   error
	calls int
}

func (f *fakeKeys) Token(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func newServer(t *testing.T, status int, body string, seen *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			*seen = string(raw)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}, opts...)
	return NewClient("gemini-test", opts...)
}

func TestNewClient_DefaultModel(t *testing.T) {
	c := NewClient(" ")
	require.Equal(t, DefaultModel, c.Model())
	require.False(t, c.Configured())
}

func TestConfigured(t *testing.T) {
	require.True(t, NewClient("", WithAPIKey("k")).Configured())
	require.True(t, NewClient("", WithParamStore(&fakeKeys{}, "/didi/gemini-key")).Configured())
	require.False(t, NewClient("", WithParamStore(&fakeKeys{}, " ")).Configured())
}

func TestGenerate_HappyPath(t *testing.T) {
	var body string
	srv := newServer(t, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"शाबाश "},{"text":"बहन!"}]}}]}`, &body)
	c := newTestClient(srv, WithAPIKey("key-1"))

	out, err := c.Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	require.Equal(t, "शाबाश बहन!", out)
	require.Contains(t, body, "prompt text")
}

func TestGenerate_NoCandidates(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"candidates":[]}`, nil)
	c := newTestClient(srv, WithAPIKey("key-1"))

	_, err := c.Generate(context.Background(), "prompt")
	require.ErrorIs(t, err, ErrNoCandidate)
}

func TestGenerate_ServerError(t *testing.T) {
	srv := newServer(t, http.StatusInternalServerError, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`, nil)
	c := newTestClient(srv, WithAPIKey("key-1"))

	_, err := c.Generate(context.Background(), "prompt")
	require.Error(t, err)
	require.Contains(t, err.Error(), "generate content")
}

func TestGenerate_NoKey(t *testing.T) {
	c := NewClient("")
	_, err := c.Generate(context.Background(), "prompt")
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestGenerate_KeyFromParamStoreFetchedOnce(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`, nil)
	g := &fakeKeys{val: "key-from-ssm"}
	c := newTestClient(srv, WithParamStore(g, "/didi/gemini-key"))

	for i := 0; i < 3; i++ {
		out, err := c.Generate(context.Background(), "prompt")
		require.NoError(t, err)
		require.Equal(t, "ok", out)
	}
	require.Equal(t, 1, g.calls)
}

func TestResolveAPIKey(t *testing.T) {
	c := NewClient("", WithParamStore(&fakeKeys{err: errors.New("ssm unavailable")}, "p"))
	_, err := c.resolveAPIKey(context.Background())
	require.ErrorContains(t, err, "ssm unavailable")

	c = NewClient("", WithParamStore(&fakeKeys{err: fmt.Errorf("wrapped: %w", paramstore.ErrNotFound)}, "p"))
	_, err = c.resolveAPIKey(context.Background())
	require.ErrorIs(t, err, ErrNoAPIKey)

	c = NewClient("", WithAPIKey("inline"), WithParamStore(&fakeKeys{val: "from-ssm"}, "p"))
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "inline", key)
}

func TestFirstCandidateText_NilContent(t *testing.T) {
	_, err := firstCandidateText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}})
	require.ErrorIs(t, err, ErrNoCandidate)
	_, err = firstCandidateText(nil)
	require.ErrorIs(t, err, ErrNoCandidate)
}

type flakyKeys struct {
	failures int
	val      string
	calls    int
}

func (f *flakyKeys) Token(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("ssm: throttled")
	}
	return f.val, nil
}

func TestGenerate_RetriesKeyFetchAfterFailure(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`, nil)
	g := &flakyKeys{failures: 1, val: "key-from-ssm"}
	c := newTestClient(srv, WithParamStore(g, "/didi/gemini-key"))

	_, err := c.Generate(context.Background(), "prompt")
	require.ErrorContains(t, err, "throttled")

	for i := 0; i < 2; i++ {
		out, err := c.Generate(context.Background(), "prompt")
		require.NoError(t, err)
		require.Equal(t, "ok", out)
	}
	require.Equal(t, 2, g.calls)
}
