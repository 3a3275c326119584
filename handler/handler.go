package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"didi-mentor/internal/domain"
	"didi-mentor/internal/gateway"
	"didi-mentor/internal/logging"
	"didi-mentor/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10
)

// ReplyGenerator serves the chat route; satisfied by *gateway.Gateway.
type ReplyGenerator interface {
	Generate(ctx context.Context, history []domain.Turn, topicID string) (gateway.Reply, error)
}

// ProgressRecorder serves the progress routes; satisfied by
// *usecase.ProgressService.
type ProgressRecorder interface {
	RecordTurn(ctx context.Context, userID, sessionID string, turn domain.Turn) (usecase.Progress, error)
	RecordCall(ctx context.Context, userID string, summary domain.SessionSummary, packDelta int, now time.Time) (usecase.Progress, error)
	Stats(ctx context.Context, userID string) (domain.UserStats, error)
	SessionTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)
}

type chatRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
	TopicID  string               `json:"topicId"`
}

type chatResponse struct {
	Text    string `json:"text"`
	EndCall bool   `json:"endCall"`
	Source  string `json:"source"`
}

type turnRequest struct {
	UserID    string      `json:"userId"`
	SessionID string      `json:"sessionId"`
	Turn      domain.Turn `json:"turn"`
}

// callerClock identifies the caller's wall clock. LocalTime is RFC3339 with
// the device's offset; Timezone is an IANA name. LocalTime wins when both are
// set, and the handler's default zone applies when neither is.
type callerClock struct {
	LocalTime string `json:"localTime"`
	Timezone  string `json:"timezone"`
}

type callRequest struct {
	UserID    string                `json:"userId"`
	Summary   domain.SessionSummary `json:"summary"`
	PackDelta int                   `json:"packDelta"`
	callerClock
}

type simulateRequest struct {
	UserID     string         `json:"userId"`
	TopicID    string         `json:"topicId"`
	Profile    domain.Profile `json:"profile"`
	Utterances []string       `json:"utterances"`
	callerClock
}

type simulateResponse struct {
	SessionID string                `json:"sessionId"`
	Spoken    []spokenLine          `json:"spoken"`
	Summary   domain.SessionSummary `json:"summary"`
	Progress  usecase.Progress      `json:"progress"`
}

type spokenLine struct {
	Text   string               `json:"text"`
	Speech domain.SpeechOptions `json:"speech"`
}

type turnsResponse struct {
	SessionID string        `json:"sessionId"`
	Turns     []domain.Turn `json:"turns"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

type Handler struct {
	chat     ReplyGenerator
	progress ProgressRecorder
	log      *logging.Logger
	now      func() time.Time
	location *time.Location

	maxCallTurns int
	language     string
}

type Option func(*Handler)

// WithCallDefaults sets the turn cap and speech language for simulated calls.
func WithCallDefaults(maxTurns int, language string) Option {
	return func(h *Handler) {
		h.maxCallTurns = maxTurns
		h.language = strings.TrimSpace(language)
	}
}

// WithLocation sets the zone used for streak days and greetings when a
// request carries no clock of its own.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.location = loc
		}
	}
}

func NewHandler(chat ReplyGenerator, progress ProgressRecorder, log *logging.Logger, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: reply generator must not be nil")
	}
	if progress == nil {
		return nil, errors.New("handler: progress recorder must not be nil")
	}
	if log == nil {
		log = logging.Nop()
	}
	h := &Handler{chat: chat, progress: progress, log: log.Sub("handler"), now: time.Now, location: time.UTC}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle routes an API Gateway proxy request. Errors are always rendered into
// the response; the returned error is reserved for the Lambda runtime.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := h.log.With("correlationId", corrID)
	start := h.now()

	status, body := h.route(ctx, req, corrID)
	log.Info().
		Str("method", req.HTTPMethod).
		Str("path", req.Path).
		Int("status", status).
		Dur("elapsed", h.now().Sub(start)).
		Msg("request handled")
	return respond(status, body, corrID), nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	if len(req.Body) > maxBodyBytes {
		return errorBody(usecase.ErrorInvalidInput, "body_too_large", corrID)
	}
	path := strings.TrimRight(req.Path, "/")
	switch {
	case req.HTTPMethod == http.MethodPost && path == "/chat":
		return h.handleChat(ctx, req, corrID)
	case req.HTTPMethod == http.MethodPost && path == "/progress/turn":
		return h.handleTurn(ctx, req, corrID)
	case req.HTTPMethod == http.MethodPost && path == "/progress/call":
		return h.handleCall(ctx, req, corrID)
	case req.HTTPMethod == http.MethodPost && path == "/call/simulate":
		return h.handleSimulate(ctx, req, corrID)
	case req.HTTPMethod == http.MethodGet && path == "/progress/stats":
		return h.handleStats(ctx, req, corrID)
	case req.HTTPMethod == http.MethodGet && path == "/sessions/turns":
		return h.handleSessionTurns(ctx, req, corrID)
	}
	return http.StatusNotFound, errorResponse{Error: "NOT_FOUND", CorrelationID: corrID}
}

func (h *Handler) handleChat(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	var in chatRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return errorBody(usecase.ErrorInvalidInput, "invalid_json", corrID)
	}
	reply, err := h.chat.Generate(ctx, domain.TurnsFromMessages(in.Messages), in.TopicID)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidHistory) {
			return errorBody(usecase.ErrorInvalidHistory, "no_conversation_turn", corrID)
		}
		h.log.Error().Err(err).Str("correlationId", corrID).Msg("chat generation failed")
		return errorBody(usecase.ErrorInternal, "gateway_error", corrID)
	}
	return http.StatusOK, chatResponse{Text: reply.Text, EndCall: reply.EndCall, Source: reply.Source}
}

func (h *Handler) handleTurn(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	var in turnRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return errorBody(usecase.ErrorInvalidInput, "invalid_json", corrID)
	}
	out, err := h.progress.RecordTurn(ctx, in.UserID, in.SessionID, in.Turn)
	if err != nil {
		return h.useCaseError(err, corrID)
	}
	return http.StatusOK, out
}

func (h *Handler) handleCall(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	var in callRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return errorBody(usecase.ErrorInvalidInput, "invalid_json", corrID)
	}
	clock, err := h.callerNow(in.callerClock)
	if err != nil {
		return h.useCaseError(err, corrID)
	}
	out, err := h.progress.RecordCall(ctx, in.UserID, in.Summary, in.PackDelta, clock())
	if err != nil {
		return h.useCaseError(err, corrID)
	}
	return http.StatusOK, out
}

// handleSimulate runs a whole call against scripted user utterances, the
// same loop a device runs against live speech recognition.
func (h *Handler) handleSimulate(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	var in simulateRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return errorBody(usecase.ErrorInvalidInput, "invalid_json", corrID)
	}
	if in.Profile.Language == "" {
		in.Profile.Language = h.language
	}
	clock, err := h.callerNow(in.callerClock)
	if err != nil {
		return h.useCaseError(err, corrID)
	}
	session, err := usecase.NewSession(usecase.SessionDeps{Gateway: h.chat, Logger: h.log, Now: clock})
	if err != nil {
		return h.useCaseError(err, corrID)
	}
	sink := &speechLog{}
	deps := usecase.CallDeps{
		Session:     session,
		Transcripts: &scriptedTranscript{lines: in.Utterances},
		Speech:      sink,
		Logger:      h.log,
		UserID:      strings.TrimSpace(in.UserID),
		TopicID:     in.TopicID,
		Profile:     in.Profile,
		MaxTurns:    h.maxCallTurns,
		Now:         clock,
	}
	if deps.UserID != "" {
		deps.Progress = h.progress
	}
	res, err := usecase.RunCall(ctx, deps)
	if err != nil {
		return h.useCaseError(err, corrID)
	}
	return http.StatusOK, simulateResponse{
		SessionID: session.ID(),
		Spoken:    sink.lines,
		Summary:   res.Summary,
		Progress:  res.Progress,
	}
}

// callerNow returns a clock reading the caller's local time. A reported
// localTime is advanced by the server clock so a simulated call still moves.
func (h *Handler) callerNow(c callerClock) (func() time.Time, error) {
	if raw := strings.TrimSpace(c.LocalTime); raw != "" {
		local, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_local_time", Err: err}
		}
		received := h.now()
		return func() time.Time { return local.Add(h.now().Sub(received)) }, nil
	}
	loc := h.location
	if name := strings.TrimSpace(c.Timezone); name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			return nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_timezone", Err: err}
		}
		loc = l
	}
	return func() time.Time { return h.now().In(loc) }, nil
}

func (h *Handler) handleStats(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	stats, err := h.progress.Stats(ctx, req.QueryStringParameters["userId"])
	if err != nil {
		return h.useCaseError(err, corrID)
	}
	return http.StatusOK, stats
}

func (h *Handler) handleSessionTurns(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	sessionID := req.QueryStringParameters["sessionId"]
	turns, err := h.progress.SessionTurns(ctx, sessionID)
	if err != nil {
		return h.useCaseError(err, corrID)
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return http.StatusOK, turnsResponse{SessionID: sessionID, Turns: turns}
}

func (h *Handler) useCaseError(err error, corrID string) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		h.log.Error().Err(err).Str("correlationId", corrID).Msg("unexpected error")
		return errorBody(usecase.ErrorInternal, "", corrID)
	}
	if ucErr.Code == usecase.ErrorInternal || ucErr.Code == usecase.ErrorConflict {
		h.log.Error().Err(err).Str("correlationId", corrID).Str("reason", ucErr.Reason).Msg("request failed")
	}
	return errorBody(ucErr.Code, ucErr.Reason, corrID)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidHistory:
		return http.StatusBadRequest
	case usecase.ErrorSessionClosed, usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorBusy:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func errorBody(code usecase.ErrorCode, reason, corrID string) (int, any) {
	return statusFor(code), errorResponse{Error: string(code), Reason: reason, CorrelationID: corrID}
}

func decodeBody(body string, v any) error {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

type scriptedTranscript struct {
	lines []string
}

func (s *scriptedTranscript) Next(context.Context) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

type speechLog struct {
	lines []spokenLine
}

func (s *speechLog) Speak(_ context.Context, text string, opts domain.SpeechOptions) error {
	s.lines = append(s.lines, spokenLine{Text: text, Speech: opts})
	return nil
}
