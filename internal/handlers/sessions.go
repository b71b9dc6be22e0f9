package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/homefit-remodel/api/internal/platform/httpx"
	"github.com/homefit-remodel/api/internal/platform/requestctx"
	"github.com/homefit-remodel/api/internal/repositories"
	"github.com/homefit-remodel/api/internal/services"
)

const maxSessionBodySize = 8 * 1024

// SessionHandlers exposes the questionnaire trace endpoints.
type SessionHandlers struct {
	sessions services.SessionRecorder
}

// NewSessionHandlers constructs the session endpoints.
func NewSessionHandlers(sessions services.SessionRecorder) *SessionHandlers {
	return &SessionHandlers{sessions: sessions}
}

// Routes registers the /sessions endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{sessionId}/questions", h.recordQuestion)
	r.Put("/{sessionId}/answers/{questionCode}", h.recordAnswer)
	r.Get("/{sessionId}/explanation", h.explain)
}

func (h *SessionHandlers) recordQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service unavailable", http.StatusServiceUnavailable))
		return
	}
	sessionID := chi.URLParam(r, "sessionId")
	requestctx.Annotate(ctx, "session_id", sessionID)

	var req recordQuestionRequest
	if err := httpx.DecodeJSON(r, maxSessionBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	entry, err := h.sessions.RecordQuestion(ctx, sessionID, req.QuestionCode)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	requestctx.Annotate(ctx, "question_index", strconv.FormatInt(entry.Index, 10))

	httpx.WriteJSON(w, http.StatusCreated, questionLogPayload{
		SessionID:    entry.SessionID,
		QuestionCode: entry.QuestionCode,
		Index:        entry.Index,
		AskedAt:      formatTime(entry.AskedAt),
	})
}

func (h *SessionHandlers) recordAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service unavailable", http.StatusServiceUnavailable))
		return
	}
	sessionID := chi.URLParam(r, "sessionId")
	questionCode := chi.URLParam(r, "questionCode")
	requestctx.Annotate(ctx, "session_id", sessionID)

	var req recordAnswerRequest
	if err := httpx.DecodeJSON(r, maxSessionBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	if err := h.sessions.RecordAnswer(ctx, sessionID, questionCode, req.Value); err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandlers) explain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_service_unavailable", "session service unavailable", http.StatusServiceUnavailable))
		return
	}
	sessionID := chi.URLParam(r, "sessionId")
	requestctx.Annotate(ctx, "session_id", sessionID)

	explanation, err := h.sessions.Explain(ctx, sessionID)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildExplanationPayload(explanation))
}

type recordQuestionRequest struct {
	QuestionCode string `json:"question_code"`
}

type recordAnswerRequest struct {
	Value string `json:"value"`
}

type questionLogPayload struct {
	SessionID    string `json:"session_id"`
	QuestionCode string `json:"question_code"`
	Index        int64  `json:"index"`
	AskedAt      string `json:"asked_at,omitempty"`
}

type explanationPayload struct {
	SessionID  string   `json:"session_id"`
	Text       string   `json:"text"`
	Lines      []string `json:"lines"`
	Sufficient bool     `json:"sufficient"`
}

func buildExplanationPayload(explanation services.Explanation) explanationPayload {
	lines := explanation.Lines
	if lines == nil {
		lines = []string{}
	}
	return explanationPayload{
		SessionID:  explanation.SessionID,
		Text:       explanation.Text,
		Lines:      lines,
		Sufficient: explanation.Sufficient,
	}
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	var invalid *services.InputValidationError
	if errors.As(err, &invalid) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid session request", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": invalid.Fields}))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("session_conflict", "concurrent update, retry the request", http.StatusConflict))
			return
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("trace_store_unavailable", "trace store unavailable", http.StatusServiceUnavailable))
			return
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process session request", http.StatusInternalServerError))
	}
}
