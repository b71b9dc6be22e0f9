package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/repositories"
)

const maxAnswerLength = 1000

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// SessionService records the questionnaire trace and explains it.
type SessionService struct {
	traces    repositories.TraceRepository
	explainer *TraceExplainer
	logger    func(context.Context, string, map[string]any)
}

type SessionServiceDeps struct {
	Traces    repositories.TraceRepository
	Explainer *TraceExplainer
	Logger    func(context.Context, string, map[string]any)
}

func NewSessionService(deps SessionServiceDeps) (*SessionService, error) {
	if deps.Traces == nil {
		return nil, errors.New("session service: trace repository is required")
	}
	if deps.Explainer == nil {
		return nil, errors.New("session service: explainer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SessionService{traces: deps.Traces, explainer: deps.Explainer, logger: logger}, nil
}

// RecordQuestion appends a question to the session log and returns the assigned index.
func (s *SessionService) RecordQuestion(ctx context.Context, sessionID, questionCode string) (domain.QuestionLogEntry, error) {
	sessionID = strings.TrimSpace(sessionID)
	questionCode = strings.TrimSpace(questionCode)
	if err := validateTraceKeys(sessionID, questionCode); err != nil {
		return domain.QuestionLogEntry{}, err
	}
	entry, err := s.traces.AppendQuestion(ctx, sessionID, questionCode)
	if err != nil {
		return domain.QuestionLogEntry{}, err
	}
	s.logger(ctx, "session.question_recorded", map[string]any{
		"sessionId":    sessionID,
		"questionCode": questionCode,
		"index":        entry.Index,
	})
	return entry, nil
}

// RecordAnswer stores the latest answer for a question, replacing any earlier one.
func (s *SessionService) RecordAnswer(ctx context.Context, sessionID, questionCode, value string) error {
	sessionID = strings.TrimSpace(sessionID)
	questionCode = strings.TrimSpace(questionCode)
	verr := newInputValidationError()
	if err := validateTraceKeys(sessionID, questionCode); err != nil {
		var inner *InputValidationError
		if errors.As(err, &inner) {
			verr = inner
		}
	}
	if strings.TrimSpace(value) == "" {
		verr.add("value", "is required")
	}
	if len(value) > maxAnswerLength {
		verr.add("value", "is too long")
	}
	if err := verr.orNil(); err != nil {
		return err
	}
	return s.traces.SaveAnswer(ctx, sessionID, questionCode, value)
}

// Explain renders the session's decision trace.
func (s *SessionService) Explain(ctx context.Context, sessionID string) (Explanation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if !identifierPattern.MatchString(sessionID) {
		verr := newInputValidationError()
		verr.add("sessionId", "must be 1-128 characters of letters, digits, '_', '.', ':' or '-'")
		return Explanation{}, verr
	}
	return s.explainer.Explain(ctx, sessionID)
}

func validateTraceKeys(sessionID, questionCode string) error {
	verr := newInputValidationError()
	if !identifierPattern.MatchString(sessionID) {
		verr.add("sessionId", "must be 1-128 characters of letters, digits, '_', '.', ':' or '-'")
	}
	if !identifierPattern.MatchString(questionCode) {
		verr.add("questionCode", "must be 1-128 characters of letters, digits, '_', '.', ':' or '-'")
	}
	return verr.orNil()
}
