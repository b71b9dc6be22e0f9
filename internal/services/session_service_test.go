package services

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestSessionService(t *testing.T) (*SessionService, *memoryTraceRepository) {
	t.Helper()
	traces := newMemoryTraceRepository()
	svc, err := NewSessionService(SessionServiceDeps{
		Traces:    traces,
		Explainer: newTestExplainer(t, traces),
	})
	if err != nil {
		t.Fatalf("NewSessionService error: %v", err)
	}
	return svc, traces
}

func TestSessionServiceRecordsQuestionsInOrder(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	first, err := svc.RecordQuestion(ctx, " sess-9 ", "Q_BUDGET")
	if err != nil {
		t.Fatalf("RecordQuestion error: %v", err)
	}
	second, err := svc.RecordQuestion(ctx, "sess-9", "Q_PURPOSE")
	if err != nil {
		t.Fatalf("RecordQuestion error: %v", err)
	}
	if first.SessionID != "sess-9" || second.Index <= first.Index {
		t.Fatalf("expected increasing indexes, got %+v then %+v", first, second)
	}
}

func TestSessionServiceValidatesIdentifiers(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	_, err := svc.RecordQuestion(ctx, "bad id", "Q/BUDGET")
	var verr *InputValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected InputValidationError, got %v", err)
	}
	if _, ok := verr.Fields["sessionId"]; !ok {
		t.Fatalf("expected sessionId error, got %v", verr.Fields)
	}
	if _, ok := verr.Fields["questionCode"]; !ok {
		t.Fatalf("expected questionCode error, got %v", verr.Fields)
	}

	if _, err := svc.Explain(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty session, got %v", err)
	}
}

func TestSessionServiceRecordAnswerValidation(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	err := svc.RecordAnswer(ctx, "sess-1", "Q_BUDGET", "  ")
	var verr *InputValidationError
	if !errors.As(err, &verr) || verr.Fields["value"] != "is required" {
		t.Fatalf("expected required value error, got %v", err)
	}

	err = svc.RecordAnswer(ctx, "", "Q_BUDGET", strings.Repeat("x", maxAnswerLength+1))
	if !errors.As(err, &verr) {
		t.Fatalf("expected InputValidationError, got %v", err)
	}
	if verr.Fields["value"] != "is too long" || verr.Fields["sessionId"] == "" {
		t.Fatalf("expected value and session errors, got %v", verr.Fields)
	}
}

func TestSessionServiceExplainRoundTrip(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	explanation, err := svc.Explain(ctx, "fresh")
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}
	if explanation.Text != InsufficientHistoryMessage {
		t.Fatalf("expected fixed message for a fresh session, got %q", explanation.Text)
	}

	if _, err := svc.RecordQuestion(ctx, "fresh", "Q_PURPOSE"); err != nil {
		t.Fatalf("RecordQuestion error: %v", err)
	}
	if err := svc.RecordAnswer(ctx, "fresh", "Q_PURPOSE", "longterm"); err != nil {
		t.Fatalf("RecordAnswer error: %v", err)
	}
	if err := svc.RecordAnswer(ctx, "fresh", "Q_PURPOSE", "resale"); err != nil {
		t.Fatalf("RecordAnswer error: %v", err)
	}

	explanation, err = svc.Explain(ctx, "fresh")
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}
	want := `1. Remodeling for "resale" contributed 30% of the grade score.`
	if explanation.Text != want {
		t.Fatalf("expected %q, got %q", want, explanation.Text)
	}
}

func TestNewSessionServiceRequiresDependencies(t *testing.T) {
	if _, err := NewSessionService(SessionServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}
