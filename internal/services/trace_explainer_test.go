package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/repositories"
)

func newTestExplainer(t *testing.T, traces repositories.TraceRepository) *TraceExplainer {
	t.Helper()
	explainer, err := NewTraceExplainer(TraceExplainerDeps{Traces: traces, Catalog: mustDefaultCatalog(t)})
	if err != nil {
		t.Fatalf("NewTraceExplainer error: %v", err)
	}
	return explainer
}

func TestTraceExplainerInsufficientHistory(t *testing.T) {
	logs := &logRecorder{}
	explainer, err := NewTraceExplainer(TraceExplainerDeps{
		Traces:  newMemoryTraceRepository(),
		Catalog: mustDefaultCatalog(t),
		Logger:  logs.log,
	})
	if err != nil {
		t.Fatalf("NewTraceExplainer error: %v", err)
	}

	explanation, err := explainer.Explain(context.Background(), "empty-session")
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}
	if explanation.Text != InsufficientHistoryMessage {
		t.Fatalf("expected fixed message, got %q", explanation.Text)
	}
	if explanation.Sufficient || explanation.Lines == nil {
		t.Fatalf("expected insufficient explanation with empty lines, got %+v", explanation)
	}
	if !logs.has("explain.insufficient_history") {
		t.Fatalf("expected insufficient history to be logged")
	}

	_, err = explainer.ExplainTrace(domain.DecisionTrace{SessionID: "empty-session"})
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestTraceExplainerRendersTemplatesInQuestionOrder(t *testing.T) {
	ctx := context.Background()
	traces := newMemoryTraceRepository()
	for _, code := range []string{"Q_BUDGET", "Q_COOKING", "Q_UNKNOWN", "Q_MATERIALS", "Q_VAT", "Q_BUDGET"} {
		if _, err := traces.AppendQuestion(ctx, "s-1", code); err != nil {
			t.Fatalf("AppendQuestion error: %v", err)
		}
	}
	_ = traces.SaveAnswer(ctx, "s-1", "Q_BUDGET", "4500")
	_ = traces.SaveAnswer(ctx, "s-1", "Q_COOKING", "<b>daily</b>")
	_ = traces.SaveAnswer(ctx, "s-1", "Q_UNKNOWN", "ignored")

	explanation, err := newTestExplainer(t, traces).Explain(ctx, "s-1")
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}
	want := []string{
		"You set a budget of up to 4,500 (10,000 KRW), which weighs 40% in the grade decision.",
		`Cooking "daily" is reflected in the kitchen ventilation choice.`,
		"All totals include 10% VAT.",
	}
	if len(explanation.Lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), explanation.Lines)
	}
	for i := range want {
		if explanation.Lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], explanation.Lines[i])
		}
	}
	if !strings.HasPrefix(explanation.Text, "1. You set a budget") || !strings.Contains(explanation.Text, "\n3. All totals") {
		t.Fatalf("expected numbered text, got %q", explanation.Text)
	}
	if !explanation.Sufficient {
		t.Fatalf("expected sufficient explanation")
	}
}

func TestTraceExplainerQuestionsWithoutAnswers(t *testing.T) {
	ctx := context.Background()
	traces := newMemoryTraceRepository()
	_, _ = traces.AppendQuestion(ctx, "s-2", "Q_VAT")
	_, _ = traces.AppendQuestion(ctx, "s-2", "Q_BUDGET")

	explanation, err := newTestExplainer(t, traces).Explain(ctx, "s-2")
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}
	if explanation.Text != InsufficientHistoryMessage {
		t.Fatalf("expected fixed message without answers, got %q", explanation.Text)
	}
}

func TestTraceExplainerRepositoryErrors(t *testing.T) {
	traces := newMemoryTraceRepository()
	traces.loadErr = repositories.NotFound("traces.load", "session missing")
	explainer := newTestExplainer(t, traces)

	explanation, err := explainer.Explain(context.Background(), "gone")
	if err != nil {
		t.Fatalf("expected not-found to be treated as empty history, got %v", err)
	}
	if explanation.Text != InsufficientHistoryMessage {
		t.Fatalf("expected fixed message, got %q", explanation.Text)
	}

	traces.loadErr = repositories.NewStoreError("traces.load", repositories.StoreErrorUnavailable, "backend down", errors.New("dial tcp"))
	if _, err := explainer.Explain(context.Background(), "gone"); err == nil {
		t.Fatalf("expected unavailable store to surface an error")
	}
}

func TestTraceExplainerKeepsAnswerPunctuationAsPlainText(t *testing.T) {
	ctx := context.Background()
	traces := newMemoryTraceRepository()
	if _, err := traces.AppendQuestion(ctx, "s-amp", "Q_MATERIALS"); err != nil {
		t.Fatalf("AppendQuestion error: %v", err)
	}
	_ = traces.SaveAnswer(ctx, "s-amp", "Q_MATERIALS", `<i>oak</i> & "walnut" it's`)

	explanation, err := newTestExplainer(t, traces).Explain(ctx, "s-amp")
	if err != nil {
		t.Fatalf("Explain error: %v", err)
	}
	want := `1. Your material preference "oak & "walnut" it's" was recorded for finish selection.`
	if explanation.Text != want {
		t.Fatalf("expected %q, got %q", want, explanation.Text)
	}
	if strings.Contains(explanation.Text, "&amp;") || strings.Contains(explanation.Text, "&#34;") {
		t.Fatalf("explanation must not carry HTML entities: %q", explanation.Text)
	}
}
