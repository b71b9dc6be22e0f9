package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/repositories"
)

// InsufficientHistoryMessage is returned verbatim when a session has no usable history.
const InsufficientHistoryMessage = "Not enough answer history to explain this estimate yet."

const answerPlaceholder = "{answer}"

// Explanation is the rendered decision trace of a session.
type Explanation struct {
	SessionID  string   `json:"sessionId"`
	Text       string   `json:"text"`
	Lines      []string `json:"lines"`
	Sufficient bool     `json:"sufficient"`
}

// TraceExplainer renders catalog templates against a session's question log and answers.
type TraceExplainer struct {
	traces   repositories.TraceRepository
	catalog  *catalog.Catalog
	printer  *message.Printer
	sanitize *bluemonday.Policy
	logger   func(context.Context, string, map[string]any)
}

type TraceExplainerDeps struct {
	Traces   repositories.TraceRepository
	Catalog  *catalog.Catalog
	Language language.Tag
	Logger   func(context.Context, string, map[string]any)
}

func NewTraceExplainer(deps TraceExplainerDeps) (*TraceExplainer, error) {
	if deps.Traces == nil {
		return nil, errors.New("trace explainer: trace repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("trace explainer: catalog is required")
	}
	tag := deps.Language
	if tag == language.Und {
		tag = language.English
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TraceExplainer{
		traces:   deps.Traces,
		catalog:  deps.Catalog,
		printer:  message.NewPrinter(tag),
		sanitize: bluemonday.StrictPolicy(),
		logger:   logger,
	}, nil
}

// Explain loads the session trace and renders it. Unknown sessions yield the
// insufficient-history message rather than an error.
func (e *TraceExplainer) Explain(ctx context.Context, sessionID string) (Explanation, error) {
	trace, err := e.traces.LoadTrace(ctx, sessionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return Explanation{}, fmt.Errorf("trace explainer: load trace %s: %w", sessionID, err)
		}
		trace = domain.DecisionTrace{SessionID: sessionID}
	}
	if trace.SessionID == "" {
		trace.SessionID = sessionID
	}

	explanation, err := e.ExplainTrace(trace)
	if errors.Is(err, ErrInsufficientHistory) {
		e.logger(ctx, "explain.insufficient_history", map[string]any{
			"sessionId": sessionID,
			"questions": len(trace.Questions),
			"answers":   len(trace.Answers),
		})
		return explanation, nil
	}
	return explanation, err
}

// ExplainTrace renders one line per logged question that has a template and either an
// answer or an always-relevant template. Repeated questions render once at their first index.
// It returns ErrInsufficientHistory together with the fixed message when nothing can be rendered.
func (e *TraceExplainer) ExplainTrace(trace domain.DecisionTrace) (Explanation, error) {
	insufficient := Explanation{
		SessionID: trace.SessionID,
		Text:      InsufficientHistoryMessage,
		Lines:     []string{},
	}
	if trace.Empty() {
		return insufficient, ErrInsufficientHistory
	}

	questions := append([]domain.QuestionLogEntry(nil), trace.Questions...)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Index < questions[j].Index })

	var lines []string
	rendered := make(map[string]struct{}, len(questions))
	for _, entry := range questions {
		if _, done := rendered[entry.QuestionCode]; done {
			continue
		}
		template, ok := e.catalog.Template(entry.QuestionCode)
		if !ok {
			continue
		}
		answer, answered := trace.Answers[entry.QuestionCode]
		if !answered && !template.Always {
			continue
		}
		rendered[entry.QuestionCode] = struct{}{}
		lines = append(lines, strings.ReplaceAll(template.Text, answerPlaceholder, e.formatAnswer(answer)))
	}
	if len(lines) == 0 {
		return insufficient, ErrInsufficientHistory
	}

	numbered := make([]string, len(lines))
	for i, line := range lines {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, line)
	}
	return Explanation{
		SessionID:  trace.SessionID,
		Text:       strings.Join(numbered, "\n"),
		Lines:      lines,
		Sufficient: true,
	}, nil
}

// formatAnswer strips markup from the answer. Explanations are plain text, so the
// entities the policy emits are decoded again.
func (e *TraceExplainer) formatAnswer(answer string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(e.sanitize.Sanitize(answer)))
	if n, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return e.printer.Sprintf("%d", n)
	}
	return cleaned
}
