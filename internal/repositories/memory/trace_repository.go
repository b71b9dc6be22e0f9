package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/repositories"
)

type session struct {
	questions []domain.QuestionLogEntry
	answers   map[string]string
}

// TraceRepository keeps questionnaire traces in process memory.
type TraceRepository struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

var _ repositories.TraceRepository = (*TraceRepository)(nil)

// NewTraceRepository returns an empty trace store. A nil clock uses time.Now.
func NewTraceRepository(clock func() time.Time) *TraceRepository {
	if clock == nil {
		clock = time.Now
	}
	return &TraceRepository{
		sessions: make(map[string]*session),
		now:      func() time.Time { return clock().UTC() },
	}
}

func (r *TraceRepository) sessionLocked(id string) *session {
	s, ok := r.sessions[id]
	if !ok {
		s = &session{answers: make(map[string]string)}
		r.sessions[id] = s
	}
	return s
}

func (r *TraceRepository) AppendQuestion(ctx context.Context, sessionID, questionCode string) (domain.QuestionLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuestionLogEntry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessionLocked(sessionID)
	var next int64 = 1
	if n := len(s.questions); n > 0 {
		next = s.questions[n-1].Index + 1
	}
	entry := domain.QuestionLogEntry{
		SessionID:    sessionID,
		QuestionCode: questionCode,
		Index:        next,
		AskedAt:      r.now(),
	}
	s.questions = append(s.questions, entry)
	return entry, nil
}

func (r *TraceRepository) SaveAnswer(ctx context.Context, sessionID, questionCode, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionLocked(sessionID).answers[questionCode] = value
	return nil
}

func (r *TraceRepository) LoadTrace(ctx context.Context, sessionID string) (domain.DecisionTrace, error) {
	if err := ctx.Err(); err != nil {
		return domain.DecisionTrace{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	trace := domain.DecisionTrace{SessionID: sessionID, Answers: map[string]string{}}
	s, ok := r.sessions[sessionID]
	if !ok {
		return trace, nil
	}
	trace.Questions = append([]domain.QuestionLogEntry(nil), s.questions...)
	for code, value := range s.answers {
		trace.Answers[code] = value
	}
	return trace, nil
}
