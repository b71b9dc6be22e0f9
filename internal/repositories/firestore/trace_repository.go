package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/homefit-remodel/api/internal/domain"
	pfirestore "github.com/homefit-remodel/api/internal/platform/firestore"
	"github.com/homefit-remodel/api/internal/repositories"
)

const (
	traceSessionsCollection = "traceSessions"
	traceQuestionsSegment   = "questions"
)

type traceSessionDocument struct {
	LastIndex int64             `firestore:"lastIndex"`
	Answers   map[string]string `firestore:"answers"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

type traceQuestionDocument struct {
	QuestionCode string    `firestore:"questionCode"`
	Index        int64     `firestore:"index"`
	AskedAt      time.Time `firestore:"askedAt"`
}

// TraceRepository stores questionnaire traces as traceSessions/{sessionId} with a
// questions subcollection. The session document carries the last assigned index.
type TraceRepository struct {
	provider *pfirestore.Provider
	sessions *pfirestore.Collection[traceSessionDocument]
	now      func() time.Time
}

var _ repositories.TraceRepository = (*TraceRepository)(nil)

// NewTraceRepository constructs a Firestore-backed trace repository.
func NewTraceRepository(provider *pfirestore.Provider, clock func() time.Time) (*TraceRepository, error) {
	if provider == nil {
		return nil, errors.New("trace repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &TraceRepository{
		provider: provider,
		sessions: pfirestore.NewCollection[traceSessionDocument](provider, traceSessionsCollection),
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

func (r *TraceRepository) questions(sessionID string) *pfirestore.Collection[traceQuestionDocument] {
	return pfirestore.Child[traceQuestionDocument](r.sessions, sessionID, traceQuestionsSegment)
}

func questionDocID(index int64) string {
	return fmt.Sprintf("%010d", index)
}

// AppendQuestion assigns the next index inside a transaction so concurrent appends never share one.
func (r *TraceRepository) AppendQuestion(ctx context.Context, sessionID, questionCode string) (domain.QuestionLogEntry, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return domain.QuestionLogEntry{}, errors.New("trace repository: session id is required")
	}
	askedAt := r.now()
	var entry domain.QuestionLogEntry

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		sessionRef, err := r.sessions.Ref(ctx, id)
		if err != nil {
			return err
		}

		var last int64
		snapshot, err := tx.Get(sessionRef)
		switch status.Code(err) {
		case codes.NotFound:
		case codes.OK:
			var doc traceSessionDocument
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore traceSessions decode %s: %w", id, err)
			}
			last = doc.LastIndex
		default:
			return err
		}

		next := last + 1
		questionRef, err := r.questions(id).Ref(ctx, questionDocID(next))
		if err != nil {
			return err
		}
		if err := tx.Set(sessionRef, map[string]any{
			"lastIndex": next,
			"updatedAt": askedAt,
		}, firestore.MergeAll); err != nil {
			return err
		}
		if err := tx.Create(questionRef, traceQuestionDocument{
			QuestionCode: questionCode,
			Index:        next,
			AskedAt:      askedAt,
		}); err != nil {
			return err
		}
		entry = domain.QuestionLogEntry{
			SessionID:    id,
			QuestionCode: questionCode,
			Index:        next,
			AskedAt:      askedAt,
		}
		return nil
	})
	if err != nil {
		return domain.QuestionLogEntry{}, pfirestore.WrapError("traceSessions.appendQuestion", err)
	}
	return entry, nil
}

// SaveAnswer merges one answer into the session document. A later call for the same question wins.
func (r *TraceRepository) SaveAnswer(ctx context.Context, sessionID, questionCode, value string) error {
	id := strings.TrimSpace(sessionID)
	ref, err := r.sessions.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]any{
		"answers":   map[string]any{questionCode: value},
		"updatedAt": r.now(),
	}, firestore.MergeAll)
	return pfirestore.WrapError("traceSessions.saveAnswer", err)
}

func (r *TraceRepository) LoadTrace(ctx context.Context, sessionID string) (domain.DecisionTrace, error) {
	id := strings.TrimSpace(sessionID)
	trace := domain.DecisionTrace{SessionID: id, Answers: map[string]string{}}

	doc, err := r.sessions.Get(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return trace, nil
		}
		return domain.DecisionTrace{}, err
	}
	for code, value := range doc.Data.Answers {
		trace.Answers[code] = value
	}

	questions, err := r.questions(id).OrderedBy(ctx, "index")
	if err != nil {
		return domain.DecisionTrace{}, err
	}
	trace.Questions = make([]domain.QuestionLogEntry, 0, len(questions))
	for _, q := range questions {
		trace.Questions = append(trace.Questions, domain.QuestionLogEntry{
			SessionID:    id,
			QuestionCode: q.Data.QuestionCode,
			Index:        q.Data.Index,
			AskedAt:      q.Data.AskedAt.UTC(),
		})
	}
	return trace, nil
}
