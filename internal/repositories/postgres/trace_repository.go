package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/repositories"
)

const (
	// The upsert takes a row lock on the session so concurrent appends serialise on it.
	nextIndexSQL = `INSERT INTO trace_sessions (session_id, last_index, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (session_id) DO UPDATE
		SET last_index = trace_sessions.last_index + 1, updated_at = EXCLUDED.updated_at
		RETURNING last_index`
	insertQuestionSQL = `INSERT INTO trace_questions (session_id, idx, question_code, asked_at) VALUES ($1, $2, $3, $4)`
	upsertAnswerSQL   = `INSERT INTO trace_answers (session_id, question_code, value, answered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, question_code) DO UPDATE
		SET value = EXCLUDED.value, answered_at = EXCLUDED.answered_at`
	selectQuestionsSQL = `SELECT idx, question_code, asked_at FROM trace_questions WHERE session_id = $1 ORDER BY idx`
	selectAnswersSQL   = `SELECT question_code, value FROM trace_answers WHERE session_id = $1`
)

// TraceRepository stores question logs and answers in the trace_* tables.
type TraceRepository struct {
	db  DB
	now func() time.Time
}

var _ repositories.TraceRepository = (*TraceRepository)(nil)

// NewTraceRepository constructs a Postgres-backed trace repository. A nil clock uses time.Now.
func NewTraceRepository(db DB, clock func() time.Time) (*TraceRepository, error) {
	if db == nil {
		return nil, errors.New("trace repository requires postgres pool")
	}
	if clock == nil {
		clock = time.Now
	}
	return &TraceRepository{db: db, now: func() time.Time { return clock().UTC() }}, nil
}

func (r *TraceRepository) AppendQuestion(ctx context.Context, sessionID, questionCode string) (domain.QuestionLogEntry, error) {
	id := strings.TrimSpace(sessionID)
	entry := domain.QuestionLogEntry{SessionID: id, QuestionCode: questionCode, AskedAt: r.now()}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, nextIndexSQL, id, entry.AskedAt).Scan(&entry.Index); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertQuestionSQL, id, entry.Index, questionCode, entry.AskedAt)
		return err
	})
	if err != nil {
		return domain.QuestionLogEntry{}, wrapError("traces.appendQuestion", err)
	}
	return entry, nil
}

func (r *TraceRepository) SaveAnswer(ctx context.Context, sessionID, questionCode, value string) error {
	_, err := r.db.Exec(ctx, upsertAnswerSQL, strings.TrimSpace(sessionID), questionCode, value, r.now())
	return wrapError("traces.saveAnswer", err)
}

func (r *TraceRepository) LoadTrace(ctx context.Context, sessionID string) (domain.DecisionTrace, error) {
	id := strings.TrimSpace(sessionID)
	trace := domain.DecisionTrace{SessionID: id, Answers: map[string]string{}}

	rows, err := r.db.Query(ctx, selectQuestionsSQL, id)
	if err != nil {
		return domain.DecisionTrace{}, wrapError("traces.load", err)
	}
	for rows.Next() {
		entry := domain.QuestionLogEntry{SessionID: id}
		if err := rows.Scan(&entry.Index, &entry.QuestionCode, &entry.AskedAt); err != nil {
			rows.Close()
			return domain.DecisionTrace{}, wrapError("traces.load", err)
		}
		entry.AskedAt = entry.AskedAt.UTC()
		trace.Questions = append(trace.Questions, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.DecisionTrace{}, wrapError("traces.load", err)
	}

	rows, err = r.db.Query(ctx, selectAnswersSQL, id)
	if err != nil {
		return domain.DecisionTrace{}, wrapError("traces.load", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code, value string
		if err := rows.Scan(&code, &value); err != nil {
			return domain.DecisionTrace{}, wrapError("traces.load", err)
		}
		trace.Answers[code] = value
	}
	if err := rows.Err(); err != nil {
		return domain.DecisionTrace{}, wrapError("traces.load", err)
	}
	return trace, nil
}
