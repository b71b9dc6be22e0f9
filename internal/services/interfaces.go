package services

import (
	"context"

	domain "github.com/homefit-remodel/api/internal/domain"
)

// SystemHealthReport aliases the domain health report for handler consumption.
type SystemHealthReport = domain.SystemHealthReport

// SystemService exposes health information and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	Build() BuildInfo
}

// Estimator produces, verifies and grades estimates.
type Estimator interface {
	Estimate(ctx context.Context, cmd EstimateCommand) (EstimateReport, error)
	Verify(ctx context.Context, cmd EstimateCommand, expectedOutputHash string) (VerifyResult, error)
	RecommendGrade(ctx context.Context, profile domain.HouseProfile, prefs domain.Preferences) (GradeDecision, error)
}

// SessionRecorder records questionnaire traces and explains them.
type SessionRecorder interface {
	RecordQuestion(ctx context.Context, sessionID, questionCode string) (domain.QuestionLogEntry, error)
	RecordAnswer(ctx context.Context, sessionID, questionCode, value string) error
	Explain(ctx context.Context, sessionID string) (Explanation, error)
}

var (
	_ Estimator       = (*EstimateService)(nil)
	_ SessionRecorder = (*SessionService)(nil)
)
