package services

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/homefit-remodel/api/internal/domain"
)

const estimateIDPrefix = "est_"

// EstimateReport is what the API returns for a successful estimate.
type EstimateReport struct {
	EstimateID   string
	Result       domain.EstimateResult
	Decision     *GradeDecision
	Traits       []domain.TraitTag
	InputHash    string
	OutputHash   string
	Explanation  *Explanation
	CalculatedAt time.Time
}

// VerifyResult reports whether a recomputation reproduced the expected output hash.
type VerifyResult struct {
	Match      bool
	InputHash  string
	OutputHash string
	Expected   string
}

// EstimateService wraps the engine with identifiers, hashing, explanations and events.
type EstimateService struct {
	engine    *EstimateEngine
	explainer *TraceExplainer
	events    EventPublisher
	idGen     func() string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

type EstimateServiceDeps struct {
	Engine    *EstimateEngine
	Explainer *TraceExplainer
	Events    EventPublisher
	IDGen     func() string
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

func NewEstimateService(deps EstimateServiceDeps) (*EstimateService, error) {
	if deps.Engine == nil {
		return nil, errors.New("estimate service: engine is required")
	}
	events := deps.Events
	if events == nil {
		events = noopEventPublisher{}
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return estimateIDPrefix + ulid.Make().String() }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &EstimateService{
		engine:    deps.Engine,
		explainer: deps.Explainer,
		events:    events,
		idGen:     idGen,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Estimate runs the engine and decorates the result. When every process fails the
// error wraps *EstimateFailure and the report is empty.
func (s *EstimateService) Estimate(ctx context.Context, cmd EstimateCommand) (EstimateReport, error) {
	outcome, err := s.engine.Calculate(ctx, cmd)
	if err != nil {
		return EstimateReport{}, err
	}

	inputHash, err := InputHash(cmd)
	if err != nil {
		return EstimateReport{}, err
	}
	outputHash, err := OutputHash(outcome.Result)
	if err != nil {
		return EstimateReport{}, err
	}

	report := EstimateReport{
		EstimateID:   s.idGen(),
		Result:       outcome.Result,
		Decision:     outcome.Decision,
		Traits:       outcome.Traits,
		InputHash:    inputHash,
		OutputHash:   outputHash,
		CalculatedAt: s.now(),
	}

	if cmd.SessionID != "" && s.explainer != nil {
		explanation, err := s.explainer.Explain(ctx, cmd.SessionID)
		if err != nil {
			s.logger(ctx, "estimate.explanation_failed", map[string]any{
				"sessionId": cmd.SessionID,
				"error":     err.Error(),
			})
		} else {
			report.Explanation = &explanation
		}
	}

	event := EstimateCalculatedEvent{
		EstimateID:   report.EstimateID,
		Grade:        report.Result.Grade,
		TotalWithVAT: report.Result.TotalWithVAT,
		BlockCount:   len(report.Result.Blocks),
		FailureCount: len(report.Result.Failures),
		InputHash:    inputHash,
		OutputHash:   outputHash,
		OccurredAt:   report.CalculatedAt,
	}
	if err := s.events.PublishEstimateCalculated(ctx, event); err != nil {
		s.logger(ctx, "estimate.event_publish_failed", map[string]any{
			"estimateId": report.EstimateID,
			"event":      EventEstimateCalculated,
			"error":      err.Error(),
		})
	}
	return report, nil
}

// Verify recomputes cmd and compares the output hash. A mismatch is logged and
// published but never corrected.
func (s *EstimateService) Verify(ctx context.Context, cmd EstimateCommand, expectedOutputHash string) (VerifyResult, error) {
	if expectedOutputHash == "" {
		verr := newInputValidationError()
		verr.add("expected_output_hash", "is required")
		return VerifyResult{}, verr
	}

	outcome, err := s.engine.Calculate(ctx, cmd)
	var failure *EstimateFailure
	if err != nil && !errors.As(err, &failure) {
		return VerifyResult{}, err
	}
	inputHash, err := InputHash(cmd)
	if err != nil {
		return VerifyResult{}, err
	}
	actual, err := OutputHash(outcome.Result)
	if err != nil {
		return VerifyResult{}, err
	}

	result := VerifyResult{
		Match:      actual == expectedOutputHash,
		InputHash:  inputHash,
		OutputHash: actual,
		Expected:   expectedOutputHash,
	}
	if result.Match {
		return result, nil
	}

	mismatch := &ReproducibilityMismatchError{InputHash: inputHash, Expected: expectedOutputHash, Actual: actual}
	s.logger(ctx, "estimate.reproducibility_mismatch", map[string]any{
		"source":       "verify",
		"inputHash":    inputHash,
		"expectedHash": expectedOutputHash,
		"actualHash":   actual,
		"error":        mismatch.Error(),
	})
	s.ReportMismatch(ctx, ReproducibilityMismatchEvent{
		Source:       "verify",
		InputHash:    inputHash,
		ExpectedHash: expectedOutputHash,
		ActualHash:   actual,
		OccurredAt:   s.now(),
	})
	return result, nil
}

// ReportMismatch publishes a reproducibility mismatch event, logging publish failures.
func (s *EstimateService) ReportMismatch(ctx context.Context, event ReproducibilityMismatchEvent) {
	if err := s.events.PublishReproducibilityMismatch(ctx, event); err != nil {
		s.logger(ctx, "estimate.event_publish_failed", map[string]any{
			"event": EventEstimateReproducibilityFailed,
			"error": err.Error(),
		})
	}
}

// RecommendGrade runs only the grade decision after validating the house area.
func (s *EstimateService) RecommendGrade(_ context.Context, profile domain.HouseProfile, prefs domain.Preferences) (GradeDecision, error) {
	return s.engine.RecommendGrade(profile, prefs)
}
