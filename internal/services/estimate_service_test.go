package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/homefit-remodel/api/internal/domain"
)

type estimateServiceFixture struct {
	service *EstimateService
	traces  *memoryTraceRepository
	events  *recordingEventPublisher
	logs    *logRecorder
	lookup  *fakePriceLookup
}

func newEstimateServiceFixture(t *testing.T) estimateServiceFixture {
	t.Helper()
	c := mustDefaultCatalog(t)
	lookup := seededPriceLookup(t, c)
	engine := newTestEngine(t, lookup, nil)
	traces := newMemoryTraceRepository()
	explainer := newTestExplainer(t, traces)
	events := &recordingEventPublisher{}
	logs := &logRecorder{}

	service, err := NewEstimateService(EstimateServiceDeps{
		Engine:    engine,
		Explainer: explainer,
		Events:    events,
		IDGen:     func() string { return "est_fixed" },
		Clock:     func() time.Time { return time.Date(2026, 10, 18, 18, 0, 0, 0, time.FixedZone("KST", 9*3600)) },
		Logger:    logs.log,
	})
	if err != nil {
		t.Fatalf("NewEstimateService error: %v", err)
	}
	return estimateServiceFixture{service: service, traces: traces, events: events, logs: logs, lookup: lookup}
}

func TestEstimateServiceEstimatePublishesAndExplains(t *testing.T) {
	fx := newEstimateServiceFixture(t)
	ctx := context.Background()
	_, _ = fx.traces.AppendQuestion(ctx, "sess-1", "Q_BUDGET")
	_ = fx.traces.SaveAnswer(ctx, "sess-1", "Q_BUDGET", "4500")

	cmd := sampleCommand()
	cmd.SessionID = "sess-1"
	report, err := fx.service.Estimate(ctx, cmd)
	if err != nil {
		t.Fatalf("Estimate error: %v", err)
	}
	if report.EstimateID != "est_fixed" {
		t.Fatalf("expected generated id, got %s", report.EstimateID)
	}
	if report.CalculatedAt.Location() != time.UTC || report.CalculatedAt.Hour() != 9 {
		t.Fatalf("expected UTC timestamp, got %s", report.CalculatedAt)
	}
	if report.InputHash == "" || report.OutputHash == "" {
		t.Fatalf("expected hashes, got %+v", report)
	}
	if report.Explanation == nil || !report.Explanation.Sufficient {
		t.Fatalf("expected explanation for the session, got %+v", report.Explanation)
	}
	if len(fx.events.calculated) != 1 {
		t.Fatalf("expected one calculated event, got %d", len(fx.events.calculated))
	}
	event := fx.events.calculated[0]
	if event.EstimateID != "est_fixed" || event.OutputHash != report.OutputHash || event.BlockCount != 10 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestEstimateServiceLogsPublishFailures(t *testing.T) {
	fx := newEstimateServiceFixture(t)
	fx.events.err = errors.New("topic missing")

	if _, err := fx.service.Estimate(context.Background(), sampleCommand()); err != nil {
		t.Fatalf("publish failures must not fail the estimate: %v", err)
	}
	if !fx.logs.has("estimate.event_publish_failed") {
		t.Fatalf("expected publish failure to be logged")
	}
}

func TestEstimateServicePropagatesEngineErrors(t *testing.T) {
	fx := newEstimateServiceFixture(t)
	cmd := sampleCommand()
	cmd.House.Area = -1
	if _, err := fx.service.Estimate(context.Background(), cmd); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(fx.events.calculated) != 0 {
		t.Fatalf("no event expected for a rejected estimate")
	}
}

func TestEstimateServiceVerify(t *testing.T) {
	fx := newEstimateServiceFixture(t)
	ctx := context.Background()
	report, err := fx.service.Estimate(ctx, sampleCommand())
	if err != nil {
		t.Fatalf("Estimate error: %v", err)
	}

	match, err := fx.service.Verify(ctx, sampleCommand(), report.OutputHash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !match.Match || match.InputHash != report.InputHash {
		t.Fatalf("expected a reproduced estimate, got %+v", match)
	}
	if len(fx.events.mismatches) != 0 {
		t.Fatalf("no mismatch expected")
	}

	fx.lookup.setPrice("CLEANING", domain.GradeEssential, 1)
	mismatch, err := fx.service.Verify(ctx, sampleCommand(), report.OutputHash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if mismatch.Match {
		t.Fatalf("expected mismatch after a price change")
	}
	if len(fx.events.mismatches) != 1 || fx.events.mismatches[0].Source != "verify" {
		t.Fatalf("expected one verify mismatch event, got %+v", fx.events.mismatches)
	}
	if !fx.logs.has("estimate.reproducibility_mismatch") {
		t.Fatalf("expected mismatch to be logged")
	}
}

func TestEstimateServiceVerifyRequiresExpectedHash(t *testing.T) {
	fx := newEstimateServiceFixture(t)
	if _, err := fx.service.Verify(context.Background(), sampleCommand(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEstimateServiceRecommendGrade(t *testing.T) {
	fx := newEstimateServiceFixture(t)
	cmd := sampleCommand()
	decision, err := fx.service.RecommendGrade(context.Background(), cmd.House, cmd.Preferences)
	if err != nil {
		t.Fatalf("RecommendGrade error: %v", err)
	}
	if decision.Grade != domain.GradeEssential {
		t.Fatalf("expected ESSENTIAL, got %s", decision.Grade)
	}
}

func TestNewEstimateServiceRequiresEngine(t *testing.T) {
	if _, err := NewEstimateService(EstimateServiceDeps{}); err == nil {
		t.Fatalf("expected error without engine")
	}
}
