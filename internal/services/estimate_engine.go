package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
)

const tracerName = "github.com/homefit-remodel/api/internal/services"

// Input bounds. Area is in pyeong and budgets in 10,000 KRW units; within them every
// amount, VAT and budget ceiling fits in int64.
const (
	maxArea      = 10_000
	maxRoomCount = 100
	maxBudget    = 100_000_000
)

// EstimateCommand is the complete input of one estimate. Grade forces a tier and skips the grade decision.
type EstimateCommand struct {
	SessionID   string
	House       domain.HouseProfile
	Scope       domain.SelectedScope
	Answers     []domain.Answer
	Preferences domain.Preferences
	Grade       domain.GradeTier
}

type estimateInput struct {
	House       domain.HouseProfile  `json:"house"`
	Scope       domain.SelectedScope `json:"scope"`
	Answers     []domain.Answer      `json:"answers"`
	Preferences domain.Preferences   `json:"preferences"`
	Grade       domain.GradeTier     `json:"grade,omitempty"`
}

func (c EstimateCommand) engineInput() estimateInput {
	return estimateInput{
		House:       c.House,
		Scope:       c.Scope,
		Answers:     c.Answers,
		Preferences: c.Preferences,
		Grade:       c.Grade,
	}
}

// EstimateOutcome is the engine result together with the intermediate decisions that explain it.
type EstimateOutcome struct {
	Result     domain.EstimateResult
	Decision   *GradeDecision
	Traits     []domain.TraitTag
	Quantities domain.QuantitySet
}

type EstimateEngine struct {
	catalog           *catalog.Catalog
	prices            PriceLookup
	quantities        *QuantityModel
	traits            *TraitResolver
	grades            *GradeDecider
	resolver          *PriceResolver
	aggregator        *EstimateAggregator
	lookupTimeout     time.Duration
	verifyDeterminism bool
	tracer            trace.Tracer
	now               func() time.Time
	logger            func(context.Context, string, map[string]any)
	onMismatch        func(context.Context, ReproducibilityMismatchEvent)
}

type EstimateEngineDeps struct {
	Catalog           *catalog.Catalog
	Prices            PriceLookup
	DowngradePolicy   DowngradePolicy
	LookupTimeout     time.Duration
	Concurrency       int
	VerifyDeterminism bool
	Tracer            trace.Tracer
	Now               func() time.Time
	Logger            func(context.Context, string, map[string]any)
	OnMismatch        func(context.Context, ReproducibilityMismatchEvent)
}

func NewEstimateEngine(deps EstimateEngineDeps) (*EstimateEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("estimate engine: catalog is required")
	}
	if deps.Prices == nil {
		return nil, errors.New("estimate engine: price lookup is required")
	}

	quantities, err := NewQuantityModel(deps.Catalog)
	if err != nil {
		return nil, err
	}
	traits, err := NewTraitResolver(deps.Catalog)
	if err != nil {
		return nil, err
	}
	grades, err := NewGradeDecider(deps.Catalog)
	if err != nil {
		return nil, err
	}
	resolver, err := NewPriceResolver(deps.Catalog, deps.Concurrency)
	if err != nil {
		return nil, err
	}
	aggregator, err := NewEstimateAggregator(deps.Catalog, deps.DowngradePolicy)
	if err != nil {
		return nil, err
	}

	timeout := deps.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	onMismatch := deps.OnMismatch
	if onMismatch == nil {
		onMismatch = func(context.Context, ReproducibilityMismatchEvent) {}
	}

	return &EstimateEngine{
		catalog:           deps.Catalog,
		prices:            deps.Prices,
		quantities:        quantities,
		traits:            traits,
		grades:            grades,
		resolver:          resolver,
		aggregator:        aggregator,
		lookupTimeout:     timeout,
		verifyDeterminism: deps.VerifyDeterminism,
		tracer:            tracer,
		now: func() time.Time {
			return now().UTC()
		},
		logger:     logger,
		onMismatch: onMismatch,
	}, nil
}

// Catalog exposes the rule catalog the engine was built with.
func (e *EstimateEngine) Catalog() *catalog.Catalog {
	return e.catalog
}

// RecommendGrade runs only the grade decision.
func (e *EstimateEngine) RecommendGrade(profile domain.HouseProfile, prefs domain.Preferences) (GradeDecision, error) {
	return e.grades.Recommend(profile, prefs)
}

// Calculate runs the full pipeline. Validation happens before any price lookup.
// When every selected process fails, the returned error wraps *EstimateFailure.
func (e *EstimateEngine) Calculate(ctx context.Context, cmd EstimateCommand) (EstimateOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "estimate.calculate")
	defer span.End()

	outcome, err := e.calculate(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}
	span.SetAttributes(
		attribute.String("estimate.grade", string(outcome.Result.Grade)),
		attribute.Int("estimate.blocks", len(outcome.Result.Blocks)),
		attribute.Int("estimate.failures", len(outcome.Result.Failures)),
	)
	return outcome, nil
}

func (e *EstimateEngine) calculate(ctx context.Context, cmd EstimateCommand) (EstimateOutcome, error) {
	if err := e.Validate(cmd); err != nil {
		return EstimateOutcome{}, err
	}

	quantities, err := e.quantities.Derive(cmd.House, cmd.Scope)
	if err != nil {
		return EstimateOutcome{}, err
	}
	traits := e.traits.DeriveTraits(cmd.House, cmd.Preferences, cmd.Answers)

	outcome := EstimateOutcome{Traits: traits, Quantities: quantities}
	grade := cmd.Grade
	if grade == "" {
		decision, err := e.grades.Recommend(cmd.House, cmd.Preferences)
		if err != nil {
			return EstimateOutcome{}, err
		}
		outcome.Decision = &decision
		grade = decision.Grade
	}

	snapshot := NewPriceSnapshot(e.prices, e.lookupTimeout)
	result, err := e.priceAndAggregate(ctx, cmd, quantities, traits, grade, snapshot)
	if err != nil {
		return EstimateOutcome{}, err
	}
	outcome.Result = result

	if e.verifyDeterminism {
		e.selfCheck(ctx, cmd, quantities, traits, grade, snapshot, result)
	}

	e.logger(ctx, "estimate.calculated", map[string]any{
		"grade":        string(result.Grade),
		"blocks":       len(result.Blocks),
		"failures":     len(result.Failures),
		"totalWithVat": result.TotalWithVAT,
		"traits":       len(traits),
	})

	if len(result.Blocks) == 0 && len(result.Failures) > 0 {
		return outcome, fmt.Errorf("estimate engine: %w", &EstimateFailure{Failures: result.Failures})
	}
	return outcome, nil
}

func (e *EstimateEngine) priceAndAggregate(ctx context.Context, cmd EstimateCommand, quantities domain.QuantitySet, traits []domain.TraitTag, grade domain.GradeTier, snapshot *PriceSnapshot) (domain.EstimateResult, error) {
	processSpaces := cmd.Scope.ProcessSpaces()
	var (
		blocks   []domain.ProcessBlock
		failures []domain.ProcessFailure
		warnings []string
	)
	for _, space := range cmd.Scope.CustomizedSpaces() {
		warnings = append(warnings, fmt.Sprintf("space %s is customized; the estimate covers the standard scope only", space))
	}

	for _, process := range e.catalog.Processes {
		spaces, selected := processSpaces[process.ID]
		if !selected {
			continue
		}
		processCtx, span := e.tracer.Start(ctx, "estimate.price_process", trace.WithAttributes(
			attribute.String("process.id", string(process.ID)),
		))
		outcome, err := e.resolver.PriceProcess(processCtx, ProcessRequest{
			Process:    process,
			Spaces:     spaces,
			Quantities: quantities,
			Profile:    cmd.House,
			Traits:     traits,
			Grade:      grade,
		}, snapshot)
		if err != nil {
			span.RecordError(err)
			span.End()
			return domain.EstimateResult{}, err
		}
		span.End()

		warnings = append(warnings, outcome.Warnings...)
		if outcome.Failure != nil {
			failures = append(failures, *outcome.Failure)
			e.logger(ctx, "estimate.process_failed", map[string]any{
				"processId":    string(process.ID),
				"reason":       string(outcome.Failure.Reason),
				"missingItems": outcome.Failure.MissingItems,
			})
			continue
		}
		blocks = append(blocks, *outcome.Block)
	}

	return e.aggregator.Aggregate(AggregateInput{
		Blocks:   blocks,
		Failures: failures,
		Area:     cmd.House.Area,
		Grade:    grade,
		Budget:   cmd.Preferences.Budget,
		Warnings: warnings,
	}), nil
}

// selfCheck reprices against the same snapshot and reports a differing output hash.
func (e *EstimateEngine) selfCheck(ctx context.Context, cmd EstimateCommand, quantities domain.QuantitySet, traits []domain.TraitTag, grade domain.GradeTier, snapshot *PriceSnapshot, first domain.EstimateResult) {
	second, err := e.priceAndAggregate(ctx, cmd, quantities, traits, grade, snapshot)
	if err != nil {
		return
	}
	expected, err := OutputHash(first)
	if err != nil {
		return
	}
	actual, err := OutputHash(second)
	if err != nil || expected == actual {
		return
	}
	inputHash, _ := InputHash(cmd)
	e.logger(ctx, "estimate.reproducibility_mismatch", map[string]any{
		"source":       "self-check",
		"inputHash":    inputHash,
		"expectedHash": expected,
		"actualHash":   actual,
	})
	e.onMismatch(ctx, ReproducibilityMismatchEvent{
		Source:       "self-check",
		InputHash:    inputHash,
		ExpectedHash: expected,
		ActualHash:   actual,
		OccurredAt:   e.now(),
	})
}

// Validate checks the command against the catalog without touching the price store.
func (e *EstimateEngine) Validate(cmd EstimateCommand) error {
	verr := newInputValidationError()
	house := cmd.House

	if !house.HousingType.Valid() {
		verr.add("house.housingType", "must be one of apartment, villa, officetel, house")
	}
	switch {
	case math.IsNaN(house.Area) || math.IsInf(house.Area, 0) || house.Area <= 0:
		verr.add("house.area", "must be a positive number")
	case house.Area > maxArea:
		verr.add("house.area", fmt.Sprintf("must not exceed %d", maxArea))
	}
	if house.Rooms < 0 || house.Rooms > maxRoomCount {
		verr.add("house.rooms", fmt.Sprintf("must be between 0 and %d", maxRoomCount))
	}
	if house.Bathrooms < 0 || house.Bathrooms > maxRoomCount {
		verr.add("house.bathrooms", fmt.Sprintf("must be between 0 and %d", maxRoomCount))
	}
	if house.BuildingAge != nil && *house.BuildingAge < 0 {
		verr.add("house.buildingAge", "must not be negative")
	}

	if cmd.Scope.Empty() {
		verr.add("scope.spaces", "at least one process must be selected")
	}
	for i, space := range cmd.Scope.Spaces {
		field := fmt.Sprintf("scope.spaces[%d]", i)
		if _, ok := e.catalog.Space(space.SpaceID); !ok {
			verr.add(field+".spaceId", fmt.Sprintf("unknown space %q", space.SpaceID))
			continue
		}
		for j, processID := range space.Processes {
			processField := fmt.Sprintf("%s.processes[%d]", field, j)
			process, ok := e.catalog.Process(processID)
			if !ok {
				verr.add(processField, fmt.Sprintf("unknown process %q", processID))
				continue
			}
			if !process.AllowsSpace(space.SpaceID) {
				verr.add(processField, fmt.Sprintf("process %q is not available for space %q", processID, space.SpaceID))
			}
		}
	}

	if cmd.Grade != "" && !cmd.Grade.Valid() {
		verr.add("grade", fmt.Sprintf("unknown grade %q", cmd.Grade))
	}

	if budget := cmd.Preferences.Budget; budget != nil {
		if budget.Min < 0 || budget.Max < 0 {
			verr.add("preferences.budget", "must not be negative")
		}
		if budget.Max > maxBudget {
			verr.add("preferences.budget.max", fmt.Sprintf("must not exceed %d", maxBudget))
		}
		if budget.Max > 0 && budget.Min > budget.Max {
			verr.add("preferences.budget.min", "must not exceed max")
		}
		if budget.FlexibilityPercent < 0 || budget.FlexibilityPercent > 100 {
			verr.add("preferences.budget.flexibilityPercent", "must be between 0 and 100")
		}
	}

	return verr.orNil()
}
