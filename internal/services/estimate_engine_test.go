package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/homefit-remodel/api/internal/domain"
)

func newTestEngine(t *testing.T, lookup PriceLookup, mutate func(*EstimateEngineDeps)) *EstimateEngine {
	t.Helper()
	deps := EstimateEngineDeps{
		Catalog:       mustDefaultCatalog(t),
		Prices:        lookup,
		LookupTimeout: time.Second,
		Now:           func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&deps)
	}
	engine, err := NewEstimateEngine(deps)
	if err != nil {
		t.Fatalf("NewEstimateEngine error: %v", err)
	}
	return engine
}

func TestEstimateEngineCalculatesFullScope(t *testing.T) {
	c := mustDefaultCatalog(t)
	engine := newTestEngine(t, seededPriceLookup(t, c), nil)

	outcome, err := engine.Calculate(context.Background(), sampleCommand())
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	result := outcome.Result

	if outcome.Decision == nil || outcome.Decision.Grade != domain.GradeEssential {
		t.Fatalf("expected ESSENTIAL decision, got %+v", outcome.Decision)
	}
	if result.Grade != domain.GradeEssential {
		t.Fatalf("expected ESSENTIAL result, got %s", result.Grade)
	}
	if len(result.Blocks) != 10 || len(result.Failures) != 0 {
		t.Fatalf("expected 10 blocks and no failures, got %d/%d", len(result.Blocks), len(result.Failures))
	}
	for i := 1; i < len(result.Blocks); i++ {
		if c.ProcessOrder(result.Blocks[i-1].ProcessID) > c.ProcessOrder(result.Blocks[i].ProcessID) {
			t.Fatalf("blocks must follow catalog order: %s before %s", result.Blocks[i-1].ProcessID, result.Blocks[i].ProcessID)
		}
	}

	var material, labor int64
	for _, block := range result.Blocks {
		var blockMaterial, blockLabor int64
		for _, item := range block.Items {
			if item.Amount != item.Quantity*item.UnitPrice {
				t.Fatalf("line %s amount mismatch", item.Code)
			}
			if item.Kind.IsLabor() {
				blockLabor += item.Amount
			} else {
				blockMaterial += item.Amount
			}
		}
		if blockMaterial != block.MaterialTotal || blockLabor != block.LaborTotal {
			t.Fatalf("block %s subtotals do not add up", block.ProcessID)
		}
		material += block.MaterialTotal
		labor += block.LaborTotal
	}
	if result.MaterialTotal != material || result.LaborTotal != labor || result.GrandTotal != material+labor {
		t.Fatalf("grand total does not add up: %+v", result)
	}
	if result.VAT != applyVAT(result.GrandTotal, 10) || result.TotalWithVAT != result.GrandTotal+result.VAT {
		t.Fatalf("unexpected VAT %d on %d", result.VAT, result.GrandTotal)
	}

	wantTraits := []domain.TraitTag{"heavy-cooking", "child-safe", "high-risk-age"}
	if len(outcome.Traits) != len(wantTraits) {
		t.Fatalf("expected traits %v, got %v", wantTraits, outcome.Traits)
	}
	for i := range wantTraits {
		if outcome.Traits[i] != wantTraits[i] {
			t.Fatalf("expected traits %v, got %v", wantTraits, outcome.Traits)
		}
	}

	electrical := result.Blocks[1]
	if electrical.ProcessID != "electrical" {
		t.Fatalf("expected electrical as second block, got %s", electrical.ProcessID)
	}
	last := electrical.Items[len(electrical.Items)-1]
	if last.Code != "PANEL-REPLACE" || last.RecommendedBy != "high-risk-age" {
		t.Fatalf("expected panel replacement for an old building, got %+v", last)
	}
	for _, block := range result.Blocks {
		if block.ProcessID != "bathroom" {
			continue
		}
		for _, item := range block.Items {
			if item.Code == "BATH-WATERPROOF" {
				t.Fatalf("long-stay is outranked by high-risk-age and must not add waterproofing")
			}
		}
	}

	if result.Budget == nil || result.Budget.Ceiling != 49_500_000 {
		t.Fatalf("expected budget ceiling 49,500,000, got %+v", result.Budget)
	}
}

func TestEstimateEngineValidatesBeforeLookups(t *testing.T) {
	c := mustDefaultCatalog(t)
	lookup := seededPriceLookup(t, c)
	engine := newTestEngine(t, lookup, nil)

	cmd := sampleCommand()
	cmd.House.Area = 0
	cmd.House.HousingType = "castle"
	cmd.Scope = domain.SelectedScope{Spaces: []domain.SpaceSelection{
		{SpaceID: "kitchen", Processes: []domain.ProcessID{"balcony", "teleporter"}},
		{SpaceID: "attic", Processes: []domain.ProcessID{"flooring"}},
	}}

	_, err := engine.Calculate(context.Background(), cmd)
	var verr *InputValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected InputValidationError, got %v", err)
	}
	for _, field := range []string{
		"house.area",
		"house.housingType",
		"scope.spaces[0].processes[0]",
		"scope.spaces[0].processes[1]",
		"scope.spaces[1].spaceId",
	} {
		if _, ok := verr.Fields[field]; !ok {
			t.Fatalf("expected field error %s, got %v", field, verr.Fields)
		}
	}
	if calls := lookup.totalPriceCalls(); calls != 0 {
		t.Fatalf("expected no price lookups for invalid input, got %d", calls)
	}
}

func TestEstimateEngineRejectsEmptyScope(t *testing.T) {
	engine := newTestEngine(t, newFakePriceLookup(), nil)
	cmd := sampleCommand()
	cmd.Scope = domain.SelectedScope{Spaces: []domain.SpaceSelection{{SpaceID: "living"}}}
	if _, err := engine.Calculate(context.Background(), cmd); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEstimateEngineExcludesFailedProcesses(t *testing.T) {
	c := mustDefaultCatalog(t)
	lookup := seededPriceLookup(t, c)
	lookup.removePrice("INDUCTION", domain.GradeEssential)
	engine := newTestEngine(t, lookup, nil)

	outcome, err := engine.Calculate(context.Background(), sampleCommand())
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	result := outcome.Result
	if len(result.Blocks) != 9 || len(result.Failures) != 1 {
		t.Fatalf("expected 9 blocks and 1 failure, got %d/%d", len(result.Blocks), len(result.Failures))
	}
	failure := result.Failures[0]
	if failure.ProcessID != "kitchen" || failure.MissingItems[0] != "INDUCTION" {
		t.Fatalf("unexpected failure %+v", failure)
	}
	for _, block := range result.Blocks {
		if block.ProcessID == "kitchen" {
			t.Fatalf("failed process must not produce a block")
		}
	}
}

func TestEstimateEngineAllProcessesFailed(t *testing.T) {
	c := mustDefaultCatalog(t)
	lookup := seededPriceLookup(t, c)
	lookup.removePrice("INDUCTION", domain.GradeEssential)
	engine := newTestEngine(t, lookup, nil)

	cmd := sampleCommand()
	cmd.Scope = domain.SelectedScope{Spaces: []domain.SpaceSelection{
		{SpaceID: "kitchen", Processes: []domain.ProcessID{"kitchen"}},
	}}
	outcome, err := engine.Calculate(context.Background(), cmd)
	if !errors.Is(err, ErrAllProcessesFailed) {
		t.Fatalf("expected ErrAllProcessesFailed, got %v", err)
	}
	var failure *EstimateFailure
	if !errors.As(err, &failure) || len(failure.Failures) != 1 {
		t.Fatalf("expected one failure detail, got %v", err)
	}
	if failure.Unavailable() {
		t.Fatalf("missing prices are not an outage")
	}
	if len(outcome.Result.Failures) != 1 {
		t.Fatalf("expected failures on the outcome, got %+v", outcome.Result)
	}
}

func TestEstimateEngineAllProcessesUnavailable(t *testing.T) {
	c := mustDefaultCatalog(t)
	lookup := seededPriceLookup(t, c)
	lookup.priceErr["BALCONY-PAINT"] = errors.New("connection refused")
	engine := newTestEngine(t, lookup, nil)

	cmd := sampleCommand()
	cmd.Scope = domain.SelectedScope{Spaces: []domain.SpaceSelection{
		{SpaceID: "balcony", Processes: []domain.ProcessID{"balcony"}},
	}}
	_, err := engine.Calculate(context.Background(), cmd)
	var failure *EstimateFailure
	if !errors.As(err, &failure) || !failure.Unavailable() {
		t.Fatalf("expected unavailable estimate failure, got %v", err)
	}
}

func TestEstimateEngineForcedGradeSkipsDecision(t *testing.T) {
	c := mustDefaultCatalog(t)
	engine := newTestEngine(t, seededPriceLookup(t, c), nil)

	cmd := sampleCommand()
	cmd.Grade = domain.GradeOpus
	cmd.Preferences = domain.Preferences{}

	outcome, err := engine.Calculate(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if outcome.Decision != nil {
		t.Fatalf("forced grade must skip the decision, got %+v", outcome.Decision)
	}
	if outcome.Result.Grade != domain.GradeOpus || outcome.Result.GradeName != "Opus" {
		t.Fatalf("expected OPUS result, got %s/%s", outcome.Result.Grade, outcome.Result.GradeName)
	}
	if outcome.Result.Budget != nil {
		t.Fatalf("expected no budget check without a budget")
	}
}

func TestEstimateEngineWarnsAboutCustomizedSpaces(t *testing.T) {
	c := mustDefaultCatalog(t)
	engine := newTestEngine(t, seededPriceLookup(t, c), nil)

	cmd := sampleCommand()
	cmd.Scope.Spaces[2].Customized = true

	outcome, err := engine.Calculate(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if len(outcome.Result.Warnings) == 0 || !strings.Contains(outcome.Result.Warnings[0], "kitchen") {
		t.Fatalf("expected customized kitchen warning, got %v", outcome.Result.Warnings)
	}
}

func TestEstimateEngineSelfCheckStaysQuietWhenStable(t *testing.T) {
	c := mustDefaultCatalog(t)
	logs := &logRecorder{}
	var mismatches int
	engine := newTestEngine(t, seededPriceLookup(t, c), func(deps *EstimateEngineDeps) {
		deps.VerifyDeterminism = true
		deps.Logger = logs.log
		deps.OnMismatch = func(context.Context, ReproducibilityMismatchEvent) { mismatches++ }
	})

	if _, err := engine.Calculate(context.Background(), sampleCommand()); err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if mismatches != 0 || logs.has("estimate.reproducibility_mismatch") {
		t.Fatalf("expected no mismatch for a stable snapshot")
	}
	if !logs.has("estimate.calculated") {
		t.Fatalf("expected calculation to be logged")
	}
}

func TestEstimateEngineRequiresDependencies(t *testing.T) {
	if _, err := NewEstimateEngine(EstimateEngineDeps{Prices: newFakePriceLookup()}); err == nil {
		t.Fatalf("expected error without catalog")
	}
	if _, err := NewEstimateEngine(EstimateEngineDeps{Catalog: mustDefaultCatalog(t)}); err == nil {
		t.Fatalf("expected error without price lookup")
	}
	if _, err := NewEstimateEngine(EstimateEngineDeps{
		Catalog:         mustDefaultCatalog(t),
		Prices:          newFakePriceLookup(),
		DowngradePolicy: "most-expensive",
	}); err == nil {
		t.Fatalf("expected error for unknown downgrade policy")
	}
}

func TestEstimateEngineRejectsOutOfRangeMagnitudes(t *testing.T) {
	c := mustDefaultCatalog(t)
	cases := []struct {
		name   string
		mutate func(*EstimateCommand)
		field  string
	}{
		{name: "area overflowing amounts", mutate: func(cmd *EstimateCommand) { cmd.House.Area = 1e16 }, field: "house.area"},
		{name: "area overflowing rounding", mutate: func(cmd *EstimateCommand) { cmd.House.Area = 1e19 }, field: "house.area"},
		{name: "area just over bound", mutate: func(cmd *EstimateCommand) { cmd.House.Area = maxArea + 0.5 }, field: "house.area"},
		{name: "rooms", mutate: func(cmd *EstimateCommand) { cmd.House.Rooms = maxRoomCount + 1 }, field: "house.rooms"},
		{name: "bathrooms", mutate: func(cmd *EstimateCommand) { cmd.House.Bathrooms = 1 << 40 }, field: "house.bathrooms"},
		{name: "budget", mutate: func(cmd *EstimateCommand) { cmd.Preferences.Budget.Max = 1e15 }, field: "preferences.budget.max"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lookup := seededPriceLookup(t, c)
			engine := newTestEngine(t, lookup, nil)
			cmd := sampleCommand()
			tc.mutate(&cmd)

			_, err := engine.Calculate(context.Background(), cmd)
			var verr *InputValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected InputValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected field error %s, got %v", tc.field, verr.Fields)
			}
			if calls := lookup.totalPriceCalls(); calls != 0 {
				t.Fatalf("expected no price lookups, got %d", calls)
			}
		})
	}
}

func TestEstimateEngineTotalsHoldAtLargestArea(t *testing.T) {
	c := mustDefaultCatalog(t)
	engine := newTestEngine(t, seededPriceLookup(t, c), nil)
	cmd := sampleCommand()
	cmd.House.Area = maxArea
	cmd.House.Rooms = maxRoomCount
	cmd.House.Bathrooms = maxRoomCount
	cmd.Preferences.Budget.Max = maxBudget
	cmd.Preferences.Budget.FlexibilityPercent = 100
	cmd.Grade = domain.GradeOpus

	outcome, err := engine.Calculate(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	result := outcome.Result
	if result.GrandTotal <= 0 || result.TotalWithVAT < result.GrandTotal {
		t.Fatalf("totals out of order: grand=%d withVAT=%d", result.GrandTotal, result.TotalWithVAT)
	}
	if result.TotalWithVAT != result.GrandTotal+result.VAT {
		t.Fatalf("totalWithVAT must equal grand + VAT")
	}
	for _, block := range result.Blocks {
		for _, item := range block.Items {
			if item.Quantity <= 0 || item.Amount != item.Quantity*item.UnitPrice {
				t.Fatalf("item %s priced inconsistently: %+v", item.Code, item)
			}
		}
	}
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "PROTECTION-FILM") {
			t.Fatalf("protection film must be priced at the largest area, got warning %q", warning)
		}
	}
	if result.Budget == nil || result.Budget.Ceiling <= 0 {
		t.Fatalf("expected positive budget ceiling, got %+v", result.Budget)
	}
}
