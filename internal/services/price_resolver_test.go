package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
)

func newResolverFixture(t *testing.T) (*catalog.Catalog, *PriceResolver, *fakePriceLookup) {
	t.Helper()
	c := mustDefaultCatalog(t)
	resolver, err := NewPriceResolver(c, 4)
	if err != nil {
		t.Fatalf("NewPriceResolver error: %v", err)
	}
	return c, resolver, seededPriceLookup(t, c)
}

func processRequest(t *testing.T, c *catalog.Catalog, processID domain.ProcessID, spaces []domain.SpaceID, grade domain.GradeTier, traits ...domain.TraitTag) ProcessRequest {
	t.Helper()
	process, ok := c.Process(processID)
	if !ok {
		t.Fatalf("process %s missing from catalog", processID)
	}
	model, err := NewQuantityModel(c)
	if err != nil {
		t.Fatalf("NewQuantityModel error: %v", err)
	}
	var selections []domain.SpaceSelection
	for _, space := range spaces {
		selections = append(selections, domain.SpaceSelection{SpaceID: space, Processes: []domain.ProcessID{processID}})
	}
	profile := domain.HouseProfile{HousingType: domain.HousingApartment, Area: 25, Rooms: 3, Bathrooms: 2}
	quantities, err := model.Derive(profile, domain.SelectedScope{Spaces: selections})
	if err != nil {
		t.Fatalf("Derive error: %v", err)
	}
	return ProcessRequest{
		Process:    process,
		Spaces:     spaces,
		Quantities: quantities,
		Profile:    profile,
		Traits:     traits,
		Grade:      grade,
	}
}

func lineCodes(items []domain.LineItem) []string {
	codes := make([]string, 0, len(items))
	for _, item := range items {
		codes = append(codes, item.Code)
	}
	return codes
}

func TestPriceResolverPricesKitchenWithRecommendations(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	req := processRequest(t, c, "kitchen", []domain.SpaceID{"kitchen"}, domain.GradeStandard, "heavy-cooking", "needs-moderate-storage", "child-safe")

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, time.Second))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	if outcome.Failure != nil {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
	block := outcome.Block
	wantCodes := []string{"CABINET-UPPER", "CABINET-LOWER", "INDUCTION", "KITCHEN-LABOR", "HOOD-PREMIUM", "CABINET-TALL"}
	if got := lineCodes(block.Items); !reflect.DeepEqual(got, wantCodes) {
		t.Fatalf("expected items %v, got %v", wantCodes, got)
	}
	if block.MaterialTotal != 3_880_000 {
		t.Fatalf("expected material total 3,880,000, got %d", block.MaterialTotal)
	}
	if block.LaborTotal != 960_000 {
		t.Fatalf("expected labor total 960,000, got %d", block.LaborTotal)
	}
	wantTraits := []domain.TraitTag{"heavy-cooking", "needs-moderate-storage"}
	if !reflect.DeepEqual(block.Traits, wantTraits) {
		t.Fatalf("expected contributing traits %v, got %v", wantTraits, block.Traits)
	}
	hood := block.Items[4]
	if !hood.IsRecommended || hood.RecommendedBy != "heavy-cooking" || hood.Quantity != 1 || hood.Amount != 550_000 {
		t.Fatalf("unexpected hood line: %+v", hood)
	}
	if block.Items[0].IsRecommended {
		t.Fatalf("baseline item must not be flagged as recommended")
	}
}

func TestPriceResolverReplacesItemsInPlace(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	req := processRequest(t, c, "flooring", []domain.SpaceID{"living"}, domain.GradeEssential, "pet-friendly")

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, time.Second))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	if outcome.Block == nil {
		t.Fatalf("expected block, got failure %+v", outcome.Failure)
	}
	want := []string{"FLOOR-LIVING-PET", "FLOOR-LABOR"}
	if got := lineCodes(outcome.Block.Items); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	// 12 boxes at 52,000
	if amount := outcome.Block.Items[0].Amount; amount != 624_000 {
		t.Fatalf("expected pet flooring amount 624,000, got %d", amount)
	}
}

func TestPriceResolverFailsWholeBlockOnMissingPrice(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	lookup.removePrice("CABINET-UPPER", domain.GradeStandard)
	lookup.removePrice("INDUCTION", domain.GradeStandard)
	req := processRequest(t, c, "kitchen", []domain.SpaceID{"kitchen"}, domain.GradeStandard)

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, time.Second))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	if outcome.Block != nil {
		t.Fatalf("expected no partial block, got %+v", outcome.Block)
	}
	failure := outcome.Failure
	if failure == nil {
		t.Fatalf("expected failure")
	}
	if !reflect.DeepEqual(failure.MissingItems, []string{"CABINET-UPPER", "INDUCTION"}) {
		t.Fatalf("expected every missing item listed, got %v", failure.MissingItems)
	}
	if failure.Reason != domain.FailurePriceNotFound {
		t.Fatalf("expected PRICE_NOT_FOUND, got %s", failure.Reason)
	}
	if failure.ProcessName != "Kitchen" || failure.Message == "" {
		t.Fatalf("expected named failure with message, got %+v", failure)
	}
}

func TestPriceResolverReportsTimeouts(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	lookup.delay["TILE-LABOR"] = 500 * time.Millisecond
	req := processRequest(t, c, "tiling", []domain.SpaceID{"bathroom"}, domain.GradeEssential)

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	if outcome.Failure == nil {
		t.Fatalf("expected failure")
	}
	if outcome.Failure.Reason != domain.FailureLookupTimeout {
		t.Fatalf("expected LOOKUP_TIMEOUT, got %s", outcome.Failure.Reason)
	}
	if !reflect.DeepEqual(outcome.Failure.MissingItems, []string{"TILE-LABOR"}) {
		t.Fatalf("expected TILE-LABOR missing, got %v", outcome.Failure.MissingItems)
	}
}

func TestPriceResolverPrefersUnavailableOverMissing(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	lookup.ruleErr["DOOR-SET"] = errors.New("connection reset")
	lookup.removePrice("DOOR-LABOR", domain.GradeOpus)
	req := processRequest(t, c, "doors", []domain.SpaceID{"room"}, domain.GradeOpus)

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, time.Second))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	if outcome.Failure == nil || outcome.Failure.Reason != domain.FailureLookupUnavailable {
		t.Fatalf("expected LOOKUP_UNAVAILABLE failure, got %+v", outcome.Failure)
	}
	if !reflect.DeepEqual(outcome.Failure.MissingItems, []string{"DOOR-SET", "DOOR-LABOR"}) {
		t.Fatalf("unexpected missing items %v", outcome.Failure.MissingItems)
	}
}

func TestPriceResolverSkipsZeroQuantityWithWarning(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	req := processRequest(t, c, "doors", []domain.SpaceID{"room"}, domain.GradeEssential)
	req.Profile.Rooms = 0

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, time.Second))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	if outcome.Block == nil || len(outcome.Block.Items) != 0 {
		t.Fatalf("expected empty block, got %+v", outcome)
	}
	if len(outcome.Warnings) != 2 {
		t.Fatalf("expected a warning per skipped item, got %v", outcome.Warnings)
	}
}

func TestPriceResolverZeroQuantityHidesMissingPrice(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	lookup.removePrice("DOOR-SET", domain.GradeEssential)
	req := processRequest(t, c, "doors", []domain.SpaceID{"room"}, domain.GradeEssential)
	req.Profile.Rooms = 0

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, time.Second))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	if outcome.Failure != nil {
		t.Fatalf("expected skipped item not to fail the block, got %+v", outcome.Failure)
	}
	if outcome.Block == nil {
		t.Fatalf("expected a block")
	}
	if calls := lookup.totalPriceCalls(); calls != 0 {
		t.Fatalf("expected no price lookups for zero quantities, got %d", calls)
	}
	found := false
	for _, warning := range outcome.Warnings {
		if strings.Contains(warning, "DOOR-SET") && strings.Contains(warning, "price was not checked") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected DOOR-SET skip warning to say its price was not checked, got %v", outcome.Warnings)
	}
}

func TestPriceResolverQuantityRules(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	req := processRequest(t, c, "bathroom", []domain.SpaceID{"bathroom"}, domain.GradeEssential)

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, time.Second))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	fixtures := outcome.Block.Items[0]
	if fixtures.Code != "BATH-FIXTURE-SET" || fixtures.Quantity != 2 || fixtures.Amount != 1_800_000 {
		t.Fatalf("expected one fixture set per bathroom, got %+v", fixtures)
	}
	if fixtures.Kind != domain.ItemKindFixed {
		t.Fatalf("expected fixed kind, got %s", fixtures.Kind)
	}
	// fixed items count toward materials
	if outcome.Block.MaterialTotal != 1_800_000 || outcome.Block.LaborTotal != 4*320_000 {
		t.Fatalf("unexpected subtotals %d/%d", outcome.Block.MaterialTotal, outcome.Block.LaborTotal)
	}
}

func TestPriceResolverMissingQuantityRule(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	delete(lookup.rules, "BALCONY-LABOR")
	req := processRequest(t, c, "balcony", []domain.SpaceID{"balcony"}, domain.GradeStandard)

	outcome, err := resolver.PriceProcess(context.Background(), req, NewPriceSnapshot(lookup, time.Second))
	if err != nil {
		t.Fatalf("PriceProcess error: %v", err)
	}
	if outcome.Failure == nil || outcome.Failure.Reason != domain.FailureQuantityRuleMissing {
		t.Fatalf("expected QUANTITY_RULE_MISSING, got %+v", outcome.Failure)
	}
}

func TestPriceResolverHonoursCancellation(t *testing.T) {
	c, resolver, lookup := newResolverFixture(t)
	req := processRequest(t, c, "cleanup", []domain.SpaceID{"living"}, domain.GradeEssential)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := resolver.PriceProcess(ctx, req, NewPriceSnapshot(lookup, time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPriceSnapshotMemoisesPricesAndFailures(t *testing.T) {
	lookup := newFakePriceLookup()
	lookup.setPrice("CLEANING", domain.GradeEssential, 350_000)
	snapshot := NewPriceSnapshot(lookup, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		quote, err := snapshot.Price(ctx, "CLEANING", domain.GradeEssential)
		if err != nil || quote.UnitPrice != 350_000 {
			t.Fatalf("unexpected quote %+v err %v", quote, err)
		}
		if _, err := snapshot.Price(ctx, "MISSING", domain.GradeEssential); err == nil {
			t.Fatalf("expected missing price error")
		}
	}
	lookup.setPrice("CLEANING", domain.GradeEssential, 999_999)
	quote, _ := snapshot.Price(ctx, "CLEANING", domain.GradeEssential)
	if quote.UnitPrice != 350_000 {
		t.Fatalf("snapshot must keep the first observed price, got %d", quote.UnitPrice)
	}
	if calls := lookup.totalPriceCalls(); calls != 2 {
		t.Fatalf("expected one lookup per key, got %d", calls)
	}
}
