package di

import (
	"context"
	"testing"
	"time"

	"github.com/homefit-remodel/api/internal/catalog"
	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/platform/config"
	"github.com/homefit-remodel/api/internal/repositories"
	"github.com/homefit-remodel/api/internal/repositories/memory"
	"github.com/homefit-remodel/api/internal/services"
)

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func memoryRegistry(t *testing.T, prices repositories.PriceRepository) repositories.Registry {
	t.Helper()
	reg, err := repositories.NewRegistry(repositories.Backend{
		Prices: prices,
		Traces: memory.NewTraceRepository(clock),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func emptyPrices(t *testing.T) *memory.PriceRepository {
	t.Helper()
	prices, err := memory.NewPriceRepository(nil, nil)
	if err != nil {
		t.Fatalf("memory.NewPriceRepository: %v", err)
	}
	return prices
}

func testConfig(seed bool) config.Config {
	return config.Config{
		Store:    config.StoreConfig{Backend: config.StoreBackendMemory, SeedFromCatalog: seed},
		Pricing:  config.PricingConfig{CacheTTL: time.Hour, LookupTimeout: time.Second, Concurrency: 2},
		Security: config.SecurityConfig{Environment: "test"},
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(false), nil); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestNewContainerRejectsUnknownDowngradePolicy(t *testing.T) {
	cfg := testConfig(false)
	cfg.Pricing.DowngradePolicy = "random"
	reg := memoryRegistry(t, emptyPrices(t))
	if _, err := NewContainer(context.Background(), cfg, reg); err == nil {
		t.Fatalf("expected error for unknown downgrade policy")
	}
}

func TestNewContainerSeedsAndEstimates(t *testing.T) {
	ctx := context.Background()
	prices := emptyPrices(t)
	reg := memoryRegistry(t, prices)

	c, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}

	container, err := NewContainer(ctx, testConfig(true), reg,
		WithCatalog(c),
		WithClock(clock),
		WithBuildInfo(services.BuildInfo{Version: "1.2.3"}),
	)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = container.Close(ctx) })

	rows := c.PriceRows()
	if len(rows) == 0 {
		t.Fatalf("default catalog carries no price rows")
	}
	if _, err := prices.FindPrice(ctx, rows[0].ItemCode, rows[0].Grade); err != nil {
		t.Fatalf("expected seeded price for %s: %v", rows[0].ItemCode, err)
	}

	report, err := container.Services.Estimates.Estimate(ctx, services.EstimateCommand{
		SessionID: "s-di",
		House:     domain.HouseProfile{HousingType: domain.HousingApartment, Area: 84, Rooms: 3, Bathrooms: 2},
		Scope: domain.SelectedScope{Spaces: []domain.SpaceSelection{
			{SpaceID: "living", Processes: []domain.ProcessID{"flooring", "wallpaper"}},
		}},
		Grade: domain.GradeStandard,
	})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if report.Result.Grade != domain.GradeStandard {
		t.Fatalf("expected forced grade, got %s", report.Result.Grade)
	}
	if report.Result.TotalWithVAT <= 0 {
		t.Fatalf("expected positive total, got %d", report.Result.TotalWithVAT)
	}
	if !report.CalculatedAt.Equal(fixedNow) {
		t.Fatalf("expected injected clock, got %s", report.CalculatedAt)
	}
}

func TestNewContainerSeedRequiresSeeder(t *testing.T) {
	reg, err := repositories.NewRegistry(repositories.Backend{
		Prices: readOnlyPrices{},
		Traces: memory.NewTraceRepository(clock),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := NewContainer(context.Background(), testConfig(true), reg); err == nil {
		t.Fatalf("expected seeding error for read-only backend")
	}
}

func TestNewContainerDefaultHealthUsesCatalog(t *testing.T) {
	ctx := context.Background()
	reg := memoryRegistry(t, emptyPrices(t))

	container, err := NewContainer(ctx, testConfig(false), reg, WithClock(clock))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	report, err := container.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if _, ok := report.Checks["catalog"]; !ok {
		t.Fatalf("expected catalog check, got %v", report.Checks)
	}

	build := container.Services.System.Build()
	if build.CatalogVersion != container.Catalog.Version {
		t.Fatalf("expected catalog version %q, got %q", container.Catalog.Version, build.CatalogVersion)
	}
	if build.Environment != "test" {
		t.Fatalf("expected environment from config, got %q", build.Environment)
	}
}

func TestNewContainerSessionsShareTraceStore(t *testing.T) {
	ctx := context.Background()
	reg := memoryRegistry(t, emptyPrices(t))
	container, err := NewContainer(ctx, testConfig(false), reg, WithClock(clock))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	if _, err := container.Services.Sessions.RecordQuestion(ctx, "s-1", "Q_PURPOSE"); err != nil {
		t.Fatalf("RecordQuestion: %v", err)
	}
	trace, err := reg.Traces().LoadTrace(ctx, "s-1")
	if err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	if len(trace.Questions) != 1 || trace.Questions[0].QuestionCode != "Q_PURPOSE" {
		t.Fatalf("unexpected trace %+v", trace)
	}
}

type readOnlyPrices struct{}

func (readOnlyPrices) FindPrice(context.Context, string, domain.GradeTier) (domain.PriceQuote, error) {
	return domain.PriceQuote{}, repositories.NotFound("prices.find", "missing")
}

func (readOnlyPrices) FindQuantityRule(context.Context, string) (domain.QuantityRule, error) {
	return domain.QuantityRule{}, repositories.NotFound("rules.find", "missing")
}
