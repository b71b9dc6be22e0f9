package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/homefit-remodel/api/internal/catalog"
	"github.com/homefit-remodel/api/internal/platform/config"
	"github.com/homefit-remodel/api/internal/repositories"
	"github.com/homefit-remodel/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Estimates *services.EstimateService
	Sessions  *services.SessionService
	System    services.SystemService
	Prices    *services.CachedPriceLookup
}

// Container wires repositories, services, and the rule catalog for runtime use.
type Container struct {
	Config       config.Config
	Catalog      *catalog.Catalog
	Repositories repositories.Registry
	Services     Services
}

// Option customises container assembly.
type Option func(*containerOptions)

type containerOptions struct {
	catalog  *catalog.Catalog
	events   services.EventPublisher
	logger   func(context.Context, string, map[string]any)
	meter    metric.Meter
	tracer   trace.Tracer
	build    services.BuildInfo
	clock    func() time.Time
	language language.Tag
}

// WithCatalog sets the rule catalog. The embedded default is used otherwise.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *containerOptions) { o.catalog = c }
}

// WithEventPublisher routes estimate events to the given publisher.
func WithEventPublisher(p services.EventPublisher) Option {
	return func(o *containerOptions) { o.events = p }
}

// WithLogger installs the structured event logger shared by services.
func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithMeter records price cache metrics on the given meter.
func WithMeter(m metric.Meter) Option {
	return func(o *containerOptions) { o.meter = m }
}

// WithTracer overrides the tracer used for estimate spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *containerOptions) { o.tracer = t }
}

// WithBuildInfo supplies version metadata for health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) { o.build = info }
}

// WithClock overrides the clock used by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLanguage selects the number formatting used in explanations.
func WithLanguage(tag language.Tag) Option {
	return func(o *containerOptions) { o.language = tag }
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore or
// Postgres registries, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.catalog == nil {
		c, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("load default catalog: %w", err)
		}
		options.catalog = c
	}

	if cfg.Store.SeedFromCatalog {
		if err := seedPrices(ctx, reg, options.catalog); err != nil {
			return nil, err
		}
	}

	svc, err := buildServices(reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Catalog:      options.catalog,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients and publishers registered on the registry.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func seedPrices(ctx context.Context, reg repositories.Registry, c *catalog.Catalog) error {
	seeder := reg.Seeder()
	if seeder == nil {
		return errors.New("seed prices: backend does not accept catalog rows")
	}
	if err := seeder.UpsertPrices(ctx, c.PriceRows()); err != nil {
		return fmt.Errorf("seed prices: %w", err)
	}
	if err := seeder.UpsertQuantityRules(ctx, c.QuantityRules); err != nil {
		return fmt.Errorf("seed quantity rules: %w", err)
	}
	return nil
}

func buildServices(reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services

	policy, err := services.ParseDowngradePolicy(cfg.Pricing.DowngradePolicy)
	if err != nil {
		return svc, err
	}

	repoLookup, err := services.NewRepositoryPriceLookup(reg.Prices())
	if err != nil {
		return svc, err
	}
	cached, err := services.NewCachedPriceLookup(repoLookup,
		services.WithPriceCacheTTL(cfg.Pricing.CacheTTL),
		services.WithPriceCacheClock(opts.clock),
		services.WithPriceCacheMeter(opts.meter),
	)
	if err != nil {
		return svc, err
	}
	svc.Prices = cached

	explainer, err := services.NewTraceExplainer(services.TraceExplainerDeps{
		Traces:   reg.Traces(),
		Catalog:  opts.catalog,
		Language: opts.language,
		Logger:   opts.logger,
	})
	if err != nil {
		return svc, err
	}

	// The engine reports mismatches through the estimate service, which is built after it.
	var estimates *services.EstimateService
	engine, err := services.NewEstimateEngine(services.EstimateEngineDeps{
		Catalog:           opts.catalog,
		Prices:            cached,
		DowngradePolicy:   policy,
		LookupTimeout:     cfg.Pricing.LookupTimeout,
		Concurrency:       cfg.Pricing.Concurrency,
		VerifyDeterminism: cfg.Pricing.VerifyDeterminism,
		Tracer:            opts.tracer,
		Now:               opts.clock,
		Logger:            opts.logger,
		OnMismatch: func(ctx context.Context, event services.ReproducibilityMismatchEvent) {
			if estimates != nil {
				estimates.ReportMismatch(ctx, event)
			}
		},
	})
	if err != nil {
		return svc, err
	}

	estimates, err = services.NewEstimateService(services.EstimateServiceDeps{
		Engine:    engine,
		Explainer: explainer,
		Events:    opts.events,
		Clock:     opts.clock,
		Logger:    opts.logger,
	})
	if err != nil {
		return svc, err
	}
	svc.Estimates = estimates

	sessions, err := services.NewSessionService(services.SessionServiceDeps{
		Traces:    reg.Traces(),
		Explainer: explainer,
		Logger:    opts.logger,
	})
	if err != nil {
		return svc, err
	}
	svc.Sessions = sessions

	health := reg.Health()
	if health == nil {
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
			Name:     "catalog",
			Critical: true,
			Check: func(context.Context) error {
				if opts.catalog.Version == "" {
					return errors.New("catalog version missing")
				}
				return nil
			},
		}}, repositories.WithDependencyClock(opts.clock))
		if err != nil {
			return svc, err
		}
	}

	build := opts.build
	if build.CatalogVersion == "" {
		build.CatalogVersion = opts.catalog.Version
	}
	build.Environment = firstNonEmpty(build.Environment, cfg.Security.Environment)
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            opts.clock,
		Build:            build,
	})
	if err != nil {
		return svc, err
	}
	svc.System = system

	return svc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
