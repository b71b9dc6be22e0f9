package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/homefit-remodel/api/internal/catalog"
	"github.com/homefit-remodel/api/internal/platform/config"
	"github.com/homefit-remodel/api/internal/platform/events"
	pfirestore "github.com/homefit-remodel/api/internal/platform/firestore"
	"github.com/homefit-remodel/api/internal/platform/postgres"
	"github.com/homefit-remodel/api/internal/platform/secrets"
	platformstorage "github.com/homefit-remodel/api/internal/platform/storage"
	"github.com/homefit-remodel/api/internal/repositories"
	firestoreRepo "github.com/homefit-remodel/api/internal/repositories/firestore"
	"github.com/homefit-remodel/api/internal/repositories/memory"
	postgresRepo "github.com/homefit-remodel/api/internal/repositories/postgres"
	"github.com/homefit-remodel/api/internal/services"
)

const closeTimeout = 5 * time.Second

// openBackend connects the configured price/trace store. The returned checks probe it for readiness.
func openBackend(ctx context.Context, cfg config.Config, c *catalog.Catalog, clock func() time.Time) (repositories.Backend, []repositories.DependencyCheck, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		prices, err := firestoreRepo.NewPriceRepository(provider)
		if err != nil {
			return repositories.Backend{}, nil, err
		}
		traces, err := firestoreRepo.NewTraceRepository(provider, clock)
		if err != nil {
			return repositories.Backend{}, nil, err
		}
		return repositories.Backend{
				Prices:  prices,
				Traces:  traces,
				Closers: []func(context.Context) error{provider.Close},
			}, []repositories.DependencyCheck{{
				Name:     "price-store",
				Critical: true,
				Check:    provider.Ping,
			}}, nil

	case config.StoreBackendPostgres:
		pool, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return repositories.Backend{}, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return repositories.Backend{}, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		prices, err := postgresRepo.NewPriceRepository(pool)
		if err != nil {
			pool.Close()
			return repositories.Backend{}, nil, err
		}
		traces, err := postgresRepo.NewTraceRepository(pool, clock)
		if err != nil {
			pool.Close()
			return repositories.Backend{}, nil, err
		}
		return repositories.Backend{
				Prices: prices,
				Traces: traces,
				Closers: []func(context.Context) error{func(context.Context) error {
					pool.Close()
					return nil
				}},
			}, []repositories.DependencyCheck{{
				Name:     "price-store",
				Critical: true,
				Check:    pool.Ping,
			}}, nil

	default:
		prices, err := memory.NewPriceRepository(c.PriceRows(), c.QuantityRules)
		if err != nil {
			return repositories.Backend{}, nil, fmt.Errorf("seed memory price store: %w", err)
		}
		return repositories.Backend{
				Prices: prices,
				Traces: memory.NewTraceRepository(clock),
			}, []repositories.DependencyCheck{{
				Name:     "price-store",
				Critical: true,
				Check:    func(context.Context) error { return nil },
			}}, nil
	}
}

// loadCatalog prefers the GCS object, then the local file, then the embedded default.
// The storage reader is returned for readiness probing when a bucket is configured.
func loadCatalog(ctx context.Context, cfg config.CatalogConfig, storageCfg config.StorageConfig) (*catalog.Catalog, *platformstorage.Reader, *gcs.Client, error) {
	if strings.TrimSpace(cfg.Bucket) != "" {
		client, err := platformstorage.NewClient(ctx, storageCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage client: %w", err)
		}
		reader, err := platformstorage.NewReader(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		c, err := catalog.LoadObject(ctx, reader, cfg.Bucket, cfg.Object)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		return c, reader, client, nil
	}
	if strings.TrimSpace(cfg.Path) != "" {
		c, err := catalog.LoadFile(cfg.Path)
		return c, nil, nil, err
	}
	c, err := catalog.Default()
	return c, nil, nil, err
}

type eventSink struct {
	publisher services.EventPublisher
	check     *repositories.DependencyCheck
	close     func(context.Context) error
}

// newEventSink publishes to Pub/Sub when a topic is configured and logs events otherwise.
func newEventSink(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (eventSink, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return eventSink{publisher: events.NewLogEventPublisher(logger)}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return eventSink{}, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := events.NewPubSubEventPublisher(client.Topic(cfg.Topic))
	if err != nil {
		_ = client.Close()
		return eventSink{}, err
	}
	return eventSink{
		publisher: publisher,
		check: &repositories.DependencyCheck{
			Name:    "events",
			Timeout: time.Second,
			Check:   publisher.Ping,
		},
		close: func(context.Context) error {
			publisher.Stop()
			return client.Close()
		},
	}, nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, lookup func(string) (string, bool)) (*secrets.Fetcher, error) {
	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if project := get("API_SECRETS_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if fallback := get("API_SECRETS_FALLBACK_FILE"); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(lookup func(string) (string, bool)) []string {
	backend, _ := lookup("API_STORE_BACKEND")
	if strings.EqualFold(strings.TrimSpace(backend), config.StoreBackendPostgres) {
		return []string{"Postgres.DSN"}
	}
	return nil
}

func buildInfoFromLookup(lookup func(string) (string, bool), cfg config.Config, c *catalog.Catalog, started time.Time) services.BuildInfo {
	get := func(key, fallback string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return fallback
	}
	info := services.BuildInfo{
		Version:     get("API_BUILD_VERSION", "dev"),
		CommitSHA:   get("API_BUILD_COMMIT_SHA", "unknown"),
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
	if info.Environment == "" {
		info.Environment = "local"
	}
	if c != nil {
		info.CatalogVersion = c.Version
	}
	return info
}

func traceProjectID(cfg config.Config) string {
	for _, id := range []string{cfg.Firestore.ProjectID, cfg.Events.ProjectID, cfg.Security.SecretsProjectID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}
