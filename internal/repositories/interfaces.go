package repositories

import (
	"context"

	domain "github.com/homefit-remodel/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
// Seeder returns nil when the backend cannot be written from the catalog.
type Registry interface {
	Close(ctx context.Context) error

	Prices() PriceRepository
	Seeder() PriceSeeder
	Traces() TraceRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// PriceRepository is the authoritative price table. Only rows flagged valid are served.
type PriceRepository interface {
	FindPrice(ctx context.Context, itemCode string, grade domain.GradeTier) (domain.PriceQuote, error)
	FindQuantityRule(ctx context.Context, itemCode string) (domain.QuantityRule, error)
}

// PriceSeeder loads price rows and quantity rules into a backend, replacing existing entries with the same key.
type PriceSeeder interface {
	UpsertPrices(ctx context.Context, rows []domain.PriceRow) error
	UpsertQuantityRules(ctx context.Context, rules []domain.QuantityRule) error
}

// TraceRepository persists the per-session question log and answer map. The log is append-only.
type TraceRepository interface {
	AppendQuestion(ctx context.Context, sessionID, questionCode string) (domain.QuestionLogEntry, error)
	SaveAnswer(ctx context.Context, sessionID, questionCode, value string) error
	// LoadTrace returns an empty trace for unknown sessions.
	LoadTrace(ctx context.Context, sessionID string) (domain.DecisionTrace, error)
}

// HealthRepository exposes dependency health information.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
