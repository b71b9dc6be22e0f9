package services

import (
	"context"
	"time"

	domain "github.com/homefit-remodel/api/internal/domain"
)

const (
	EventEstimateCalculated            = "estimate.calculated"
	EventEstimateReproducibilityFailed = "estimate.reproducibility_mismatch"
)

// EstimateCalculatedEvent summarises a completed estimate for downstream consumers.
type EstimateCalculatedEvent struct {
	EstimateID   string           `json:"estimateId"`
	Grade        domain.GradeTier `json:"grade"`
	TotalWithVAT int64            `json:"totalWithVat"`
	BlockCount   int              `json:"blockCount"`
	FailureCount int              `json:"failureCount"`
	InputHash    string           `json:"inputHash"`
	OutputHash   string           `json:"outputHash"`
	OccurredAt   time.Time        `json:"occurredAt"`
}

// ReproducibilityMismatchEvent flags a recomputation that did not reproduce an expected output hash.
type ReproducibilityMismatchEvent struct {
	Source       string    `json:"source"`
	InputHash    string    `json:"inputHash"`
	ExpectedHash string    `json:"expectedHash"`
	ActualHash   string    `json:"actualHash"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// EventPublisher emits estimate lifecycle events.
type EventPublisher interface {
	PublishEstimateCalculated(ctx context.Context, event EstimateCalculatedEvent) error
	PublishReproducibilityMismatch(ctx context.Context, event ReproducibilityMismatchEvent) error
}

type noopEventPublisher struct{}

func (noopEventPublisher) PublishEstimateCalculated(context.Context, EstimateCalculatedEvent) error {
	return nil
}

func (noopEventPublisher) PublishReproducibilityMismatch(context.Context, ReproducibilityMismatchEvent) error {
	return nil
}
