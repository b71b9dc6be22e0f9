package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/homefit-remodel/api/internal/services"
)

// LogEventPublisher writes events to the structured log when no topic is configured.
type LogEventPublisher struct {
	logger *zap.Logger
}

var _ services.EventPublisher = (*LogEventPublisher)(nil)

// NewLogEventPublisher returns a publisher that logs events. A nil logger discards them.
func NewLogEventPublisher(logger *zap.Logger) *LogEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEventPublisher{logger: logger.Named("events")}
}

func (p *LogEventPublisher) PublishEstimateCalculated(_ context.Context, event services.EstimateCalculatedEvent) error {
	p.logger.Info(services.EventEstimateCalculated,
		zap.String("estimateId", event.EstimateID),
		zap.String("grade", string(event.Grade)),
		zap.Int64("totalWithVat", event.TotalWithVAT),
		zap.Int("blockCount", event.BlockCount),
		zap.Int("failureCount", event.FailureCount),
		zap.String("outputHash", event.OutputHash),
	)
	return nil
}

func (p *LogEventPublisher) PublishReproducibilityMismatch(_ context.Context, event services.ReproducibilityMismatchEvent) error {
	p.logger.Error(services.EventEstimateReproducibilityFailed,
		zap.String("source", event.Source),
		zap.String("inputHash", event.InputHash),
		zap.String("expectedHash", event.ExpectedHash),
		zap.String("actualHash", event.ActualHash),
	)
	return nil
}
