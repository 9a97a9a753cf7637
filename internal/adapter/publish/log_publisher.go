package publish

import (
	"context"

	"go.uber.org/zap"

	"github.com/warebase/stockledger/internal/core/domain"
)

// LogPublisher stands in for the event stream when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	p.logger.Debug("ledger event",
		zap.String("key", ev.Key.String()),
		zap.Uint64("event_id", ev.EventID),
		zap.String("type", string(ev.Type)),
		zap.Int64("delta", ev.QuantityDelta),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
