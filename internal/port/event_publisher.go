package port

import (
	"context"

	"github.com/warebase/stockledger/internal/core/domain"
)

type EventPublisher interface {
	// Publish delivers one admitted ledger event to downstream consumers
	Publish(ctx context.Context, ev domain.ChangeEvent) error

	// Close flushes and releases the underlying transport
	Close() error
}
