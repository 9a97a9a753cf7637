package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warebase/stockledger/internal/core/domain"
)

// KafkaPublisher streams admitted ledger events to a topic as JSON. Messages
// are keyed by inventory key, so consumers see each key's events in ledger
// order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
	}
}

type eventMessage struct {
	EventID       uint64 `json:"event_id"`
	UID           string `json:"uid"`
	WarehouseID   string `json:"warehouse_id"`
	ProductID     string `json:"product_id"`
	ChangeType    string `json:"change_type"`
	QuantityDelta int64  `json:"quantity_delta"`
	OccurredAt    string `json:"occurred_at"`
	Reference     string `json:"reference,omitempty"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := json.Marshal(eventMessage{
		EventID:       ev.EventID,
		UID:           ev.UID,
		WarehouseID:   ev.Key.WarehouseID,
		ProductID:     ev.Key.ProductID,
		ChangeType:    string(ev.Type),
		QuantityDelta: ev.QuantityDelta,
		OccurredAt:    ev.OccurredAt.Format(time.RFC3339Nano),
		Reference:     ev.Reference,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Key.String()),
		Value: payload,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
