package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

// AdmittedChange pairs an appended event with the quantity it landed on, so
// dispatch consumers can reason about level crossings without re-reading.
type AdmittedChange struct {
	Event    domain.ChangeEvent
	Quantity int64
}

type LedgerService struct {
	store    port.LedgerRepository
	cache    port.CacheRepository
	logger   *zap.Logger
	tracer   trace.Tracer
	dispatch chan AdmittedChange
}

// NewLedgerService wires the admission pipeline. cache may be nil, in which
// case request ids are not fenced and retries can land twice.
func NewLedgerService(store port.LedgerRepository, cache port.CacheRepository, logger *zap.Logger, queueSize int) *LedgerService {
	return &LedgerService{
		store:    store,
		cache:    cache,
		logger:   logger,
		tracer:   otel.Tracer("stockledger/ledger"),
		dispatch: make(chan AdmittedChange, queueSize),
	}
}

// Submit validates a change against the key's live projection and appends it
// to the ledger as one atomic step. Admitted changes are handed to the
// dispatch queue for publishing and threshold checks.
func (s *LedgerService) Submit(ctx context.Context, req domain.ChangeRequest) (AdmittedChange, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.submit", trace.WithAttributes(
		attribute.String("inventory.key", req.Key.String()),
		attribute.String("change.type", string(req.Type)),
		attribute.Int64("change.delta", req.QuantityDelta),
	))
	defer span.End()

	if req.RequestID != "" && s.cache != nil {
		ok, err := s.cache.SetIdempotency(ctx, req.RequestID)
		if err != nil {
			return AdmittedChange{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return AdmittedChange{}, ErrDuplicateRequest
		}
	}

	uid := uuid.NewString()
	now := time.Now().UTC()
	ev, proj, err := s.store.Admit(ctx, req.Key, func(p domain.Projection) (domain.ChangeEvent, error) {
		if rej := domain.AdmitChange(p, req); rej != nil {
			return domain.ChangeEvent{}, rej
		}
		return domain.ChangeEvent{
			UID:           uid,
			Key:           req.Key,
			Type:          req.Type,
			QuantityDelta: req.QuantityDelta,
			OccurredAt:    now,
			Reference:     req.Reference,
		}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "change refused")
		var rej *domain.Rejection
		if errors.As(err, &rej) {
			s.logger.Debug("change rejected",
				zap.String("key", req.Key.String()),
				zap.String("rule", string(rej.Rule)),
				zap.String("reason", rej.Reason),
			)
		}
		return AdmittedChange{}, err
	}

	span.SetAttributes(attribute.Int64("ledger.event_id", int64(ev.EventID)))
	s.logger.Info("change admitted",
		zap.String("key", req.Key.String()),
		zap.String("type", string(ev.Type)),
		zap.Int64("delta", ev.QuantityDelta),
		zap.Uint64("event_id", ev.EventID),
		zap.Int64("quantity", proj.CurrentQuantity),
	)

	admitted := AdmittedChange{Event: ev, Quantity: proj.CurrentQuantity}
	s.dispatch <- admitted
	return admitted, nil
}

// Quantity reads the live projected quantity; a key with no history reads 0.
func (s *LedgerService) Quantity(ctx context.Context, key domain.InventoryKey) (int64, error) {
	p, err := s.store.Projection(ctx, key)
	if err != nil {
		return 0, err
	}
	return p.CurrentQuantity, nil
}

// History returns key's events with ids above sinceEventID, oldest first.
func (s *LedgerService) History(ctx context.Context, key domain.InventoryKey, sinceEventID uint64) ([]domain.ChangeEvent, error) {
	return s.store.Events(ctx, key, sinceEventID)
}

// Audit replays key's ledger and compares it against the live projection.
// On divergence the key is left blocked for writes and the error reports
// both sides.
func (s *LedgerService) Audit(ctx context.Context, key domain.InventoryKey) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.audit", trace.WithAttributes(
		attribute.String("inventory.key", key.String()),
	))
	defer span.End()

	p, err := s.store.Verify(ctx, key)
	if err != nil {
		span.RecordError(err)
		var div *domain.DivergenceError
		if errors.As(err, &div) {
			span.SetStatus(codes.Error, "projection diverged")
			s.logger.Error("projection diverged",
				zap.String("key", key.String()),
				zap.Int64("live_quantity", div.LiveQuantity),
				zap.Int64("replayed_quantity", div.ReplayedQuantity),
				zap.Uint64("live_event_id", div.LiveEventID),
				zap.Uint64("replayed_event_id", div.ReplayedEventID),
			)
		}
		return 0, err
	}
	return p.CurrentQuantity, nil
}

// Reconcile rebuilds key's projection from its full ledger, installs the
// result, and unblocks writes.
func (s *LedgerService) Reconcile(ctx context.Context, key domain.InventoryKey) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.reconcile", trace.WithAttributes(
		attribute.String("inventory.key", key.String()),
	))
	defer span.End()

	p, err := s.store.Reconcile(ctx, key)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	s.logger.Info("projection reconciled",
		zap.String("key", key.String()),
		zap.Int64("quantity", p.CurrentQuantity),
		zap.Uint64("event_id", p.LastAppliedEventID),
	)
	return p.CurrentQuantity, nil
}

func (s *LedgerService) Dispatch() <-chan AdmittedChange {
	return s.dispatch
}

func (s *LedgerService) Close() {
	close(s.dispatch)
}
