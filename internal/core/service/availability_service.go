package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/port"
)

type AvailabilityService struct {
	catalog port.Catalog
	store   port.LedgerRepository
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewAvailabilityService(catalog port.Catalog, store port.LedgerRepository, logger *zap.Logger) *AvailabilityService {
	return &AvailabilityService{
		catalog: catalog,
		store:   store,
		logger:  logger,
		tracer:  otel.Tracer("stockledger/availability"),
	}
}

// Availability resolves the sellable quantity of a product at one warehouse.
// The bundle graph is read fresh from the catalog on every call and all leaf
// quantities come from a single snapshot, so one answer never mixes states.
func (s *AvailabilityService) Availability(ctx context.Context, warehouseID, productID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "bundle.availability", trace.WithAttributes(
		attribute.String("warehouse.id", warehouseID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	products, err := s.collect(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if _, ok := products[productID]; !ok {
		return 0, fmt.Errorf("product %s: %w", productID, port.ErrProductNotFound)
	}

	leaves := make([]string, 0, len(products))
	for id, p := range products {
		if !p.IsBundle {
			leaves = append(leaves, id)
		}
	}
	quantities, err := s.store.SnapshotQuantities(ctx, warehouseID, leaves)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("snapshot quantities: %w", err)
	}

	avail, err := domain.EvaluateAvailability(productID, products, quantities)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		var cycle *domain.CycleError
		var def *domain.DefinitionError
		switch {
		case errors.As(err, &cycle):
			s.logger.Error("bundle cycle detected",
				zap.String("product_id", productID),
				zap.Strings("path", cycle.Path),
			)
		case errors.As(err, &def):
			s.logger.Error("invalid bundle definition",
				zap.String("product_id", productID),
				zap.String("at", def.ProductID),
				zap.String("reason", def.Reason),
			)
		}
		return 0, err
	}

	span.SetAttributes(attribute.Int64("bundle.availability", avail))
	return avail, nil
}

// collect walks the component graph breadth-first and returns every product
// reachable from rootID. Ids the catalog does not know stay absent so the
// evaluation can name them; the visited set keeps cyclic definitions from
// looping the walk.
func (s *AvailabilityService) collect(ctx context.Context, rootID string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product)
	pending := []string{rootID}
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if _, seen := products[id]; seen {
			continue
		}
		p, err := s.catalog.GetProduct(ctx, id)
		if errors.Is(err, port.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("catalog lookup %s: %w", id, err)
		}
		products[id] = p
		for _, comp := range p.Components {
			pending = append(pending, comp.ProductID)
		}
	}
	return products, nil
}
