package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/port"
)

// salesWindowDays is the trailing window used to estimate sales velocity.
const salesWindowDays = 30

// LowStockAlert carries what reorder tooling needs: the product, where it is
// short, how fast it sells, and who supplies it.
type LowStockAlert struct {
	ProductID         string
	SKU               string
	ProductName       string
	WarehouseID       string
	CurrentQuantity   int64
	Threshold         int64
	AvgDailySales     float64
	DaysUntilStockout int64
	Supplier          domain.Supplier
}

type LowStockReport struct {
	WarehouseID string
	GeneratedAt time.Time
	Alerts      []LowStockAlert
	TotalAlerts int
}

type AlertService struct {
	catalog port.Catalog
	store   port.LedgerRepository
	logger  *zap.Logger
}

func NewAlertService(catalog port.Catalog, store port.LedgerRepository, logger *zap.Logger) *AlertService {
	return &AlertService{catalog: catalog, store: store, logger: logger}
}

// Report lists products in one warehouse sitting below their reorder
// threshold. Velocity is the trailing 30 day sales total divided by 30;
// products with no sales in the window are left out since an estimated
// stockout date would be meaningless for them.
func (s *AlertService) Report(ctx context.Context, warehouseID string) (LowStockReport, error) {
	report := LowStockReport{WarehouseID: warehouseID, GeneratedAt: time.Now().UTC()}

	products, err := s.catalog.Products(ctx)
	if err != nil {
		return LowStockReport{}, err
	}
	windowStart := report.GeneratedAt.Add(-salesWindowDays * 24 * time.Hour)

	for _, p := range products {
		if p.IsBundle || p.Retired || p.LowStockThreshold <= 0 {
			continue
		}
		key := domain.InventoryKey{WarehouseID: warehouseID, ProductID: p.ID}
		proj, err := s.store.Projection(ctx, key)
		if err != nil {
			return LowStockReport{}, err
		}
		if proj.CurrentQuantity >= p.LowStockThreshold {
			continue
		}
		sold, err := s.store.SoldSince(ctx, key, windowStart)
		if err != nil {
			return LowStockReport{}, err
		}
		if sold <= 0 {
			continue
		}

		avgDaily := float64(sold) / float64(salesWindowDays)
		var daysLeft int64
		if proj.CurrentQuantity > 0 {
			daysLeft = int64(math.Ceil(float64(proj.CurrentQuantity) / avgDaily))
		}
		report.Alerts = append(report.Alerts, LowStockAlert{
			ProductID:         p.ID,
			SKU:               p.SKU,
			ProductName:       p.Name,
			WarehouseID:       warehouseID,
			CurrentQuantity:   proj.CurrentQuantity,
			Threshold:         p.LowStockThreshold,
			AvgDailySales:     avgDaily,
			DaysUntilStockout: daysLeft,
			Supplier:          p.Supplier,
		})
	}

	sort.Slice(report.Alerts, func(i, j int) bool {
		if report.Alerts[i].DaysUntilStockout != report.Alerts[j].DaysUntilStockout {
			return report.Alerts[i].DaysUntilStockout < report.Alerts[j].DaysUntilStockout
		}
		return report.Alerts[i].ProductID < report.Alerts[j].ProductID
	})
	report.TotalAlerts = len(report.Alerts)
	return report, nil
}

// CheckThreshold inspects one admitted change and reports whether it carried
// the quantity from at-or-above the product's threshold to below it. Only
// the crossing fires, so a level hovering below threshold does not spam.
func (s *AlertService) CheckThreshold(ctx context.Context, ev domain.ChangeEvent, quantityAfter int64) (*LowStockAlert, error) {
	if ev.QuantityDelta >= 0 {
		return nil, nil
	}
	p, err := s.catalog.GetProduct(ctx, ev.Key.ProductID)
	if errors.Is(err, port.ErrProductNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.IsBundle || p.Retired || p.LowStockThreshold <= 0 {
		return nil, nil
	}

	before := quantityAfter - ev.QuantityDelta
	if before < p.LowStockThreshold || quantityAfter >= p.LowStockThreshold {
		return nil, nil
	}

	alert := &LowStockAlert{
		ProductID:       p.ID,
		SKU:             p.SKU,
		ProductName:     p.Name,
		WarehouseID:     ev.Key.WarehouseID,
		CurrentQuantity: quantityAfter,
		Threshold:       p.LowStockThreshold,
		Supplier:        p.Supplier,
	}
	s.logger.Warn("stock crossed low threshold",
		zap.String("key", ev.Key.String()),
		zap.String("sku", p.SKU),
		zap.Int64("quantity", quantityAfter),
		zap.Int64("threshold", p.LowStockThreshold),
		zap.String("supplier", p.Supplier.Name),
	)
	return alert, nil
}
