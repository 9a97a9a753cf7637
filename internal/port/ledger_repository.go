package port

import (
	"context"
	"time"

	"github.com/warebase/stockledger/internal/core/domain"
)

// DecideFunc inspects the projection a change would apply to and returns
// either the event to append or the error refusing it. It runs while the
// key's writer serialization is held, so the projection cannot move
// underneath the decision.
type DecideFunc func(p domain.Projection) (domain.ChangeEvent, error)

type LedgerRepository interface {
	// Admit runs decide under per-key serialization, assigns the next event id,
	// and appends and applies the event as one atomic unit; returns the event
	// and the projection after it
	Admit(ctx context.Context, key domain.InventoryKey, decide DecideFunc) (domain.ChangeEvent, domain.Projection, error)

	// Projection returns the live projection; a key with no history yields a zero projection
	Projection(ctx context.Context, key domain.InventoryKey) (domain.Projection, error)

	// Events returns the ordered events for key with event id greater than sinceEventID
	Events(ctx context.Context, key domain.InventoryKey, sinceEventID uint64) ([]domain.ChangeEvent, error)

	// SnapshotQuantities reads the current quantity of every listed product in
	// one warehouse at a single consistent point
	SnapshotQuantities(ctx context.Context, warehouseID string, productIDs []string) (map[string]int64, error)

	// SoldSince totals units sold for key strictly after since
	SoldSince(ctx context.Context, key domain.InventoryKey, since time.Time) (int64, error)

	// Verify replays key's ledger and compares the result to the live
	// projection; on mismatch the key is marked diverged and admissions fail
	// until Reconcile repairs it
	Verify(ctx context.Context, key domain.InventoryKey) (domain.Projection, error)

	// Reconcile rebuilds the projection from the full ledger, installs the
	// result, and clears any divergence mark
	Reconcile(ctx context.Context, key domain.InventoryKey) (domain.Projection, error)
}
