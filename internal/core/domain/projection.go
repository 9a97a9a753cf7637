package domain

import "fmt"

// Projection is the derived view of one inventory key: the running quantity
// and the reserved units not yet released. It is a rebuildable cache over
// the ledger, never an independent source of truth.
type Projection struct {
	Key                 InventoryKey
	CurrentQuantity     int64
	ReservedOutstanding int64
	LastAppliedEventID  uint64
}

// Apply folds one event into the projection. Events at or below
// LastAppliedEventID are ignored, so replaying a prefix cannot double-count.
func (p *Projection) Apply(ev ChangeEvent) {
	if ev.EventID <= p.LastAppliedEventID {
		return
	}
	p.CurrentQuantity += ev.QuantityDelta
	switch ev.Type {
	case ChangeReserved, ChangeReleased:
		// reserved deltas are negative and raise the outstanding count;
		// released deltas are positive and lower it
		p.ReservedOutstanding -= ev.QuantityDelta
	}
	p.LastAppliedEventID = ev.EventID
}

// Replay folds an ordered event sequence into a fresh projection for key.
// Folding the full ledger this way must land on the same state as the
// incremental applies that built the live projection.
func Replay(key InventoryKey, events []ChangeEvent) Projection {
	p := Projection{Key: key}
	for _, ev := range events {
		p.Apply(ev)
	}
	return p
}

// Equal reports whether two projections describe the same state.
func (p Projection) Equal(other Projection) bool {
	return p.CurrentQuantity == other.CurrentQuantity &&
		p.ReservedOutstanding == other.ReservedOutstanding &&
		p.LastAppliedEventID == other.LastAppliedEventID
}

// ValidateRequest checks the shape of a change request: key fields, change
// type, delta sign per type, and the adjustment reference requirement.
func ValidateRequest(r ChangeRequest) *Rejection {
	reject := func(reason string) *Rejection {
		return &Rejection{
			Rule:          RuleValidation,
			Key:           r.Key,
			Type:          r.Type,
			QuantityDelta: r.QuantityDelta,
			Reason:        reason,
		}
	}
	if r.Key.WarehouseID == "" || r.Key.ProductID == "" {
		return reject("warehouse and product are required")
	}
	if !r.Type.Valid() {
		return reject(fmt.Sprintf("unknown change type %q", r.Type))
	}
	if r.QuantityDelta == 0 {
		return reject("quantity delta must be non-zero")
	}
	switch r.Type {
	case ChangeReceived:
		if r.QuantityDelta < 0 {
			return reject("received delta must be positive")
		}
	case ChangeSold:
		if r.QuantityDelta > 0 {
			return reject("sold delta must be negative")
		}
	case ChangeReserved:
		if r.QuantityDelta > 0 {
			return reject("reserved delta must be negative")
		}
	case ChangeReleased:
		if r.QuantityDelta < 0 {
			return reject("released delta must be positive")
		}
	case ChangeAdjustment:
		if r.Reference == "" {
			return reject("adjustment requires a reference")
		}
	}
	return nil
}

// AdmitChange evaluates a request against the projection it would apply to.
// A nil result means the change may be appended. Sold and reserved changes
// must not push the quantity negative; released changes must not exceed the
// reserved outstanding. Adjustments carry no sufficiency check, so they are
// the one path to a negative quantity.
func AdmitChange(p Projection, r ChangeRequest) *Rejection {
	if rej := ValidateRequest(r); rej != nil {
		return rej
	}
	switch r.Type {
	case ChangeSold, ChangeReserved:
		if p.CurrentQuantity+r.QuantityDelta < 0 {
			return &Rejection{
				Rule:                RuleInsufficientStock,
				Key:                 r.Key,
				Type:                r.Type,
				QuantityDelta:       r.QuantityDelta,
				CurrentQuantity:     p.CurrentQuantity,
				ReservedOutstanding: p.ReservedOutstanding,
				Reason:              fmt.Sprintf("insufficient stock: have %d, need %d", p.CurrentQuantity, -r.QuantityDelta),
			}
		}
	case ChangeReleased:
		if r.QuantityDelta > p.ReservedOutstanding {
			return &Rejection{
				Rule:                RuleOverRelease,
				Key:                 r.Key,
				Type:                r.Type,
				QuantityDelta:       r.QuantityDelta,
				CurrentQuantity:     p.CurrentQuantity,
				ReservedOutstanding: p.ReservedOutstanding,
				Reason:              fmt.Sprintf("cannot release %d with %d reserved", r.QuantityDelta, p.ReservedOutstanding),
			}
		}
	}
	return nil
}
