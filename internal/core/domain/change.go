package domain

import "time"

// ChangeType classifies a ledger entry. The type decides the sign rules and
// stock checks a change must pass before it is appended.
type ChangeType string

const (
	ChangeReceived   ChangeType = "received"
	ChangeSold       ChangeType = "sold"
	ChangeAdjustment ChangeType = "adjustment"
	ChangeReserved   ChangeType = "reserved"
	ChangeReleased   ChangeType = "released"
)

func (t ChangeType) Valid() bool {
	switch t {
	case ChangeReceived, ChangeSold, ChangeAdjustment, ChangeReserved, ChangeReleased:
		return true
	}
	return false
}

// InventoryKey identifies one stock position: a product at a warehouse.
type InventoryKey struct {
	WarehouseID string
	ProductID   string
}

func (k InventoryKey) String() string {
	return k.WarehouseID + "/" + k.ProductID
}

// ChangeEvent is one immutable entry of the inventory ledger. EventID is
// assigned at admission and is monotonic per key with no gaps; the ordered
// event sequence of a key is the sole source of truth for its quantity.
type ChangeEvent struct {
	EventID       uint64
	UID           string
	Key           InventoryKey
	Type          ChangeType
	QuantityDelta int64
	OccurredAt    time.Time
	Reference     string
}

// ChangeRequest is a proposed ledger entry before admission. RequestID is an
// optional client token used to fence duplicate submissions.
type ChangeRequest struct {
	Key           InventoryKey
	Type          ChangeType
	QuantityDelta int64
	Reference     string
	RequestID     string
}
