package domain

import (
	"fmt"
	"strings"
)

// Rule names the admission rule a rejected change failed, so callers can map
// rejections to responses without parsing messages.
type Rule string

const (
	RuleValidation        Rule = "validation"
	RuleInsufficientStock Rule = "insufficient_stock"
	RuleOverRelease       Rule = "over_release"
)

// Rejection explains why a change request was refused, carrying the values
// that drove the decision. It never indicates a fault in the engine.
type Rejection struct {
	Rule                Rule
	Key                 InventoryKey
	Type                ChangeType
	QuantityDelta       int64
	CurrentQuantity     int64
	ReservedOutstanding int64
	Reason              string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("change rejected (%s) for %s: %s", r.Rule, r.Key, r.Reason)
}

// CycleError reports a bundle that transitively contains itself. Path holds
// the product ids along the walk, ending at the repeated id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "bundle cycle detected: " + strings.Join(e.Path, " -> ")
}

// DefinitionError reports a bundle definition that cannot be resolved, such
// as a component missing from the catalog or a non-positive per-bundle
// quantity. Definitions are never auto-corrected.
type DefinitionError struct {
	ProductID string
	Reason    string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid bundle definition at %s: %s", e.ProductID, e.Reason)
}

// DivergenceError reports a live projection that no longer matches a replay
// of its ledger. Writes to the key stay blocked until it is reconciled.
type DivergenceError struct {
	Key              InventoryKey
	LiveQuantity     int64
	ReplayedQuantity int64
	LiveEventID      uint64
	ReplayedEventID  uint64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("projection diverged for %s: live %d at event %d, replay %d at event %d",
		e.Key, e.LiveQuantity, e.LiveEventID, e.ReplayedQuantity, e.ReplayedEventID)
}
