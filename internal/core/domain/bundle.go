package domain

import (
	"fmt"
	"math"
)

// EvaluateAvailability computes the sellable availability of rootID from the
// resolved catalog subgraph and a consistent quantity snapshot of its leaf
// products. A plain product contributes its snapshot quantity clamped at
// zero. A bundle contributes the minimum over its components of
// floor(componentAvailability / QuantityPerBundle), evaluated bottom-up with
// shared subtrees computed once. Retired products contribute zero but their
// structure is still walked, so cycles and bad definitions surface either
// way.
func EvaluateAvailability(rootID string, products map[string]Product, quantities map[string]int64) (int64, error) {
	w := &bundleWalk{
		products:   products,
		quantities: quantities,
		memo:       make(map[string]int64),
		onStack:    make(map[string]bool),
	}
	return w.eval(rootID)
}

type bundleWalk struct {
	products   map[string]Product
	quantities map[string]int64
	memo       map[string]int64
	onStack    map[string]bool
	stack      []string
}

func (w *bundleWalk) eval(id string) (int64, error) {
	if avail, ok := w.memo[id]; ok {
		return avail, nil
	}
	if w.onStack[id] {
		path := append(append([]string(nil), w.stack...), id)
		return 0, &CycleError{Path: path}
	}
	p, ok := w.products[id]
	if !ok {
		return 0, &DefinitionError{ProductID: id, Reason: "product missing from catalog"}
	}
	if !p.IsBundle {
		avail := w.quantities[id]
		if avail < 0 {
			avail = 0
		}
		if p.Retired {
			avail = 0
		}
		w.memo[id] = avail
		return avail, nil
	}
	if len(p.Components) == 0 {
		return 0, &DefinitionError{ProductID: id, Reason: "bundle has no components"}
	}
	w.onStack[id] = true
	w.stack = append(w.stack, id)
	avail := int64(math.MaxInt64)
	for _, c := range p.Components {
		if c.QuantityPerBundle <= 0 {
			return 0, &DefinitionError{
				ProductID: id,
				Reason:    fmt.Sprintf("component %s has non-positive quantity per bundle", c.ProductID),
			}
		}
		componentAvail, err := w.eval(c.ProductID)
		if err != nil {
			return 0, err
		}
		if buildable := componentAvail / c.QuantityPerBundle; buildable < avail {
			avail = buildable
		}
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.onStack[id] = false
	if p.Retired {
		avail = 0
	}
	w.memo[id] = avail
	return avail, nil
}
