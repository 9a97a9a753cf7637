package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/port"
)

// MemoryCatalog is the in-process product catalog. It owns reference data
// only; quantities live in the ledger. Bundle definitions are validated
// structurally at write time, while graph-level problems such as cycles or
// components registered elsewhere surface at resolution time.
type MemoryCatalog struct {
	mu      sync.RWMutex
	byID    map[string]domain.Product
	idBySKU map[string]string
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		byID:    make(map[string]domain.Product),
		idBySKU: make(map[string]string),
	}
}

// RegisterProduct adds a product under a unique SKU. An empty ID is
// assigned; components may be given inline or attached later with
// DefineBundle.
func (c *MemoryCatalog) RegisterProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.SKU == "" {
		return domain.Product{}, errors.New("sku is required")
	}
	if p.Name == "" {
		return domain.Product{}, errors.New("name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.idBySKU[p.SKU]; taken {
		return domain.Product{}, fmt.Errorf("%w: %s", port.ErrSKUExists, p.SKU)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, taken := c.byID[p.ID]; taken {
		return domain.Product{}, fmt.Errorf("product id %s already registered", p.ID)
	}
	if len(p.Components) > 0 {
		if err := validateComponents(p.ID, p.Components); err != nil {
			return domain.Product{}, err
		}
		p.IsBundle = true
	}
	p.Components = cloneComponents(p.Components)
	c.byID[p.ID] = p
	c.idBySKU[p.SKU] = p.ID
	return p, nil
}

// DefineBundle sets the component list of an existing product, marking it a
// bundle. Components may reference products that are not registered yet;
// availability queries report those as definition errors.
func (c *MemoryCatalog) DefineBundle(ctx context.Context, productID string, components []domain.BundleComponent) error {
	if len(components) == 0 {
		return &domain.DefinitionError{ProductID: productID, Reason: "bundle has no components"}
	}
	if err := validateComponents(productID, components); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[productID]
	if !ok {
		return port.ErrProductNotFound
	}
	p.IsBundle = true
	p.Components = cloneComponents(components)
	c.byID[productID] = p
	return nil
}

func validateComponents(productID string, components []domain.BundleComponent) error {
	seen := make(map[string]bool, len(components))
	for _, comp := range components {
		if comp.ProductID == "" {
			return &domain.DefinitionError{ProductID: productID, Reason: "component product id is empty"}
		}
		if comp.ProductID == productID {
			return &domain.DefinitionError{ProductID: productID, Reason: "bundle references itself"}
		}
		if comp.QuantityPerBundle <= 0 {
			return &domain.DefinitionError{
				ProductID: productID,
				Reason:    fmt.Sprintf("component %s has non-positive quantity per bundle", comp.ProductID),
			}
		}
		if seen[comp.ProductID] {
			return &domain.DefinitionError{
				ProductID: productID,
				Reason:    fmt.Sprintf("component %s listed twice", comp.ProductID),
			}
		}
		seen[comp.ProductID] = true
	}
	return nil
}

// RetireProduct marks a product retired. Its ledger history stays readable
// and its availability resolves to zero.
func (c *MemoryCatalog) RetireProduct(ctx context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[productID]
	if !ok {
		return port.ErrProductNotFound
	}
	p.Retired = true
	c.byID[productID] = p
	return nil
}

func (c *MemoryCatalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[productID]
	if !ok {
		return domain.Product{}, port.ErrProductNotFound
	}
	p.Components = cloneComponents(p.Components)
	return p, nil
}

func (c *MemoryCatalog) Components(ctx context.Context, productID string) ([]domain.BundleComponent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[productID]
	if !ok {
		return nil, port.ErrProductNotFound
	}
	return cloneComponents(p.Components), nil
}

func (c *MemoryCatalog) Products(ctx context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Product, 0, len(c.byID))
	for _, p := range c.byID {
		p.Components = cloneComponents(p.Components)
		out = append(out, p)
	}
	return out, nil
}

func cloneComponents(components []domain.BundleComponent) []domain.BundleComponent {
	if len(components) == 0 {
		return nil
	}
	out := make([]domain.BundleComponent, len(components))
	copy(out, components)
	return out
}
