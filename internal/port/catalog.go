package port

import (
	"context"
	"errors"

	"github.com/warebase/stockledger/internal/core/domain"
)

// ErrProductNotFound is returned by catalog lookups for unknown product ids.
var ErrProductNotFound = errors.New("product not found")

// ErrSKUExists is returned when registering a product under a taken SKU.
var ErrSKUExists = errors.New("sku already registered")

type Catalog interface {
	// GetProduct returns one product with its component list populated
	GetProduct(ctx context.Context, productID string) (domain.Product, error)

	// Components returns the component list of a bundle
	Components(ctx context.Context, productID string) ([]domain.BundleComponent, error)

	// Products returns every registered product
	Products(ctx context.Context) ([]domain.Product, error)
}
