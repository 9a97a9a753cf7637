package domain

// Product is reference data owned by the catalog. The engine reads product
// structure when resolving availability and never mutates it; ledger history
// for a product outlives its retirement.
type Product struct {
	ID                string
	SKU               string
	Name              string
	PriceCents        int64
	IsBundle          bool
	Retired           bool
	LowStockThreshold int64
	Supplier          Supplier
	Components        []BundleComponent
}

// BundleComponent ties a bundle to one component product. QuantityPerBundle
// is how many units of the component one bundle consumes.
type BundleComponent struct {
	ProductID         string
	QuantityPerBundle int64
}

// Supplier is the reorder contact surfaced on low stock alerts.
type Supplier struct {
	ID           string
	Name         string
	ContactEmail string
}
