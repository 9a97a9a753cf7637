package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/port"
)

func TestRegisterProduct_AssignsID(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	p, err := c.RegisterProduct(ctx, domain.Product{SKU: "WIDGET-1", Name: "Widget"})
	if err != nil {
		t.Fatalf("RegisterProduct failed: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected an assigned product id")
	}

	got, err := c.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if got.SKU != "WIDGET-1" || got.Name != "Widget" {
		t.Errorf("unexpected product %+v", got)
	}
}

func TestRegisterProduct_DuplicateSKU(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	if _, err := c.RegisterProduct(ctx, domain.Product{SKU: "DUP-1", Name: "First"}); err != nil {
		t.Fatalf("RegisterProduct failed: %v", err)
	}
	_, err := c.RegisterProduct(ctx, domain.Product{SKU: "DUP-1", Name: "Second"})
	if !errors.Is(err, port.ErrSKUExists) {
		t.Errorf("expected ErrSKUExists, got %v", err)
	}
}

func TestRegisterProduct_RequiresSKUAndName(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	if _, err := c.RegisterProduct(ctx, domain.Product{Name: "No SKU"}); err == nil {
		t.Error("expected error for missing sku")
	}
	if _, err := c.RegisterProduct(ctx, domain.Product{SKU: "NO-NAME"}); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestDefineBundle(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	base, _ := c.RegisterProduct(ctx, domain.Product{SKU: "BASE", Name: "Base"})
	kit, _ := c.RegisterProduct(ctx, domain.Product{SKU: "KIT", Name: "Kit"})

	err := c.DefineBundle(ctx, kit.ID, []domain.BundleComponent{{ProductID: base.ID, QuantityPerBundle: 2}})
	if err != nil {
		t.Fatalf("DefineBundle failed: %v", err)
	}

	got, _ := c.GetProduct(ctx, kit.ID)
	if !got.IsBundle {
		t.Error("expected product to become a bundle")
	}
	comps, err := c.Components(ctx, kit.ID)
	if err != nil {
		t.Fatalf("Components failed: %v", err)
	}
	if len(comps) != 1 || comps[0].ProductID != base.ID || comps[0].QuantityPerBundle != 2 {
		t.Errorf("unexpected components %+v", comps)
	}
}

func TestDefineBundle_Validation(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()
	kit, _ := c.RegisterProduct(ctx, domain.Product{SKU: "KIT", Name: "Kit"})
	base, _ := c.RegisterProduct(ctx, domain.Product{SKU: "BASE", Name: "Base"})

	cases := []struct {
		name       string
		productID  string
		components []domain.BundleComponent
	}{
		{"empty components", kit.ID, nil},
		{"self reference", kit.ID, []domain.BundleComponent{{ProductID: kit.ID, QuantityPerBundle: 1}}},
		{"zero per bundle", kit.ID, []domain.BundleComponent{{ProductID: base.ID, QuantityPerBundle: 0}}},
		{"negative per bundle", kit.ID, []domain.BundleComponent{{ProductID: base.ID, QuantityPerBundle: -1}}},
		{"duplicate component", kit.ID, []domain.BundleComponent{
			{ProductID: base.ID, QuantityPerBundle: 1},
			{ProductID: base.ID, QuantityPerBundle: 2},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.DefineBundle(ctx, tc.productID, tc.components)
			var def *domain.DefinitionError
			if !errors.As(err, &def) {
				t.Errorf("expected definition error, got %v", err)
			}
		})
	}

	if err := c.DefineBundle(ctx, "missing", []domain.BundleComponent{{ProductID: base.ID, QuantityPerBundle: 1}}); !errors.Is(err, port.ErrProductNotFound) {
		t.Errorf("expected not found for unknown bundle, got %v", err)
	}
}

func TestDefineBundle_AllowsUnregisteredComponent(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()
	kit, _ := c.RegisterProduct(ctx, domain.Product{SKU: "KIT", Name: "Kit"})

	// The component may be registered later; resolution reports it until then.
	err := c.DefineBundle(ctx, kit.ID, []domain.BundleComponent{{ProductID: "not-yet", QuantityPerBundle: 1}})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRetireProduct(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()
	p, _ := c.RegisterProduct(ctx, domain.Product{SKU: "OLD", Name: "Old"})

	if err := c.RetireProduct(ctx, p.ID); err != nil {
		t.Fatalf("RetireProduct failed: %v", err)
	}
	got, err := c.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("retired product must stay readable: %v", err)
	}
	if !got.Retired {
		t.Error("expected product to be retired")
	}

	if err := c.RetireProduct(ctx, "missing"); !errors.Is(err, port.ErrProductNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGetProduct_CopiesComponents(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()
	base, _ := c.RegisterProduct(ctx, domain.Product{SKU: "BASE", Name: "Base"})
	kit, _ := c.RegisterProduct(ctx, domain.Product{SKU: "KIT", Name: "Kit"})
	c.DefineBundle(ctx, kit.ID, []domain.BundleComponent{{ProductID: base.ID, QuantityPerBundle: 3}})

	got, _ := c.GetProduct(ctx, kit.ID)
	got.Components[0].QuantityPerBundle = 99

	again, _ := c.GetProduct(ctx, kit.ID)
	if again.Components[0].QuantityPerBundle != 3 {
		t.Error("catalog state must not be mutable through returned slices")
	}
}
