package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/warebase/stockledger/internal/adapter/catalog"
	"github.com/warebase/stockledger/internal/adapter/storage"
	"github.com/warebase/stockledger/internal/core/service"
	"github.com/warebase/stockledger/internal/port"
)

type fakeCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{seen: make(map[string]bool)}
}

func (c *fakeCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[key] {
		return false, nil
	}
	c.seen[key] = true
	return true, nil
}

type fixture struct {
	catalog *catalog.MemoryCatalog
	mux     *http.ServeMux
}

func newFixture(t *testing.T, cache port.CacheRepository) *fixture {
	t.Helper()
	store := storage.NewMemoryAdapter()
	cat := catalog.NewMemoryCatalog()
	logger := zap.NewNop()

	ledger := service.NewLedgerService(store, cache, logger, 100)
	availability := service.NewAvailabilityService(cat, store, logger)
	alerts := service.NewAlertService(cat, store, logger)
	t.Cleanup(func() {
		ledger.Close()
		for range ledger.Dispatch() {
		}
	})

	mux := http.NewServeMux()
	NewHTTPHandler(ledger, availability, alerts, cat).Register(mux)
	return &fixture{catalog: cat, mux: mux}
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (f *fixture) registerProduct(t *testing.T, req ProductHTTPRequest) ProductHTTPResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/products", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register product: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ProductHTTPResponse
	decodeJSON(t, rec, &resp)
	return resp
}

func (f *fixture) submit(t *testing.T, req ChangeHTTPRequest) ChangeHTTPResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/changes", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit change: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ChangeHTTPResponse
	decodeJSON(t, rec, &resp)
	return resp
}

func TestSubmitChange(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.submit(t, ChangeHTTPRequest{
		WarehouseID:   "wh-1",
		ProductID:     "prod-1",
		ChangeType:    "received",
		QuantityDelta: 50,
	})
	if resp.EventID != 1 {
		t.Errorf("expected event id 1, got %d", resp.EventID)
	}
	if resp.Quantity != 50 {
		t.Errorf("expected quantity 50, got %d", resp.Quantity)
	}
	if resp.UID == "" {
		t.Error("expected a uid on the response")
	}

	rec := f.do(t, http.MethodGet, "/api/quantity?warehouse_id=wh-1&product_id=prod-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var qty struct {
		Quantity int64 `json:"quantity"`
	}
	decodeJSON(t, rec, &qty)
	if qty.Quantity != 50 {
		t.Errorf("expected quantity 50, got %d", qty.Quantity)
	}
}

func TestSubmitChange_InsufficientStock(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, ChangeHTTPRequest{WarehouseID: "wh-1", ProductID: "prod-1", ChangeType: "received", QuantityDelta: 5})

	rec := f.do(t, http.MethodPost, "/api/changes", ChangeHTTPRequest{
		WarehouseID:   "wh-1",
		ProductID:     "prod-1",
		ChangeType:    "sold",
		QuantityDelta: -10,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorHTTPResponse
	decodeJSON(t, rec, &errResp)
	if errResp.Rule != "insufficient_stock" {
		t.Errorf("expected rule insufficient_stock, got %q", errResp.Rule)
	}

	rec = f.do(t, http.MethodGet, "/api/quantity?warehouse_id=wh-1&product_id=prod-1", nil)
	var qty struct {
		Quantity int64 `json:"quantity"`
	}
	decodeJSON(t, rec, &qty)
	if qty.Quantity != 5 {
		t.Errorf("rejected change moved the quantity: got %d, want 5", qty.Quantity)
	}
}

func TestSubmitChange_ValidationFailure(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/changes", ChangeHTTPRequest{
		WarehouseID:   "wh-1",
		ProductID:     "prod-1",
		ChangeType:    "sold",
		QuantityDelta: 10,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorHTTPResponse
	decodeJSON(t, rec, &errResp)
	if errResp.Rule != "validation" {
		t.Errorf("expected rule validation, got %q", errResp.Rule)
	}
}

func TestSubmitChange_MalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/changes", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitChange_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/changes", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSubmitChange_DuplicateRequest(t *testing.T) {
	f := newFixture(t, newFakeCache())

	change := ChangeHTTPRequest{
		RequestID:     "req-abc",
		WarehouseID:   "wh-1",
		ProductID:     "prod-1",
		ChangeType:    "received",
		QuantityDelta: 10,
	}
	f.submit(t, change)

	rec := f.do(t, http.MethodPost, "/api/changes", change)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorHTTPResponse
	decodeJSON(t, rec, &errResp)
	if errResp.Error != "duplicate request" {
		t.Errorf("expected duplicate request error, got %q", errResp.Error)
	}
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, ChangeHTTPRequest{WarehouseID: "wh-1", ProductID: "prod-1", ChangeType: "received", QuantityDelta: 20})
	f.submit(t, ChangeHTTPRequest{WarehouseID: "wh-1", ProductID: "prod-1", ChangeType: "sold", QuantityDelta: -4})
	f.submit(t, ChangeHTTPRequest{WarehouseID: "wh-1", ProductID: "prod-1", ChangeType: "adjustment", QuantityDelta: -1, Reference: "cycle-count"})

	rec := f.do(t, http.MethodGet, "/api/history?warehouse_id=wh-1&product_id=prod-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Events []EventHTTPPayload `json:"events"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(resp.Events))
	}
	for i, ev := range resp.Events {
		if ev.EventID != uint64(i+1) {
			t.Errorf("event %d: expected id %d, got %d", i, i+1, ev.EventID)
		}
	}
	if resp.Events[2].Reference != "cycle-count" {
		t.Errorf("expected reference preserved, got %q", resp.Events[2].Reference)
	}

	rec = f.do(t, http.MethodGet, "/api/history?warehouse_id=wh-1&product_id=prod-1&since_event_id=2", nil)
	decodeJSON(t, rec, &resp)
	if len(resp.Events) != 1 || resp.Events[0].EventID != 3 {
		t.Fatalf("expected only event 3 after id 2, got %+v", resp.Events)
	}
}

func TestRegisterProduct_WithInitialStock(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.registerProduct(t, ProductHTTPRequest{
		SKU:  "WIDGET-1",
		Name: "Widget",
		InitialStock: []InitialStockHTTPPayload{
			{WarehouseID: "wh-1", Quantity: 40},
			{WarehouseID: "wh-2", Quantity: 15},
		},
	})
	if resp.ProductID == "" {
		t.Fatal("expected an assigned product id")
	}
	if len(resp.Stocked) != 2 {
		t.Fatalf("expected 2 stocked entries, got %d", len(resp.Stocked))
	}
	if resp.Stocked[0].Quantity != 40 || resp.Stocked[1].Quantity != 15 {
		t.Errorf("unexpected stocked quantities: %+v", resp.Stocked)
	}

	rec := f.do(t, http.MethodGet, "/api/quantity?warehouse_id=wh-2&product_id="+resp.ProductID, nil)
	var qty struct {
		Quantity int64 `json:"quantity"`
	}
	decodeJSON(t, rec, &qty)
	if qty.Quantity != 15 {
		t.Errorf("expected quantity 15 in wh-2, got %d", qty.Quantity)
	}
}

func TestRegisterProduct_RejectsBadInitialStock(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/products", ProductHTTPRequest{
		SKU:          "WIDGET-2",
		Name:         "Widget",
		InitialStock: []InitialStockHTTPPayload{{WarehouseID: "wh-1", Quantity: 0}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegisterProduct_DuplicateSKU(t *testing.T) {
	f := newFixture(t, nil)
	f.registerProduct(t, ProductHTTPRequest{SKU: "WIDGET-3", Name: "Widget"})

	rec := f.do(t, http.MethodPost, "/api/products", ProductHTTPRequest{SKU: "WIDGET-3", Name: "Other widget"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAvailability_Bundle(t *testing.T) {
	f := newFixture(t, nil)

	bolt := f.registerProduct(t, ProductHTTPRequest{
		SKU: "BOLT", Name: "Bolt",
		InitialStock: []InitialStockHTTPPayload{{WarehouseID: "wh-1", Quantity: 10}},
	})
	plank := f.registerProduct(t, ProductHTTPRequest{
		SKU: "PLANK", Name: "Plank",
		InitialStock: []InitialStockHTTPPayload{{WarehouseID: "wh-1", Quantity: 3}},
	})
	shelf := f.registerProduct(t, ProductHTTPRequest{
		SKU: "SHELF", Name: "Shelf kit",
		Components: []ComponentHTTPPayload{
			{ProductID: bolt.ProductID, QuantityPerBundle: 2},
			{ProductID: plank.ProductID, QuantityPerBundle: 1},
		},
	})

	rec := f.do(t, http.MethodGet, "/api/availability?warehouse_id=wh-1&product_id="+shelf.ProductID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Availability int64 `json:"availability"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Availability != 3 {
		t.Errorf("expected availability 3, got %d", resp.Availability)
	}
}

func TestAvailability_CycleIsUnprocessable(t *testing.T) {
	f := newFixture(t, nil)
	a := f.registerProduct(t, ProductHTTPRequest{SKU: "CY-A", Name: "A"})
	b := f.registerProduct(t, ProductHTTPRequest{SKU: "CY-B", Name: "B"})

	for _, def := range []BundleHTTPRequest{
		{ProductID: a.ProductID, Components: []ComponentHTTPPayload{{ProductID: b.ProductID, QuantityPerBundle: 1}}},
		{ProductID: b.ProductID, Components: []ComponentHTTPPayload{{ProductID: a.ProductID, QuantityPerBundle: 1}}},
	} {
		rec := f.do(t, http.MethodPost, "/api/bundles", def)
		if rec.Code != http.StatusOK {
			t.Fatalf("define bundle: status %d, body %s", rec.Code, rec.Body.String())
		}
	}

	rec := f.do(t, http.MethodGet, "/api/availability?warehouse_id=wh-1&product_id="+a.ProductID, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorHTTPResponse
	decodeJSON(t, rec, &errResp)
	if !strings.Contains(errResp.Error, "cycle") {
		t.Errorf("expected a cycle error, got %q", errResp.Error)
	}
}

func TestAvailability_UnknownProduct(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/availability?warehouse_id=wh-1&product_id=ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRetireProduct_ZeroesAvailability(t *testing.T) {
	f := newFixture(t, nil)
	p := f.registerProduct(t, ProductHTTPRequest{
		SKU: "OLD", Name: "Old thing",
		InitialStock: []InitialStockHTTPPayload{{WarehouseID: "wh-1", Quantity: 7}},
	})

	rec := f.do(t, http.MethodPost, "/api/retire", RetireHTTPRequest{ProductID: p.ProductID})
	if rec.Code != http.StatusOK {
		t.Fatalf("retire: status %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/availability?warehouse_id=wh-1&product_id="+p.ProductID, nil)
	var resp struct {
		Availability int64 `json:"availability"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Availability != 0 {
		t.Errorf("expected 0 for a retired product, got %d", resp.Availability)
	}
}

func TestAuditEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.submit(t, ChangeHTTPRequest{WarehouseID: "wh-1", ProductID: "prod-1", ChangeType: "received", QuantityDelta: 30})
	f.submit(t, ChangeHTTPRequest{WarehouseID: "wh-1", ProductID: "prod-1", ChangeType: "sold", QuantityDelta: -12})

	rec := f.do(t, http.MethodPost, "/api/audit", KeyHTTPRequest{WarehouseID: "wh-1", ProductID: "prod-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Quantity int64 `json:"quantity"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Quantity != 18 {
		t.Errorf("expected audited quantity 18, got %d", resp.Quantity)
	}

	rec = f.do(t, http.MethodPost, "/api/reconcile", KeyHTTPRequest{WarehouseID: "wh-1", ProductID: "prod-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLowStockReportEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	p := f.registerProduct(t, ProductHTTPRequest{
		SKU: "HOT", Name: "Hot item", LowStockThreshold: 10,
		Supplier:     SupplierHTTPPayload{Name: "Acme", ContactEmail: "orders@acme.test"},
		InitialStock: []InitialStockHTTPPayload{{WarehouseID: "wh-1", Quantity: 65}},
	})
	f.submit(t, ChangeHTTPRequest{WarehouseID: "wh-1", ProductID: p.ProductID, ChangeType: "sold", QuantityDelta: -60})

	rec := f.do(t, http.MethodGet, "/api/alerts/low-stock?warehouse_id=wh-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TotalAlerts int                `json:"total_alerts"`
		Alerts      []AlertHTTPPayload `json:"alerts"`
	}
	decodeJSON(t, rec, &resp)
	if resp.TotalAlerts != 1 {
		t.Fatalf("expected 1 alert, got %d", resp.TotalAlerts)
	}
	alert := resp.Alerts[0]
	if alert.ProductID != p.ProductID {
		t.Errorf("expected alert for %s, got %s", p.ProductID, alert.ProductID)
	}
	if alert.CurrentQuantity != 5 {
		t.Errorf("expected current quantity 5, got %d", alert.CurrentQuantity)
	}
	if alert.AvgDailySales != 2.0 {
		t.Errorf("expected avg daily sales 2.0, got %f", alert.AvgDailySales)
	}
	if alert.DaysUntilStockout != 3 {
		t.Errorf("expected 3 days until stockout, got %d", alert.DaysUntilStockout)
	}
	if alert.Supplier.ContactEmail != "orders@acme.test" {
		t.Errorf("expected supplier email carried through, got %q", alert.Supplier.ContactEmail)
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	decodeJSON(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}
