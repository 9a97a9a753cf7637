package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/core/service"
	"github.com/warebase/stockledger/internal/port"
)

// CatalogAdmin is the write surface of the product catalog as the HTTP API
// needs it.
type CatalogAdmin interface {
	RegisterProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	DefineBundle(ctx context.Context, productID string, components []domain.BundleComponent) error
	RetireProduct(ctx context.Context, productID string) error
}

type HTTPHandler struct {
	ledger       *service.LedgerService
	availability *service.AvailabilityService
	alerts       *service.AlertService
	catalog      CatalogAdmin
}

func NewHTTPHandler(ledger *service.LedgerService, availability *service.AvailabilityService, alerts *service.AlertService, catalog CatalogAdmin) *HTTPHandler {
	return &HTTPHandler{
		ledger:       ledger,
		availability: availability,
		alerts:       alerts,
		catalog:      catalog,
	}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/changes", h.SubmitChange)
	mux.HandleFunc("/api/quantity", h.GetQuantity)
	mux.HandleFunc("/api/history", h.GetHistory)
	mux.HandleFunc("/api/availability", h.GetAvailability)
	mux.HandleFunc("/api/reconcile", h.Reconcile)
	mux.HandleFunc("/api/audit", h.Audit)
	mux.HandleFunc("/api/alerts/low-stock", h.LowStockReport)
	mux.HandleFunc("/api/products", h.RegisterProduct)
	mux.HandleFunc("/api/bundles", h.DefineBundle)
	mux.HandleFunc("/api/retire", h.RetireProduct)
	mux.HandleFunc("/health", h.HealthCheck)
}

type ChangeHTTPRequest struct {
	RequestID     string `json:"request_id,omitempty"`
	WarehouseID   string `json:"warehouse_id"`
	ProductID     string `json:"product_id"`
	ChangeType    string `json:"change_type"`
	QuantityDelta int64  `json:"quantity_delta"`
	Reference     string `json:"reference,omitempty"`
}

type ChangeHTTPResponse struct {
	EventID  uint64 `json:"event_id"`
	UID      string `json:"uid"`
	Quantity int64  `json:"quantity"`
}

type EventHTTPPayload struct {
	EventID       uint64 `json:"event_id"`
	UID           string `json:"uid"`
	ChangeType    string `json:"change_type"`
	QuantityDelta int64  `json:"quantity_delta"`
	OccurredAt    string `json:"occurred_at"`
	Reference     string `json:"reference,omitempty"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
	Rule  string `json:"rule,omitempty"`
}

func (h *HTTPHandler) SubmitChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ChangeHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}

	admitted, err := h.ledger.Submit(r.Context(), domain.ChangeRequest{
		Key:           domain.InventoryKey{WarehouseID: req.WarehouseID, ProductID: req.ProductID},
		Type:          domain.ChangeType(req.ChangeType),
		QuantityDelta: req.QuantityDelta,
		Reference:     req.Reference,
		RequestID:     req.RequestID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ChangeHTTPResponse{
		EventID:  admitted.Event.EventID,
		UID:      admitted.Event.UID,
		Quantity: admitted.Quantity,
	})
}

func (h *HTTPHandler) GetQuantity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ok := keyFromQuery(w, r)
	if !ok {
		return
	}
	qty, err := h.ledger.Quantity(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"warehouse_id": key.WarehouseID,
		"product_id":   key.ProductID,
		"quantity":     qty,
	})
}

func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ok := keyFromQuery(w, r)
	if !ok {
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since_event_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid since_event_id"})
			return
		}
		since = parsed
	}

	events, err := h.ledger.History(r.Context(), key, since)
	if err != nil {
		h.writeError(w, err)
		return
	}
	payload := make([]EventHTTPPayload, 0, len(events))
	for _, ev := range events {
		payload = append(payload, EventHTTPPayload{
			EventID:       ev.EventID,
			UID:           ev.UID,
			ChangeType:    string(ev.Type),
			QuantityDelta: ev.QuantityDelta,
			OccurredAt:    ev.OccurredAt.Format(time.RFC3339Nano),
			Reference:     ev.Reference,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"warehouse_id": key.WarehouseID,
		"product_id":   key.ProductID,
		"events":       payload,
	})
}

func (h *HTTPHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ok := keyFromQuery(w, r)
	if !ok {
		return
	}
	avail, err := h.availability.Availability(r.Context(), key.WarehouseID, key.ProductID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"warehouse_id": key.WarehouseID,
		"product_id":   key.ProductID,
		"availability": avail,
	})
}

type KeyHTTPRequest struct {
	WarehouseID string `json:"warehouse_id"`
	ProductID   string `json:"product_id"`
}

func (h *HTTPHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.repairEndpoint(w, r, h.ledger.Reconcile)
}

func (h *HTTPHandler) Audit(w http.ResponseWriter, r *http.Request) {
	h.repairEndpoint(w, r, h.ledger.Audit)
}

func (h *HTTPHandler) repairEndpoint(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.InventoryKey) (int64, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req KeyHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}
	if req.WarehouseID == "" || req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "missing required fields"})
		return
	}

	qty, err := op(r.Context(), domain.InventoryKey{WarehouseID: req.WarehouseID, ProductID: req.ProductID})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"warehouse_id": req.WarehouseID,
		"product_id":   req.ProductID,
		"quantity":     qty,
	})
}

func (h *HTTPHandler) LowStockReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	warehouseID := r.URL.Query().Get("warehouse_id")
	if warehouseID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "missing required fields"})
		return
	}
	report, err := h.alerts.Report(r.Context(), warehouseID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lowStockReportPayload(report))
}

type SupplierHTTPPayload struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

type AlertHTTPPayload struct {
	ProductID         string              `json:"product_id"`
	SKU               string              `json:"sku"`
	ProductName       string              `json:"product_name"`
	WarehouseID       string              `json:"warehouse_id"`
	CurrentQuantity   int64               `json:"current_quantity"`
	Threshold         int64               `json:"threshold"`
	AvgDailySales     float64             `json:"avg_daily_sales"`
	DaysUntilStockout int64               `json:"days_until_stockout"`
	Supplier          SupplierHTTPPayload `json:"supplier"`
}

func lowStockReportPayload(report service.LowStockReport) map[string]interface{} {
	alerts := make([]AlertHTTPPayload, 0, len(report.Alerts))
	for _, a := range report.Alerts {
		alerts = append(alerts, AlertHTTPPayload{
			ProductID:         a.ProductID,
			SKU:               a.SKU,
			ProductName:       a.ProductName,
			WarehouseID:       a.WarehouseID,
			CurrentQuantity:   a.CurrentQuantity,
			Threshold:         a.Threshold,
			AvgDailySales:     a.AvgDailySales,
			DaysUntilStockout: a.DaysUntilStockout,
			Supplier: SupplierHTTPPayload{
				ID:           a.Supplier.ID,
				Name:         a.Supplier.Name,
				ContactEmail: a.Supplier.ContactEmail,
			},
		})
	}
	return map[string]interface{}{
		"warehouse_id": report.WarehouseID,
		"generated_at": report.GeneratedAt.Format(time.RFC3339Nano),
		"total_alerts": report.TotalAlerts,
		"alerts":       alerts,
	}
}

type ComponentHTTPPayload struct {
	ProductID         string `json:"product_id"`
	QuantityPerBundle int64  `json:"quantity_per_bundle"`
}

type InitialStockHTTPPayload struct {
	WarehouseID string `json:"warehouse_id"`
	Quantity    int64  `json:"quantity"`
}

type ProductHTTPRequest struct {
	SKU               string                    `json:"sku"`
	Name              string                    `json:"name"`
	PriceCents        int64                     `json:"price_cents,omitempty"`
	LowStockThreshold int64                     `json:"low_stock_threshold,omitempty"`
	Supplier          SupplierHTTPPayload       `json:"supplier,omitempty"`
	Components        []ComponentHTTPPayload    `json:"components,omitempty"`
	InitialStock      []InitialStockHTTPPayload `json:"initial_stock,omitempty"`
}

type ProductHTTPResponse struct {
	ProductID string             `json:"product_id"`
	SKU       string             `json:"sku"`
	Stocked   []ChangeHTTPStored `json:"stocked,omitempty"`
}

type ChangeHTTPStored struct {
	WarehouseID string `json:"warehouse_id"`
	EventID     uint64 `json:"event_id"`
	Quantity    int64  `json:"quantity"`
}

func (h *HTTPHandler) RegisterProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ProductHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}
	if req.SKU == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "missing required fields"})
		return
	}
	for _, stock := range req.InitialStock {
		if stock.WarehouseID == "" || stock.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "initial stock requires a warehouse and a positive quantity"})
			return
		}
	}
	if len(req.Components) > 0 && len(req.InitialStock) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "bundles do not hold stock of their own"})
		return
	}

	components := make([]domain.BundleComponent, 0, len(req.Components))
	for _, c := range req.Components {
		components = append(components, domain.BundleComponent{
			ProductID:         c.ProductID,
			QuantityPerBundle: c.QuantityPerBundle,
		})
	}

	product, err := h.catalog.RegisterProduct(r.Context(), domain.Product{
		SKU:               req.SKU,
		Name:              req.Name,
		PriceCents:        req.PriceCents,
		LowStockThreshold: req.LowStockThreshold,
		Supplier: domain.Supplier{
			ID:           req.Supplier.ID,
			Name:         req.Supplier.Name,
			ContactEmail: req.Supplier.ContactEmail,
		},
		Components: components,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := ProductHTTPResponse{ProductID: product.ID, SKU: product.SKU}
	for _, stock := range req.InitialStock {
		admitted, err := h.ledger.Submit(r.Context(), domain.ChangeRequest{
			Key:           domain.InventoryKey{WarehouseID: stock.WarehouseID, ProductID: product.ID},
			Type:          domain.ChangeReceived,
			QuantityDelta: stock.Quantity,
			Reference:     "initial-stock",
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp.Stocked = append(resp.Stocked, ChangeHTTPStored{
			WarehouseID: stock.WarehouseID,
			EventID:     admitted.Event.EventID,
			Quantity:    admitted.Quantity,
		})
	}

	writeJSON(w, http.StatusCreated, resp)
}

type BundleHTTPRequest struct {
	ProductID  string                 `json:"product_id"`
	Components []ComponentHTTPPayload `json:"components"`
}

func (h *HTTPHandler) DefineBundle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BundleHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "missing required fields"})
		return
	}

	components := make([]domain.BundleComponent, 0, len(req.Components))
	for _, c := range req.Components {
		components = append(components, domain.BundleComponent{
			ProductID:         c.ProductID,
			QuantityPerBundle: c.QuantityPerBundle,
		})
	}
	if err := h.catalog.DefineBundle(r.Context(), req.ProductID, components); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type RetireHTTPRequest struct {
	ProductID string `json:"product_id"`
}

func (h *HTTPHandler) RetireProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RetireHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "missing required fields"})
		return
	}
	if err := h.catalog.RetireProduct(r.Context(), req.ProductID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func keyFromQuery(w http.ResponseWriter, r *http.Request) (domain.InventoryKey, bool) {
	q := r.URL.Query()
	key := domain.InventoryKey{
		WarehouseID: q.Get("warehouse_id"),
		ProductID:   q.Get("product_id"),
	}
	if key.WarehouseID == "" || key.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "missing required fields"})
		return domain.InventoryKey{}, false
	}
	return key, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var rej *domain.Rejection
	var cycle *domain.CycleError
	var def *domain.DefinitionError
	var div *domain.DivergenceError

	switch {
	case errors.Is(err, service.ErrDuplicateRequest):
		writeJSON(w, http.StatusConflict, ErrorHTTPResponse{Error: "duplicate request"})
	case errors.As(err, &rej):
		status := http.StatusConflict
		if rej.Rule == domain.RuleValidation {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, ErrorHTTPResponse{Error: rej.Reason, Rule: string(rej.Rule)})
	case errors.As(err, &cycle):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorHTTPResponse{Error: err.Error()})
	case errors.As(err, &def):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorHTTPResponse{Error: err.Error()})
	case errors.As(err, &div):
		writeJSON(w, http.StatusInternalServerError, ErrorHTTPResponse{Error: err.Error()})
	case errors.Is(err, port.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, ErrorHTTPResponse{Error: "product not found"})
	case errors.Is(err, port.ErrSKUExists):
		writeJSON(w, http.StatusConflict, ErrorHTTPResponse{Error: "sku already registered"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorHTTPResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
