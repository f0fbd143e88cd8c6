package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/platform/httpx"
	"github.com/choocapi/ecommerce-backend/internal/services"
)

type setStockLevelsRequest struct {
	OnHand int `json:"on_hand"`
}

type createCouponRequest struct {
	Code       string `json:"code"`
	Type       string `json:"type"`
	Value      int64  `json:"value"`
	UsageLimit int    `json:"usage_limit"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Active     bool   `json:"active"`
}

type updateReturnStatusRequest struct {
	Status    string `json:"status"`
	AdminNote string `json:"admin_note"`
}

// AdminHandlers exposes the back-office endpoints for orders, inventory,
// coupons, and return moderation. The router gates the whole group behind
// the admin role middleware.
type AdminHandlers struct {
	orders    services.OrderService
	inventory services.InventoryService
	coupons   services.CouponService
	returns   services.ReturnService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(orders services.OrderService, inventory services.InventoryService, coupons services.CouponService, returns services.ReturnService) *AdminHandlers {
	return &AdminHandlers{
		orders:    orders,
		inventory: inventory,
		coupons:   coupons,
		returns:   returns,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Delete("/orders/{orderID}", h.deleteOrder)
	r.Post("/orders/{orderID}:confirm", h.confirmOrder)
	r.Post("/orders/{orderID}:ship", h.shipOrder)

	r.Get("/inventory/low-stock", h.listLowStock)
	r.Get("/inventory/{productID}", h.getStock)
	r.Put("/inventory/{productID}", h.setStockLevels)

	r.Post("/coupons", h.createCoupon)
	r.Get("/coupons", h.listCoupons)
	r.Delete("/coupons/{couponID}", h.deleteCoupon)

	r.Get("/returns", h.listReturns)
	r.Get("/returns/{requestID}", h.getReturn)
	r.Patch("/returns/{requestID}", h.updateReturnStatus)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	statuses, ok := parseOrderStatuses(w, r, query["status"])
	if !ok {
		return
	}

	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.orders.List(ctx, services.ListOrdersQuery{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		Status:     statuses,
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.Delete(ctx, orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Confirm(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Ship(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	threshold := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		parsed, err := parsePositiveInt(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "threshold must be a non-negative integer", http.StatusBadRequest))
			return
		}
		threshold = parsed
	}

	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.inventory.ListLowStock(ctx, services.LowStockFilter{
		Threshold:  threshold,
		Pagination: pagination,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]stockPayload, 0, len(page.Items))
	for _, snapshot := range page.Items {
		items = append(items, buildStockPayload(snapshot))
	}
	writeJSONResponse(w, http.StatusOK, stockListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	snapshot, err := h.inventory.GetStock(ctx, productID)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(snapshot)})
}

func (h *AdminHandlers) setStockLevels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req setStockLevelsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	snapshot, err := h.inventory.SetStockLevels(ctx, services.SetStockLevelsCommand{
		ProductID: productID,
		OnHand:    req.OnHand,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(snapshot)})
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createCouponRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	var startDate, endDate *time.Time
	if raw := strings.TrimSpace(req.StartDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "start_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		startDate = &ts
	}
	if raw := strings.TrimSpace(req.EndDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "end_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		endDate = &ts
	}

	coupon, err := h.coupons.Create(ctx, services.CreateCouponCommand{
		Code:       req.Code,
		Type:       domain.CouponType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Value:      req.Value,
		UsageLimit: req.UsageLimit,
		StartDate:  startDate,
		EndDate:    endDate,
		Active:     req.Active,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	activeOnly := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true")

	page, err := h.coupons.List(ctx, services.CouponFilter{
		ActiveOnly: activeOnly,
		Pagination: pagination,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCouponListResponse(page))
}

func (h *AdminHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon id is required", http.StatusBadRequest))
		return
	}

	if err := h.coupons.Delete(ctx, couponID); err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	statuses, ok := parseReturnStatuses(w, r, query["status"])
	if !ok {
		return
	}

	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.returns.List(ctx, services.ListReturnsQuery{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		Status:     statuses,
		Pagination: pagination,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildReturnListResponse(page))
}

func (h *AdminHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return request id is required", http.StatusBadRequest))
		return
	}

	request, err := h.returns.Get(ctx, services.GetReturnQuery{RequestID: requestID})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

func (h *AdminHandlers) updateReturnStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return request id is required", http.StatusBadRequest))
		return
	}

	var req updateReturnStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	request, err := h.returns.UpdateStatus(ctx, services.UpdateReturnStatusCommand{
		RequestID: requestID,
		Status:    domain.ReturnStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		AdminNote: req.AdminNote,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

type stockResponse struct {
	Stock stockPayload `json:"stock"`
}

type stockListResponse struct {
	Items         []stockPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type stockPayload struct {
	ProductID string `json:"product_id"`
	OnHand    int    `json:"on_hand"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildStockPayload(snapshot services.StockSnapshot) stockPayload {
	return stockPayload{
		ProductID: snapshot.ProductID,
		OnHand:    snapshot.OnHand,
		Reserved:  snapshot.Reserved,
		Available: snapshot.Available,
		UpdatedAt: formatTime(snapshot.UpdatedAt),
	}
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
