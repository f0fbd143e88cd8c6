package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/platform/httpx"
	"github.com/choocapi/ecommerce-backend/internal/services"
)

type createOrderRequest struct {
	PaymentMethod string                 `json:"payment_method"`
	CouponCode    string                 `json:"coupon_code"`
	Shipping      shippingPayload        `json:"shipping"`
	Items         []createOrderItemInput `json:"items"`
}

type createOrderItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateOrderRequest struct {
	Shipping shippingPayload `json:"shipping"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

// OrderHandlers exposes the customer-facing order lifecycle endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	coupons services.CouponService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, coupons services.CouponService) *OrderHandlers {
	return &OrderHandlers{
		orders:  orders,
		coupons: coupons,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:confirm-delivery", h.confirmDelivery)
	r.Post("/{orderID}:apply-coupon", h.applyCoupon)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	lines := make([]services.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.OrderLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		UserID:        userID,
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Shipping:      shippingFromPayload(req.Shipping),
		Lines:         lines,
		CouponCode:    req.CouponCode,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses, ok := parseOrderStatuses(w, r, query["status"])
	if !ok {
		return
	}

	var from, to *time.Time
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		from = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		to = &ts
	}

	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.orders.List(ctx, services.ListOrdersQuery{
		UserID:     userID,
		Status:     statuses,
		From:       from,
		To:         to,
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{OrderID: orderID, UserID: userID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	order, err := h.orders.Update(ctx, services.UpdateOrderCommand{
		OrderID:  orderID,
		UserID:   userID,
		Shipping: shippingFromPayload(req.Shipping),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if body, err := readLimitedBody(r, defaultBodyLimit); err == nil {
		if err := decodeCancelBody(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	} else if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		UserID:  userID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ConfirmDelivery(ctx, orderID, userID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req applyCouponRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	// Ownership check happens before mutation so one user cannot redeem a
	// code against another user's order.
	if _, err := h.orders.Get(ctx, services.GetOrderQuery{OrderID: orderID, UserID: userID}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	order, err := h.coupons.ApplyToOrder(ctx, services.ApplyCouponCommand{
		OrderID: orderID,
		Code:    req.Code,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`
	TotalAmount   int64  `json:"total_amount"`
	OrderedAt     string `json:"ordered_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Status         string             `json:"status"`
	PaymentMethod  string             `json:"payment_method"`
	PaymentStatus  string             `json:"payment_status"`
	Shipping       shippingPayload    `json:"shipping"`
	Items          []orderItemPayload `json:"items"`
	Subtotal       int64              `json:"subtotal"`
	CouponCode     string             `json:"coupon_code,omitempty"`
	DiscountAmount int64              `json:"discount_amount,omitempty"`
	TotalAmount    int64              `json:"total_amount"`
	OrderedAt      string             `json:"ordered_at"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
	ConfirmedAt    string             `json:"confirmed_at,omitempty"`
	ShippedAt      string             `json:"shipped_at,omitempty"`
	DeliveredAt    string             `json:"delivered_at,omitempty"`
	CancelledAt    string             `json:"cancelled_at,omitempty"`
}

type shippingPayload struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
	Note     string `json:"note,omitempty"`
}

type orderItemPayload struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

func shippingFromPayload(p shippingPayload) domain.ShippingInfo {
	return domain.ShippingInfo{
		FullName: strings.TrimSpace(p.FullName),
		Phone:    strings.TrimSpace(p.Phone),
		Address:  strings.TrimSpace(p.Address),
		Ward:     strings.TrimSpace(p.Ward),
		District: strings.TrimSpace(p.District),
		City:     strings.TrimSpace(p.City),
		Note:     strings.TrimSpace(p.Note),
	}
}

func buildShippingPayload(info domain.ShippingInfo) shippingPayload {
	return shippingPayload{
		FullName: info.FullName,
		Phone:    info.Phone,
		Address:  info.Address,
		Ward:     info.Ward,
		District: info.District,
		City:     info.City,
		Note:     info.Note,
	}
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   order.TotalAmount,
		OrderedAt:     formatTime(order.OrderedAt),
	}
}

func buildOrderListResponse(page domain.CursorPage[domain.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}

	return orderPayload{
		ID:             order.ID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		Shipping:       buildShippingPayload(order.Shipping),
		Items:          items,
		Subtotal:       order.Subtotal,
		CouponCode:     order.CouponCode,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		OrderedAt:      formatTime(order.OrderedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		ConfirmedAt:    formatTimePointer(order.ConfirmedAt),
		ShippedAt:      formatTimePointer(order.ShippedAt),
		DeliveredAt:    formatTimePointer(order.DeliveredAt),
		CancelledAt:    formatTimePointer(order.CancelledAt),
	}
}

func parseOrderStatuses(w http.ResponseWriter, r *http.Request, raw []string) ([]domain.OrderStatus, bool) {
	filters := parseFilterValues(raw)
	if len(filters) == 0 {
		return nil, true
	}
	statuses := make([]domain.OrderStatus, 0, len(filters))
	for _, value := range filters {
		status, ok := parseOrderStatus(value)
		if !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "status filter contains an unknown order status", http.StatusBadRequest))
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusReturned:   {},
	domain.OrderStatusCancelled:  {},
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		// Ownership mismatches read as not found so order ids stay unguessable.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponAlreadyApplied):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_already_applied", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func decodeCancelBody(body []byte, dst *cancelOrderRequest) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}
