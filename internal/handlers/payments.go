package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/choocapi/ecommerce-backend/internal/payments"
	"github.com/choocapi/ecommerce-backend/internal/platform/httpx"
)

type initiatePaymentRequest struct {
	OrderID string `json:"order_id"`
}

type initiatePaymentResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	PayURL  string `json:"pay_url,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

type callbackResponse struct {
	OrderID          string `json:"order_id"`
	Outcome          string `json:"outcome"`
	PaymentStatus    string `json:"payment_status"`
	OrderStatus      string `json:"order_status"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	Message          string `json:"message,omitempty"`
}

// PaymentHandlers exposes payment initiation for authenticated users and the
// unauthenticated gateway callback endpoints.
type PaymentHandlers struct {
	reconciler *payments.Reconciler
	limiter    rateLimiter
}

// PaymentHandlerOption customises the payment handlers.
type PaymentHandlerOption func(*PaymentHandlers)

// WithPaymentRateLimiter applies a per-client limiter to payment initiation.
func WithPaymentRateLimiter(limiter rateLimiter) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.limiter = limiter
	}
}

// WithPaymentRateLimit caps payment initiation per client to limit requests per window.
func WithPaymentRateLimit(limit int, window time.Duration) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(reconciler *payments.Reconciler, opts ...PaymentHandlerOption) *PaymentHandlers {
	h := &PaymentHandlers{reconciler: reconciler}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{provider}", h.initiatePayment)
}

// CallbackRoutes registers the /callbacks endpoints the gateways call. These
// carry their own signatures instead of user identity.
func (h *PaymentHandlers) CallbackRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/vnpay/return", h.vnpayReturn)
	r.Get("/vnpay/ipn", h.vnpayIPN)
	r.Post("/momo/ipn", h.momoIPN)
	r.Get("/zalopay/return", h.zalopayReturn)
}

func (h *PaymentHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(userID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment attempts", http.StatusTooManyRequests))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment provider is required", http.StatusBadRequest))
		return
	}

	var req initiatePaymentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.reconciler.Initiate(ctx, payments.InitiateRequest{
		Provider: provider,
		OrderID:  strings.TrimSpace(req.OrderID),
		UserID:   userID,
		ClientIP: r.RemoteAddr,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if result.Code != payments.CodeSuccess {
		status = http.StatusBadGateway
	}
	writeJSONResponse(w, status, initiatePaymentResponse{
		Code:    result.Code,
		Message: result.Message,
		PayURL:  result.PayURL,
		Ref:     result.Ref,
	})
}

// vnpayReturn handles the browser redirect back from the VNPay payment page.
func (h *PaymentHandlers) vnpayReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.reconciler.HandleCallback(ctx, "vnpay", flattenQueryParams(r.URL.Query()))
	if err != nil {
		writeCallbackError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCallbackResponse(result))
}

// vnpayIPN handles the server-to-server notification. VNPay retries until it
// receives its own ack envelope, so errors answer with RspCode values instead
// of HTTP error statuses.
func (h *PaymentHandlers) vnpayIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		writeJSONResponse(w, http.StatusOK, map[string]string{"RspCode": "99", "Message": "Service Unavailable"})
		return
	}

	result, err := h.reconciler.HandleCallback(ctx, "vnpay", flattenQueryParams(r.URL.Query()))
	if err != nil {
		writeJSONResponse(w, http.StatusOK, map[string]string{
			"RspCode": vnpayAckCode(err),
			"Message": vnpayAckMessage(err),
		})
		return
	}

	rsp := map[string]string{"RspCode": "00", "Message": "Confirm Success"}
	if result.AlreadyProcessed {
		rsp = map[string]string{"RspCode": "02", "Message": "Order already confirmed"}
	}
	writeJSONResponse(w, http.StatusOK, rsp)
}

// momoIPN handles Momo's JSON notification. Momo expects 204 on success.
func (h *PaymentHandlers) momoIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := flattenJSONBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	if _, err := h.reconciler.HandleCallback(ctx, "momo", params); err != nil {
		writeCallbackError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// zalopayReturn handles the browser redirect back from the ZaloPay page,
// verified with the key2 checksum.
func (h *PaymentHandlers) zalopayReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.reconciler.HandleCallback(ctx, "zalopay", flattenQueryParams(r.URL.Query()))
	if err != nil {
		writeCallbackError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCallbackResponse(result))
}

func buildCallbackResponse(result payments.ReconcileResult) callbackResponse {
	return callbackResponse{
		OrderID:          result.OrderID,
		Outcome:          string(result.Outcome),
		PaymentStatus:    string(result.PaymentStatus),
		OrderStatus:      string(result.OrderStatus),
		AlreadyProcessed: result.AlreadyProcessed,
		Message:          result.Message,
	}
}

func flattenQueryParams(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for key, entries := range values {
		if len(params) >= maxCallbackParams {
			break
		}
		if len(entries) == 0 {
			continue
		}
		params[key] = entries[0]
	}
	return params
}

// flattenJSONBody converts a flat JSON object into the string map gateways
// are verified against. Numeric fields keep their wire representation.
func flattenJSONBody(r *http.Request) (map[string]string, error) {
	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(raw))
	for key, value := range raw {
		if len(params) >= maxCallbackParams {
			break
		}
		switch v := value.(type) {
		case string:
			params[key] = v
		case json.Number:
			params[key] = v.String()
		case bool:
			if v {
				params[key] = "true"
			} else {
				params[key] = "false"
			}
		case nil:
			params[key] = ""
		}
	}
	return params, nil
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, payments.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrUnsupportedGateway):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, payments.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, payments.ErrPaymentMethodMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_mismatch", err.Error(), http.StatusConflict))
	case errors.Is(err, payments.ErrPaymentNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

func writeCallbackError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, payments.ErrCallbackInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "callback signature verification failed", http.StatusBadRequest))
	case errors.Is(err, payments.ErrCallbackUnknownReference):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_reference", "callback does not match a known payment", http.StatusNotFound))
	case errors.Is(err, payments.ErrCallbackAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", "callback amount does not match the order", http.StatusBadRequest))
	case errors.Is(err, payments.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrUnsupportedGateway):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("callback_error", "failed to process gateway callback", http.StatusInternalServerError))
	}
}

func vnpayAckCode(err error) string {
	switch {
	case errors.Is(err, payments.ErrCallbackInvalidSignature):
		return "97"
	case errors.Is(err, payments.ErrCallbackUnknownReference):
		return "01"
	case errors.Is(err, payments.ErrCallbackAmountMismatch):
		return "04"
	default:
		return "99"
	}
}

func vnpayAckMessage(err error) string {
	switch {
	case errors.Is(err, payments.ErrCallbackInvalidSignature):
		return "Invalid Checksum"
	case errors.Is(err, payments.ErrCallbackUnknownReference):
		return "Order Not Found"
	case errors.Is(err, payments.ErrCallbackAmountMismatch):
		return "Invalid Amount"
	default:
		return "Unknown Error"
	}
}
