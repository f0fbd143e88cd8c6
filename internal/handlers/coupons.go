package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/platform/httpx"
	"github.com/choocapi/ecommerce-backend/internal/services"
)

// CouponHandlers exposes coupon lookup for storefront clients.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers the /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{code}", h.getCoupon)
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon code is required", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.GetByCode(ctx, code)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

type couponListResponse struct {
	Items         []couponPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type couponPayload struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Type       string `json:"type"`
	Value      int64  `json:"value"`
	UsageLimit int    `json:"usage_limit"`
	UsedCount  int    `json:"used_count"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	return couponPayload{
		ID:         coupon.ID,
		Code:       coupon.Code,
		Type:       string(coupon.Type),
		Value:      coupon.Value,
		UsageLimit: coupon.UsageLimit,
		UsedCount:  coupon.UsedCount,
		StartDate:  formatTimePointer(coupon.StartDate),
		EndDate:    formatTimePointer(coupon.EndDate),
		Active:     coupon.Active,
		CreatedAt:  formatTime(coupon.CreatedAt),
		UpdatedAt:  formatTime(coupon.UpdatedAt),
	}
}

func buildCouponListResponse(page domain.CursorPage[domain.Coupon]) couponListResponse {
	items := make([]couponPayload, 0, len(page.Items))
	for _, coupon := range page.Items {
		items = append(items, buildCouponPayload(coupon))
	}
	return couponListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponAlreadyApplied):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_already_applied", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to process coupon request", http.StatusInternalServerError))
	}
}
