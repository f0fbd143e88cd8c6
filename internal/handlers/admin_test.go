package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/services"
)

type stubInventoryHandlerService struct {
	getStockFn    func(ctx context.Context, productID string) (services.StockSnapshot, error)
	setLevelsFn   func(ctx context.Context, cmd services.SetStockLevelsCommand) (services.StockSnapshot, error)
	listLowFn     func(ctx context.Context, filter services.LowStockFilter) (domain.CursorPage[services.StockSnapshot], error)
	adjustPhaseFn func(ctx context.Context, cmd services.StockCommand) (services.StockAdjustment, error)
}

func (s *stubInventoryHandlerService) Reserve(ctx context.Context, cmd services.StockCommand) (services.StockAdjustment, error) {
	if s.adjustPhaseFn != nil {
		return s.adjustPhaseFn(ctx, cmd)
	}
	return services.StockAdjustment{}, nil
}

func (s *stubInventoryHandlerService) Release(ctx context.Context, cmd services.StockCommand) (services.StockAdjustment, error) {
	if s.adjustPhaseFn != nil {
		return s.adjustPhaseFn(ctx, cmd)
	}
	return services.StockAdjustment{}, nil
}

func (s *stubInventoryHandlerService) Consume(ctx context.Context, cmd services.StockCommand) (services.StockAdjustment, error) {
	if s.adjustPhaseFn != nil {
		return s.adjustPhaseFn(ctx, cmd)
	}
	return services.StockAdjustment{}, nil
}

func (s *stubInventoryHandlerService) Restore(ctx context.Context, cmd services.StockCommand) (services.StockAdjustment, error) {
	if s.adjustPhaseFn != nil {
		return s.adjustPhaseFn(ctx, cmd)
	}
	return services.StockAdjustment{}, nil
}

func (s *stubInventoryHandlerService) GetStock(ctx context.Context, productID string) (services.StockSnapshot, error) {
	if s.getStockFn != nil {
		return s.getStockFn(ctx, productID)
	}
	return services.StockSnapshot{}, nil
}

func (s *stubInventoryHandlerService) SetStockLevels(ctx context.Context, cmd services.SetStockLevelsCommand) (services.StockSnapshot, error) {
	if s.setLevelsFn != nil {
		return s.setLevelsFn(ctx, cmd)
	}
	return services.StockSnapshot{}, nil
}

func (s *stubInventoryHandlerService) ListLowStock(ctx context.Context, filter services.LowStockFilter) (domain.CursorPage[services.StockSnapshot], error) {
	if s.listLowFn != nil {
		return s.listLowFn(ctx, filter)
	}
	return domain.CursorPage[services.StockSnapshot]{}, nil
}

var _ services.InventoryService = (*stubInventoryHandlerService)(nil)

func newAdminTestRouter(orders services.OrderService, inventory services.InventoryService, coupons services.CouponService, returns services.ReturnService) chi.Router {
	h := NewAdminHandlers(orders, inventory, coupons, returns)
	r := chi.NewRouter()
	r.Use(IdentityMiddleware())
	r.Route("/admin", func(group chi.Router) {
		group.Use(RequireAdmin())
		h.Routes(group)
	})
	return r
}

func adminRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set("X-User-Id", "admin-1")
	req.Header.Set("X-User-Role", "admin")
	return req
}

func TestAdminHandlersRejectNonAdmins(t *testing.T) {
	router := newAdminTestRouter(&stubOrderService{}, &stubInventoryHandlerService{}, &stubCouponService{}, &stubReturnService{})

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("X-User-Id", "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminHandlersShipOrder(t *testing.T) {
	shipped := false
	orders := &stubOrderService{
		shipFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			shipped = true
			return domain.Order{ID: orderID, Status: domain.OrderStatusShipped}, nil
		},
	}
	router := newAdminTestRouter(orders, &stubInventoryHandlerService{}, &stubCouponService{}, &stubReturnService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/ord_1:ship", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !shipped {
		t.Fatal("expected ship to be invoked")
	}
}

func TestAdminHandlersListOrdersFiltersByUser(t *testing.T) {
	var captured services.ListOrdersQuery
	orders := &stubOrderService{
		listFn: func(_ context.Context, query services.ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
			captured = query
			return domain.CursorPage[domain.Order]{}, nil
		},
	}
	router := newAdminTestRouter(orders, &stubInventoryHandlerService{}, &stubCouponService{}, &stubReturnService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/orders?user_id=user-9&status=pending", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-9" {
		t.Fatalf("expected user filter user-9, got %q", captured.UserID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.OrderStatusPending {
		t.Fatalf("unexpected status filter: %+v", captured.Status)
	}
}

func TestAdminHandlersSetStockLevels(t *testing.T) {
	var captured services.SetStockLevelsCommand
	inventory := &stubInventoryHandlerService{
		setLevelsFn: func(_ context.Context, cmd services.SetStockLevelsCommand) (services.StockSnapshot, error) {
			captured = cmd
			return services.StockSnapshot{
				ProductID: cmd.ProductID,
				OnHand:    cmd.OnHand,
				Available: cmd.OnHand,
			}, nil
		},
	}
	router := newAdminTestRouter(&stubOrderService{}, inventory, &stubCouponService{}, &stubReturnService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/admin/inventory/prod-1", `{"on_hand": 40}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prod-1" || captured.OnHand != 40 {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var resp stockResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Stock.Available != 40 {
		t.Fatalf("expected available 40, got %d", resp.Stock.Available)
	}
}

func TestAdminHandlersListLowStockPassesThreshold(t *testing.T) {
	var captured services.LowStockFilter
	inventory := &stubInventoryHandlerService{
		listLowFn: func(_ context.Context, filter services.LowStockFilter) (domain.CursorPage[services.StockSnapshot], error) {
			captured = filter
			return domain.CursorPage[services.StockSnapshot]{
				Items: []services.StockSnapshot{{ProductID: "prod-2", OnHand: 3, Available: 3}},
			}, nil
		},
	}
	router := newAdminTestRouter(&stubOrderService{}, inventory, &stubCouponService{}, &stubReturnService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/inventory/low-stock?threshold=5", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Threshold != 5 {
		t.Fatalf("expected threshold 5, got %d", captured.Threshold)
	}
}

func TestAdminHandlersCreateCoupon(t *testing.T) {
	var captured services.CreateCouponCommand
	coupons := &stubCouponService{
		createFn: func(_ context.Context, cmd services.CreateCouponCommand) (domain.Coupon, error) {
			captured = cmd
			return domain.Coupon{ID: "cpn_01TEST", Code: "SAVE25", Type: cmd.Type, Value: cmd.Value}, nil
		},
	}
	router := newAdminTestRouter(&stubOrderService{}, &stubInventoryHandlerService{}, coupons, &stubReturnService{})

	body := `{"code": "save25", "type": "percentage", "value": 25, "usage_limit": 100, "active": true}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/coupons", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Type != domain.CouponTypePercentage || captured.Value != 25 {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestAdminHandlersUpdateReturnStatus(t *testing.T) {
	var captured services.UpdateReturnStatusCommand
	returns := &stubReturnService{
		updateStatusFn: func(_ context.Context, cmd services.UpdateReturnStatusCommand) (domain.ReturnRequest, error) {
			captured = cmd
			return domain.ReturnRequest{ID: cmd.RequestID, Status: cmd.Status, AdminNote: cmd.AdminNote}, nil
		},
	}
	router := newAdminTestRouter(&stubOrderService{}, &stubInventoryHandlerService{}, &stubCouponService{}, returns)

	body := `{"status": "approved", "admin_note": "send it back within 7 days"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPatch, "/admin/returns/rr_1", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.RequestID != "rr_1" || captured.Status != domain.ReturnStatusApproved {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.AdminNote != "send it back within 7 days" {
		t.Fatalf("unexpected admin note: %q", captured.AdminNote)
	}
}
