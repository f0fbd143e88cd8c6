package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	pfirestore "github.com/choocapi/ecommerce-backend/internal/platform/firestore"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

type stubReturnRepo struct {
	insertFn      func(ctx context.Context, request domain.ReturnRequest) error
	updateFn      func(ctx context.Context, request domain.ReturnRequest) error
	findFn        func(ctx context.Context, requestID string) (domain.ReturnRequest, error)
	findByOrderFn func(ctx context.Context, orderID string) (domain.ReturnRequest, error)
	listFn        func(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

func (s *stubReturnRepo) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, request)
	}
	return nil
}

func (s *stubReturnRepo) Update(ctx context.Context, request domain.ReturnRequest) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, request)
	}
	return nil
}

func (s *stubReturnRepo) FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error) {
	if s.findFn != nil {
		return s.findFn(ctx, requestID)
	}
	return domain.ReturnRequest{}, errors.New("not implemented")
}

func (s *stubReturnRepo) FindByOrderID(ctx context.Context, orderID string) (domain.ReturnRequest, error) {
	if s.findByOrderFn != nil {
		return s.findByOrderFn(ctx, orderID)
	}
	return domain.ReturnRequest{}, errors.New("not implemented")
}

func (s *stubReturnRepo) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.ReturnRequest]{}, nil
}

func returnNotFoundErr() error {
	return pfirestore.WrapError("returns.findByOrder", status.Error(codes.NotFound, "no return request"))
}

func newTestReturnService(t *testing.T, deps ReturnServiceDeps) ReturnService {
	t.Helper()
	if deps.Returns == nil {
		deps.Returns = &stubReturnRepo{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Inventory == nil {
		deps.Inventory = &stubInventoryService{}
	}
	svc, err := NewReturnService(deps)
	if err != nil {
		t.Fatalf("NewReturnService returned error: %v", err)
	}
	return svc
}

func TestReturnServiceCreateOpensPendingRequest(t *testing.T) {
	now := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	var inserted domain.ReturnRequest
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusDelivered}, nil
		},
	}
	returns := &stubReturnRepo{
		findByOrderFn: func(_ context.Context, _ string) (domain.ReturnRequest, error) {
			return domain.ReturnRequest{}, returnNotFoundErr()
		},
		insertFn: func(_ context.Context, request domain.ReturnRequest) error {
			inserted = request
			return nil
		},
	}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Returns:     returns,
		Orders:      orders,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TEST" },
	})

	request, err := svc.Create(context.Background(), CreateReturnCommand{
		OrderID:   "ord-1",
		UserID:    "user-1",
		Reason:    "damaged on arrival",
		ImageURLs: []string{"https://img.example/1.jpg"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if request.ID != "rr_01TEST" {
		t.Fatalf("unexpected request id %s", request.ID)
	}
	if request.Status != domain.ReturnStatusPending {
		t.Fatalf("expected PENDING, got %s", request.Status)
	}
	if inserted.OrderID != "ord-1" || inserted.Reason != "damaged on arrival" {
		t.Fatalf("unexpected persisted request %+v", inserted)
	}
}

func TestReturnServiceCreateRejectsUndeliveredOrders(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusShipped}, nil
		},
	}

	svc := newTestReturnService(t, ReturnServiceDeps{Orders: orders})

	_, err := svc.Create(context.Background(), CreateReturnCommand{OrderID: "ord-1", UserID: "user-1", Reason: "wrong size"})
	if !errors.Is(err, ErrReturnOrderNotEligible) {
		t.Fatalf("expected ErrReturnOrderNotEligible, got %v", err)
	}
}

func TestReturnServiceCreateRejectsDuplicateRequests(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusDelivered}, nil
		},
	}
	returns := &stubReturnRepo{
		findByOrderFn: func(_ context.Context, orderID string) (domain.ReturnRequest, error) {
			return domain.ReturnRequest{ID: "rr_existing", OrderID: orderID}, nil
		},
	}

	svc := newTestReturnService(t, ReturnServiceDeps{Returns: returns, Orders: orders})

	_, err := svc.Create(context.Background(), CreateReturnCommand{OrderID: "ord-1", UserID: "user-1", Reason: "broken"})
	if !errors.Is(err, ErrReturnAlreadyRequested) {
		t.Fatalf("expected ErrReturnAlreadyRequested, got %v", err)
	}
}

func TestReturnServiceCreateEnforcesOwnership(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusDelivered}, nil
		},
	}

	svc := newTestReturnService(t, ReturnServiceDeps{Orders: orders})

	_, err := svc.Create(context.Background(), CreateReturnCommand{OrderID: "ord-1", UserID: "intruder", Reason: "broken"})
	if !errors.Is(err, ErrReturnForbidden) {
		t.Fatalf("expected ErrReturnForbidden, got %v", err)
	}
}

func TestReturnServiceUpdateStatusFollowsWorkflow(t *testing.T) {
	cases := []struct {
		name    string
		from    domain.ReturnStatus
		to      domain.ReturnStatus
		wantErr error
	}{
		{name: "approve pending", from: domain.ReturnStatusPending, to: domain.ReturnStatusApproved},
		{name: "reject pending", from: domain.ReturnStatusPending, to: domain.ReturnStatusRejected},
		{name: "complete pending", from: domain.ReturnStatusPending, to: domain.ReturnStatusCompleted, wantErr: ErrReturnInvalidTransition},
		{name: "approve rejected", from: domain.ReturnStatusRejected, to: domain.ReturnStatusApproved, wantErr: ErrReturnInvalidTransition},
		{name: "reject completed", from: domain.ReturnStatusCompleted, to: domain.ReturnStatusRejected, wantErr: ErrReturnInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			returns := &stubReturnRepo{
				findFn: func(_ context.Context, requestID string) (domain.ReturnRequest, error) {
					return domain.ReturnRequest{ID: requestID, OrderID: "ord-1", Status: tc.from}, nil
				},
			}
			svc := newTestReturnService(t, ReturnServiceDeps{Returns: returns})

			request, err := svc.UpdateStatus(context.Background(), UpdateReturnStatusCommand{RequestID: "rr-1", Status: tc.to})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateStatus returned error: %v", err)
			}
			if request.Status != tc.to {
				t.Fatalf("expected %s, got %s", tc.to, request.Status)
			}
		})
	}
}

func TestReturnServiceCompleteRestoresStockAndClosesOrder(t *testing.T) {
	now := time.Date(2025, 8, 2, 9, 0, 0, 0, time.UTC)
	restored := false
	var updatedOrder domain.Order
	var updatedRequest domain.ReturnRequest

	returns := &stubReturnRepo{
		findFn: func(_ context.Context, requestID string) (domain.ReturnRequest, error) {
			return domain.ReturnRequest{ID: requestID, OrderID: "ord-1", UserID: "user-1", Status: domain.ReturnStatusApproved}, nil
		},
		updateFn: func(_ context.Context, request domain.ReturnRequest) error {
			updatedRequest = request
			return nil
		},
	}
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:     orderID,
				UserID: "user-1",
				Status: domain.OrderStatusDelivered,
				Items:  []domain.OrderItem{{ProductID: "prod-1", Quantity: 3}},
			}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updatedOrder = order
			return nil
		},
	}
	inventory := &stubInventoryService{
		restoreFn: func(_ context.Context, cmd StockCommand) (StockAdjustment, error) {
			restored = true
			if cmd.Lines[0].Quantity != 3 {
				t.Fatalf("expected quantity 3, got %d", cmd.Lines[0].Quantity)
			}
			return StockAdjustment{}, nil
		},
	}
	events := &captureOrderEvents{}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Returns:   returns,
		Orders:    orders,
		Inventory: inventory,
		Events:    events,
		Clock:     func() time.Time { return now },
	})

	request, err := svc.UpdateStatus(context.Background(), UpdateReturnStatusCommand{
		RequestID: "rr-1",
		Status:    domain.ReturnStatusCompleted,
		AdminNote: "refund issued",
	})
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if !restored {
		t.Fatalf("expected stock restored")
	}
	if updatedOrder.Status != domain.OrderStatusReturned {
		t.Fatalf("expected order RETURNED, got %s", updatedOrder.Status)
	}
	if request.CompletedAt == nil || !request.CompletedAt.Equal(now) {
		t.Fatalf("expected completedAt stamped")
	}
	if updatedRequest.AdminNote != "refund issued" {
		t.Fatalf("expected admin note persisted, got %q", updatedRequest.AdminNote)
	}
	if len(events.events) != 1 || events.events[0].Type != eventOrderReturned {
		t.Fatalf("expected order.returned event, got %+v", events.events)
	}
}
