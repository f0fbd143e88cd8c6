package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
)

func newTestCouponService(t *testing.T, deps CouponServiceDeps) CouponService {
	t.Helper()
	if deps.Coupons == nil {
		deps.Coupons = &stubCouponRepo{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	svc, err := NewCouponService(deps)
	if err != nil {
		t.Fatalf("NewCouponService returned error: %v", err)
	}
	return svc
}

func TestCouponServiceApplyPercentageDiscount(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	var updated domain.Order
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:            orderID,
				UserID:        "user-1",
				Status:        domain.OrderStatusPending,
				PaymentStatus: domain.PaymentStatusPending,
				Subtotal:      500000,
				TotalAmount:   500000,
			}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}
	coupons := &stubCouponRepo{
		findFn: func(_ context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{Code: code, Type: domain.CouponTypePercentage, Value: 25, Active: true}, nil
		},
	}

	svc := newTestCouponService(t, CouponServiceDeps{Coupons: coupons, Orders: orders, Clock: func() time.Time { return now }})

	order, err := svc.ApplyToOrder(context.Background(), ApplyCouponCommand{OrderID: "ord-1", Code: "save25"})
	if err != nil {
		t.Fatalf("ApplyToOrder returned error: %v", err)
	}
	if order.DiscountAmount != 125000 {
		t.Fatalf("expected discount 125000, got %d", order.DiscountAmount)
	}
	if order.TotalAmount != 375000 {
		t.Fatalf("expected total 375000, got %d", order.TotalAmount)
	}
	if updated.CouponCode != "SAVE25" {
		t.Fatalf("expected persisted coupon code SAVE25, got %s", updated.CouponCode)
	}
}

func TestCouponServiceApplyFixedDiscountCapsAtSubtotal(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusPending, Subtotal: 30000, TotalAmount: 30000}, nil
		},
	}
	coupons := &stubCouponRepo{
		findFn: func(_ context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{Code: code, Type: domain.CouponTypeFixed, Value: 50000, Active: true}, nil
		},
	}

	svc := newTestCouponService(t, CouponServiceDeps{Coupons: coupons, Orders: orders})

	order, err := svc.ApplyToOrder(context.Background(), ApplyCouponCommand{OrderID: "ord-1", Code: "BIGOFF"})
	if err != nil {
		t.Fatalf("ApplyToOrder returned error: %v", err)
	}
	if order.DiscountAmount != 30000 {
		t.Fatalf("expected discount capped at subtotal, got %d", order.DiscountAmount)
	}
	if order.TotalAmount != 0 {
		t.Fatalf("expected total 0, got %d", order.TotalAmount)
	}
}

func TestCouponServiceApplyRejectsSecondCoupon(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusPending, CouponCode: "FIRST"}, nil
		},
	}

	svc := newTestCouponService(t, CouponServiceDeps{Orders: orders})

	if _, err := svc.ApplyToOrder(context.Background(), ApplyCouponCommand{OrderID: "ord-1", Code: "SECOND"}); !errors.Is(err, ErrCouponAlreadyApplied) {
		t.Fatalf("expected ErrCouponAlreadyApplied, got %v", err)
	}
}

func TestCouponServiceApplyValidatesRedeemability(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	cases := []struct {
		name   string
		coupon domain.Coupon
	}{
		{name: "inactive", coupon: domain.Coupon{Code: "C", Type: domain.CouponTypeFixed, Value: 100, Active: false}},
		{name: "not started", coupon: domain.Coupon{Code: "C", Type: domain.CouponTypeFixed, Value: 100, Active: true, StartDate: &future}},
		{name: "expired", coupon: domain.Coupon{Code: "C", Type: domain.CouponTypeFixed, Value: 100, Active: true, EndDate: &past}},
		{name: "exhausted", coupon: domain.Coupon{Code: "C", Type: domain.CouponTypeFixed, Value: 100, Active: true, UsageLimit: 5, UsedCount: 5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderRepo{
				findFn: func(_ context.Context, orderID string) (domain.Order, error) {
					return domain.Order{ID: orderID, Status: domain.OrderStatusPending, Subtotal: 1000}, nil
				},
			}
			coupons := &stubCouponRepo{
				findFn: func(_ context.Context, _ string) (domain.Coupon, error) {
					return tc.coupon, nil
				},
			}
			svc := newTestCouponService(t, CouponServiceDeps{Coupons: coupons, Orders: orders, Clock: func() time.Time { return now }})
			if _, err := svc.ApplyToOrder(context.Background(), ApplyCouponCommand{OrderID: "ord-1", Code: "C"}); !errors.Is(err, ErrCouponInvalid) {
				t.Fatalf("expected ErrCouponInvalid, got %v", err)
			}
		})
	}
}

func TestCouponServiceApplySurfacesUsageRaceAndRevertsOrder(t *testing.T) {
	var updates []domain.Order
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusPending, Subtotal: 1000, TotalAmount: 1000}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updates = append(updates, order)
			return nil
		},
	}
	coupons := &stubCouponRepo{
		findFn: func(_ context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{Code: code, Type: domain.CouponTypeFixed, Value: 100, Active: true, UsageLimit: 1}, nil
		},
		incrementFn: func(_ context.Context, code string, _ time.Time) (domain.Coupon, error) {
			return domain.Coupon{}, status.Error(codes.FailedPrecondition, "usage limit reached")
		},
	}

	svc := newTestCouponService(t, CouponServiceDeps{Coupons: coupons, Orders: orders})

	if _, err := svc.ApplyToOrder(context.Background(), ApplyCouponCommand{OrderID: "ord-1", Code: "LAST"}); !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected discount write plus revert, got %d updates", len(updates))
	}
	if updates[1].CouponCode != "" || updates[1].DiscountAmount != 0 || updates[1].TotalAmount != 1000 {
		t.Fatalf("expected revert to restore the undiscounted order, got %+v", updates[1])
	}
}

func TestCouponServiceApplyIncrementsOnlyAfterOrderPersists(t *testing.T) {
	var incremented bool
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusPending, Subtotal: 1000}, nil
		},
		updateFn: func(_ context.Context, _ domain.Order) error {
			return status.Error(codes.Unavailable, "write failed")
		},
	}
	coupons := &stubCouponRepo{
		findFn: func(_ context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{Code: code, Type: domain.CouponTypePercentage, Value: 10, Active: true}, nil
		},
		incrementFn: func(_ context.Context, _ string, _ time.Time) (domain.Coupon, error) {
			incremented = true
			return domain.Coupon{}, nil
		},
	}

	svc := newTestCouponService(t, CouponServiceDeps{Coupons: coupons, Orders: orders})

	if _, err := svc.ApplyToOrder(context.Background(), ApplyCouponCommand{OrderID: "ord-1", Code: "SALE10"}); err == nil {
		t.Fatalf("expected error from failed order write")
	}
	if incremented {
		t.Fatalf("usage must not increment when the order write fails")
	}
}

func TestCouponServiceCreateValidatesDefinition(t *testing.T) {
	svc := newTestCouponService(t, CouponServiceDeps{})

	cases := []struct {
		name string
		cmd  CreateCouponCommand
	}{
		{name: "missing code", cmd: CreateCouponCommand{Type: domain.CouponTypeFixed, Value: 100}},
		{name: "bad type", cmd: CreateCouponCommand{Code: "X", Type: "BOGOF", Value: 100}},
		{name: "zero value", cmd: CreateCouponCommand{Code: "X", Type: domain.CouponTypeFixed, Value: 0}},
		{name: "over 100 percent", cmd: CreateCouponCommand{Code: "X", Type: domain.CouponTypePercentage, Value: 120}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.cmd); !errors.Is(err, ErrCouponInvalidInput) {
				t.Fatalf("expected ErrCouponInvalidInput, got %v", err)
			}
		})
	}
}

func TestCouponServiceCreateNormalisesCode(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	var inserted domain.Coupon
	coupons := &stubCouponRepo{
		insertFn: func(_ context.Context, coupon domain.Coupon) error {
			inserted = coupon
			return nil
		},
	}

	svc := newTestCouponService(t, CouponServiceDeps{
		Coupons:     coupons,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TEST" },
	})

	coupon, err := svc.Create(context.Background(), CreateCouponCommand{
		Code:   " welcome5 ",
		Type:   domain.CouponTypePercentage,
		Value:  5,
		Active: true,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if coupon.ID != "cpn_01TEST" {
		t.Fatalf("unexpected coupon id %s", coupon.ID)
	}
	if coupon.Code != "WELCOME5" || inserted.Code != "WELCOME5" {
		t.Fatalf("expected normalised code WELCOME5, got %s", coupon.Code)
	}
}
