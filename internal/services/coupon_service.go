package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

const couponIDPrefix = "cpn_"

var (
	// ErrCouponInvalidInput signals the caller provided invalid arguments.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates no coupon exists for the code.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponInvalid indicates the coupon cannot be redeemed right now.
	ErrCouponInvalid = errors.New("coupon: not redeemable")
	// ErrCouponAlreadyApplied indicates the order already carries a coupon.
	ErrCouponAlreadyApplied = errors.New("coupon: already applied to order")
	// ErrCouponConflict indicates a concurrent modification clashed.
	ErrCouponConflict = errors.New("coupon: conflict")
	// ErrCouponUnavailable indicates the coupon store failed.
	ErrCouponUnavailable = errors.New("coupon: repository unavailable")
)

// CouponServiceDeps bundles the collaborators required to construct a coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	orders  repositories.OrderRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("coupon service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		coupons: deps.Coupons,
		orders:  deps.Orders,
		clock:   clock,
		newID:   idGen,
		logger:  logger,
	}, nil
}

func (s *couponService) ApplyToOrder(ctx context.Context, cmd ApplyCouponCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	code := normaliseCouponCode(cmd.Code)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrCouponInvalidInput)
	}
	if code == "" {
		return domain.Order{}, fmt.Errorf("%w: coupon code is required", ErrCouponInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	if order.CouponCode != "" {
		return domain.Order{}, fmt.Errorf("%w: order %s already uses %s", ErrCouponAlreadyApplied, orderID, order.CouponCode)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", ErrCouponInvalid, orderID, order.Status)
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return domain.Order{}, fmt.Errorf("%w: order %s is already paid", ErrCouponInvalid, orderID)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return domain.Order{}, s.mapCouponError(err)
	}

	now := s.clock().UTC()
	if err := validateCouponUsable(coupon, now); err != nil {
		return domain.Order{}, err
	}

	original := order
	order.CouponCode = coupon.Code
	order.DiscountAmount = computeDiscount(coupon, order.Subtotal)
	order.TotalAmount = maxInt64(0, order.Subtotal-order.DiscountAmount)
	order.UpdatedAt = now

	// The order carries the discount before the usage counter moves, so a
	// failed write never leaks an increment without a recorded discount.
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}

	// The repository re-checks the usage limit transactionally, so two
	// concurrent redemptions of the last slot cannot both succeed. Losing
	// that race here reverts the discount already written to the order.
	if _, err := s.coupons.IncrementUsage(ctx, code, now); err != nil {
		if revertErr := s.orders.Update(ctx, original); revertErr != nil {
			s.logger(ctx, "coupon.revert_failed", map[string]any{
				"order_id": order.ID,
				"coupon":   coupon.Code,
				"error":    revertErr.Error(),
			})
		}
		return domain.Order{}, s.mapCouponError(err)
	}

	s.logger(ctx, "coupon.applied", map[string]any{
		"order_id": order.ID,
		"coupon":   coupon.Code,
		"discount": order.DiscountAmount,
	})
	return order, nil
}

func (s *couponService) Create(ctx context.Context, cmd CreateCouponCommand) (domain.Coupon, error) {
	code := normaliseCouponCode(cmd.Code)
	if code == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon code is required", ErrCouponInvalidInput)
	}
	if cmd.Type != domain.CouponTypePercentage && cmd.Type != domain.CouponTypeFixed {
		return domain.Coupon{}, fmt.Errorf("%w: unsupported coupon type %q", ErrCouponInvalidInput, cmd.Type)
	}
	if cmd.Value <= 0 {
		return domain.Coupon{}, fmt.Errorf("%w: value must be positive", ErrCouponInvalidInput)
	}
	if cmd.Type == domain.CouponTypePercentage && cmd.Value > 100 {
		return domain.Coupon{}, fmt.Errorf("%w: percentage value must not exceed 100", ErrCouponInvalidInput)
	}
	if cmd.UsageLimit < 0 {
		return domain.Coupon{}, fmt.Errorf("%w: usage limit must not be negative", ErrCouponInvalidInput)
	}
	if cmd.StartDate != nil && cmd.EndDate != nil && cmd.EndDate.Before(*cmd.StartDate) {
		return domain.Coupon{}, fmt.Errorf("%w: end date precedes start date", ErrCouponInvalidInput)
	}

	now := s.clock().UTC()
	coupon := domain.Coupon{
		ID:         couponIDPrefix + s.newID(),
		Code:       code,
		Type:       cmd.Type,
		Value:      cmd.Value,
		UsageLimit: cmd.UsageLimit,
		StartDate:  cmd.StartDate,
		EndDate:    cmd.EndDate,
		Active:     cmd.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return domain.Coupon{}, s.mapCouponError(err)
	}
	return coupon, nil
}

func (s *couponService) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = normaliseCouponCode(code)
	if code == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, s.mapCouponError(err)
	}
	return coupon, nil
}

func (s *couponService) List(ctx context.Context, filter CouponFilter) (domain.CursorPage[domain.Coupon], error) {
	page, err := s.coupons.List(ctx, repositories.CouponListFilter{
		ActiveOnly: filter.ActiveOnly,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, s.mapCouponError(err)
	}
	return page, nil
}

func (s *couponService) Delete(ctx context.Context, couponID string) error {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	if err := s.coupons.Delete(ctx, couponID); err != nil {
		return s.mapCouponError(err)
	}
	return nil
}

func (s *couponService) mapCouponError(err error) error {
	if err == nil {
		return nil
	}

	// The usage-limit re-check inside the transaction surfaces as a failed
	// precondition and must not look like a generic write conflict.
	if isFailedPrecondition(err) {
		return fmt.Errorf("%w: usage limit reached", ErrCouponInvalid)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCouponConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
		}
	}
	return err
}

func (s *couponService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

// validateCouponUsable checks activation, validity window, and usage limit.
func validateCouponUsable(coupon domain.Coupon, now time.Time) error {
	if !coupon.Active {
		return fmt.Errorf("%w: %s is inactive", ErrCouponInvalid, coupon.Code)
	}
	if coupon.StartDate != nil && now.Before(*coupon.StartDate) {
		return fmt.Errorf("%w: %s is not yet valid", ErrCouponInvalid, coupon.Code)
	}
	if coupon.EndDate != nil && now.After(*coupon.EndDate) {
		return fmt.Errorf("%w: %s has expired", ErrCouponInvalid, coupon.Code)
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return fmt.Errorf("%w: %s usage limit reached", ErrCouponInvalid, coupon.Code)
	}
	return nil
}

// computeDiscount returns the discount in the order currency, never more than
// the subtotal and never negative.
func computeDiscount(coupon domain.Coupon, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}

	var discount int64
	switch coupon.Type {
	case domain.CouponTypePercentage:
		discount = subtotal * coupon.Value / 100
	case domain.CouponTypeFixed:
		discount = coupon.Value
	default:
		return 0
	}

	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

func isFailedPrecondition(err error) bool {
	return status.Code(err) == codes.FailedPrecondition
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
