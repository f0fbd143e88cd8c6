package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid arguments.
	ErrPaymentInvalidInput = errors.New("payments: invalid input")
	// ErrPaymentOrderNotFound indicates no order matches the request.
	ErrPaymentOrderNotFound = errors.New("payments: order not found")
	// ErrPaymentForbidden indicates the caller does not own the order.
	ErrPaymentForbidden = errors.New("payments: forbidden")
	// ErrPaymentNotPayable indicates the order cannot accept a payment.
	ErrPaymentNotPayable = errors.New("payments: order not payable")
	// ErrPaymentMethodMismatch indicates the order was placed with a
	// different payment method.
	ErrPaymentMethodMismatch = errors.New("payments: method mismatch")
	// ErrCallbackInvalidSignature indicates the callback failed authentication.
	ErrCallbackInvalidSignature = errors.New("payments: invalid callback signature")
	// ErrCallbackUnknownReference indicates no order carries the gateway ref.
	ErrCallbackUnknownReference = errors.New("payments: unknown transaction reference")
	// ErrCallbackAmountMismatch indicates the callback amount differs from
	// the order total.
	ErrCallbackAmountMismatch = errors.New("payments: amount mismatch")
)

// InitiateRequest asks for a hosted payment URL for an existing order.
type InitiateRequest struct {
	Provider string
	OrderID  string
	UserID   string
	ClientIP string
}

// ReconcileResult reports the order-side effect of a verified callback.
type ReconcileResult struct {
	OrderID       string
	Outcome       Outcome
	PaymentStatus domain.PaymentStatus
	OrderStatus   domain.OrderStatus
	// AlreadyProcessed is true when a previous callback settled the order
	// and this one was absorbed without side effects.
	AlreadyProcessed bool
	Message          string
}

// ReconcilerDeps bundles the collaborators required to construct a Reconciler.
type ReconcilerDeps struct {
	Orders   repositories.OrderRepository
	Gateways *Manager
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Reconciler drives payment initiation and callback reconciliation against
// the order store.
type Reconciler struct {
	orders   repositories.OrderRepository
	gateways *Manager
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewReconciler wires dependencies into a Reconciler.
func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payments: order repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payments: gateway manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Reconciler{
		orders:   deps.Orders,
		gateways: deps.Gateways,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Initiate creates a hosted payment for the order and records the gateway
// reference for later callback correlation.
func (r *Reconciler) Initiate(ctx context.Context, req InitiateRequest) (CreateResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return CreateResult{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	gw, err := r.gateways.Resolve(req.Provider)
	if err != nil {
		return CreateResult{}, err
	}

	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		return CreateResult{}, r.mapOrderError(err)
	}
	if req.UserID != "" && order.UserID != req.UserID {
		return CreateResult{}, fmt.Errorf("%w: order %s does not belong to caller", ErrPaymentForbidden, orderID)
	}
	if order.PaymentMethod != gw.Method() {
		return CreateResult{}, fmt.Errorf("%w: order uses %s", ErrPaymentMethodMismatch, order.PaymentMethod)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return CreateResult{}, fmt.Errorf("%w: payment status is %s", ErrPaymentNotPayable, order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
		return CreateResult{}, fmt.Errorf("%w: order status is %s", ErrPaymentNotPayable, order.Status)
	}

	result, err := gw.CreatePayment(ctx, CreateRequest{
		OrderID:  order.ID,
		Amount:   order.TotalAmount,
		ClientIP: req.ClientIP,
	})
	if err != nil {
		return CreateResult{}, err
	}
	if result.Code != CodeSuccess {
		r.logger(ctx, "payments.create_degraded", map[string]any{
			"provider": gw.Name(),
			"order_id": order.ID,
			"code":     result.Code,
			"message":  result.Message,
		})
		return result, nil
	}

	if err := r.orders.SetGatewayRef(ctx, order.ID, gw.Method(), result.Ref); err != nil {
		return CreateResult{}, r.mapOrderError(err)
	}
	return result, nil
}

// HandleCallback verifies a gateway callback and applies its outcome to the
// referenced order. Replays of an already settled payment are absorbed.
func (r *Reconciler) HandleCallback(ctx context.Context, provider string, params map[string]string) (ReconcileResult, error) {
	gw, err := r.gateways.Resolve(provider)
	if err != nil {
		return ReconcileResult{}, err
	}

	verified, err := gw.VerifyCallback(ctx, params)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}
	if !verified.Valid {
		r.logger(ctx, "payments.callback_rejected", map[string]any{
			"provider": gw.Name(),
			"reason":   "signature",
		})
		return ReconcileResult{}, ErrCallbackInvalidSignature
	}

	order, err := r.orders.FindByGatewayRef(ctx, gw.Method(), verified.Ref)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return ReconcileResult{}, fmt.Errorf("%w: %s", ErrCallbackUnknownReference, verified.Ref)
		}
		return ReconcileResult{}, err
	}

	// Amount is validated before any outcome is applied, so a tampered
	// notification never mutates the order regardless of its status code.
	if verified.Amount != order.TotalAmount {
		r.logger(ctx, "payments.callback_rejected", map[string]any{
			"provider": gw.Name(),
			"order_id": order.ID,
			"reason":   "amount",
			"expected": order.TotalAmount,
			"received": verified.Amount,
		})
		return ReconcileResult{}, fmt.Errorf("%w: expected %d, got %d", ErrCallbackAmountMismatch, order.TotalAmount, verified.Amount)
	}

	switch verified.Outcome {
	case OutcomeSucceeded:
		return r.applyOutcome(ctx, gw, order, verified)
	case OutcomeProcessing:
		// Not settled yet. The payment goes back to PENDING until the
		// gateway calls again with a final status; the CAS guard keeps an
		// already settled payment untouched.
		applied, err := r.orders.ApplyPaymentOutcome(ctx, repositories.PaymentOutcomeRequest{
			OrderID:       order.ID,
			PaymentStatus: domain.PaymentStatusPending,
			Now:           r.clock().UTC(),
		})
		if err != nil {
			return ReconcileResult{}, r.mapOrderError(err)
		}
		return ReconcileResult{
			OrderID:          applied.Order.ID,
			Outcome:          OutcomeProcessing,
			PaymentStatus:    applied.Order.PaymentStatus,
			OrderStatus:      applied.Order.Status,
			AlreadyProcessed: applied.AlreadyPaid,
			Message:          verified.Message,
		}, nil
	default:
		return r.applyFailure(ctx, gw, order, verified)
	}
}

func (r *Reconciler) applyOutcome(ctx context.Context, gw Gateway, order domain.Order, verified CallbackResult) (ReconcileResult, error) {
	processing := domain.OrderStatusProcessing
	outcomeReq := repositories.PaymentOutcomeRequest{
		OrderID:       order.ID,
		PaymentStatus: domain.PaymentStatusPaid,
		Now:           r.clock().UTC(),
	}
	// Payment confirmation also moves a pending order into fulfilment.
	if order.Status == domain.OrderStatusPending {
		outcomeReq.OrderStatus = &processing
	}

	applied, err := r.orders.ApplyPaymentOutcome(ctx, outcomeReq)
	if err != nil {
		return ReconcileResult{}, r.mapOrderError(err)
	}
	if applied.AlreadyPaid {
		r.logger(ctx, "payments.callback_replayed", map[string]any{
			"provider": gw.Name(),
			"order_id": order.ID,
		})
	}

	return ReconcileResult{
		OrderID:          applied.Order.ID,
		Outcome:          OutcomeSucceeded,
		PaymentStatus:    applied.Order.PaymentStatus,
		OrderStatus:      applied.Order.Status,
		AlreadyProcessed: applied.AlreadyPaid,
		Message:          verified.Message,
	}, nil
}

func (r *Reconciler) applyFailure(ctx context.Context, gw Gateway, order domain.Order, verified CallbackResult) (ReconcileResult, error) {
	applied, err := r.orders.ApplyPaymentOutcome(ctx, repositories.PaymentOutcomeRequest{
		OrderID:       order.ID,
		PaymentStatus: domain.PaymentStatusFailed,
		Now:           r.clock().UTC(),
	})
	if err != nil {
		return ReconcileResult{}, r.mapOrderError(err)
	}
	if applied.AlreadyPaid {
		// A success already landed for this order; a late failure
		// notification must not claw it back.
		return ReconcileResult{
			OrderID:          applied.Order.ID,
			Outcome:          OutcomeSucceeded,
			PaymentStatus:    applied.Order.PaymentStatus,
			OrderStatus:      applied.Order.Status,
			AlreadyProcessed: true,
		}, nil
	}

	r.logger(ctx, "payments.callback_failed_payment", map[string]any{
		"provider": gw.Name(),
		"order_id": order.ID,
		"code":     verified.Code,
	})
	return ReconcileResult{
		OrderID:       applied.Order.ID,
		Outcome:       OutcomeFailed,
		PaymentStatus: applied.Order.PaymentStatus,
		OrderStatus:   applied.Order.Status,
		Message:       verified.Message,
	}, nil
}

func (r *Reconciler) mapOrderError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrPaymentOrderNotFound, err)
	}
	return err
}
