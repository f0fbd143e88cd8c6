package repositories

import (
	"context"
	"time"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Stock() StockRepository
	Coupons() CouponRepository
	Returns() ReturnRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides the transactional
// hooks payment reconciliation depends on.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// SetGatewayRef records the provider correlation id issued when a payment
	// request is created. The ref for a provider is set exactly once.
	SetGatewayRef(ctx context.Context, orderID string, method domain.PaymentMethod, ref string) error
	// FindByGatewayRef resolves the order a provider callback refers to.
	FindByGatewayRef(ctx context.Context, method domain.PaymentMethod, ref string) (domain.Order, error)
	// ApplyPaymentOutcome runs the read-check-write for a callback outcome in
	// one transaction. Orders already PAID are left untouched and reported via
	// AlreadyPaid so retried provider callbacks stay idempotent.
	ApplyPaymentOutcome(ctx context.Context, req PaymentOutcomeRequest) (PaymentOutcomeResult, error)
}

// PaymentOutcomeRequest carries the settlement outcome derived from a verified callback.
type PaymentOutcomeRequest struct {
	OrderID       string
	PaymentStatus domain.PaymentStatus
	OrderStatus   *domain.OrderStatus
	Now           time.Time
}

// PaymentOutcomeResult reports the order state after the outcome was applied.
type PaymentOutcomeResult struct {
	Order       domain.Order
	AlreadyPaid bool
}

// StockOperation enumerates the inventory ledger mutations.
type StockOperation string

const (
	// StockOpReserve moves quantity from available to reserved, failing on shortfall.
	StockOpReserve StockOperation = "reserve"
	// StockOpRelease returns reserved quantity to available, clamped at zero.
	StockOpRelease StockOperation = "release"
	// StockOpConsume burns reserved quantity out of on-hand on shipment.
	StockOpConsume StockOperation = "consume"
	// StockOpRestore adds quantity back to on-hand after a completed return.
	StockOpRestore StockOperation = "restore"
)

// StockLine is a single product/quantity pair inside a ledger adjustment.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockAdjustRequest applies one operation across all lines atomically.
type StockAdjustRequest struct {
	Op       StockOperation
	OrderRef string
	Lines    []StockLine
	Now      time.Time
}

// StockAdjustResult returns the post-adjustment stock rows keyed by product id.
type StockAdjustResult struct {
	Stocks map[string]domain.ProductStock
}

// StockRepository manages per-product stock rows with transactional guarantees.
// Adjust performs its read-check-write inside a single transaction so
// concurrent adjustments of the same product serialize instead of losing updates.
type StockRepository interface {
	Adjust(ctx context.Context, req StockAdjustRequest) (StockAdjustResult, error)
	Get(ctx context.Context, productID string) (domain.ProductStock, error)
	SetLevels(ctx context.Context, productID string, onHand int, now time.Time) (domain.ProductStock, error)
	ListLowStock(ctx context.Context, query StockLowStockQuery) (domain.CursorPage[domain.ProductStock], error)
}

// StockLowStockQuery controls pagination and threshold filtering for low stock listings.
type StockLowStockQuery struct {
	Threshold int
	PageSize  int
	PageToken string
}

// CouponRepository maintains coupon definitions and usage counters.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, couponID string) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// IncrementUsage bumps UsedCount transactionally and re-checks the usage
	// limit inside the transaction.
	IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
}

// ReturnRepository stores return requests and their workflow state.
type ReturnRepository interface {
	Insert(ctx context.Context, request domain.ReturnRequest) error
	Update(ctx context.Context, request domain.ReturnRequest) error
	FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}

// HealthReport aggregates dependency probe results for readiness checks.
type HealthReport struct {
	Healthy    bool
	Components map[string]HealthComponent
	CheckedAt  time.Time
}

// HealthComponent is a single dependency probe outcome.
type HealthComponent struct {
	Healthy bool
	Detail  string
	Latency time.Duration
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type CouponListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

type ReturnListFilter struct {
	UserID     string
	Status     []domain.ReturnStatus
	Pagination domain.Pagination
}
