package services

import (
	"context"
	"time"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
)

// InventoryService exposes the stock ledger operations orders depend on.
// Every adjustment covers all of an order's lines atomically.
type InventoryService interface {
	// Reserve moves quantity from available to reserved for every line, or
	// fails the whole batch with ErrInventoryInsufficientStock.
	Reserve(ctx context.Context, cmd StockCommand) (StockAdjustment, error)
	// Release returns reserved quantity to availability (cancellation).
	Release(ctx context.Context, cmd StockCommand) (StockAdjustment, error)
	// Consume burns reserved quantity out of on-hand (shipment).
	Consume(ctx context.Context, cmd StockCommand) (StockAdjustment, error)
	// Restore adds quantity back to on-hand (completed return).
	Restore(ctx context.Context, cmd StockCommand) (StockAdjustment, error)

	GetStock(ctx context.Context, productID string) (StockSnapshot, error)
	SetStockLevels(ctx context.Context, cmd SetStockLevelsCommand) (StockSnapshot, error)
	ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[StockSnapshot], error)
}

// StockCommand identifies the order and lines a ledger adjustment covers.
type StockCommand struct {
	OrderID string
	Lines   []StockLine
	Reason  string
}

// StockLine pairs a product with a quantity.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockAdjustment reports the post-adjustment stock rows keyed by product id.
type StockAdjustment struct {
	Stocks map[string]StockSnapshot
}

// StockSnapshot is the service-level projection of a stock row.
type StockSnapshot struct {
	ProductID string
	OnHand    int
	Reserved  int
	Available int
	UpdatedAt time.Time
}

// SetStockLevelsCommand seeds or corrects the on-hand count for a product.
type SetStockLevelsCommand struct {
	ProductID string
	OnHand    int
}

// LowStockFilter controls the low stock listing.
type LowStockFilter struct {
	Threshold  int
	Pagination domain.Pagination
}

// StockEvent describes a ledger mutation published for downstream consumers.
type StockEvent struct {
	Type       string
	OrderRef   string
	ProductID  string
	Delta      int
	OnHand     int
	Reserved   int
	OccurredAt time.Time
	Metadata   map[string]any
}

// StockEventPublisher emits stock events to the event bus.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// OrderService drives the order lifecycle state machine.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	Get(ctx context.Context, query GetOrderQuery) (domain.Order, error)
	List(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error)

	// Confirm moves PENDING to PROCESSING (manual or COD confirmation).
	Confirm(ctx context.Context, orderID string) (domain.Order, error)
	// Ship moves PROCESSING to SHIPPED and consumes reserved stock.
	Ship(ctx context.Context, orderID string) (domain.Order, error)
	// ConfirmDelivery lets the owning customer move SHIPPED to DELIVERED.
	ConfirmDelivery(ctx context.Context, orderID string, userID string) (domain.Order, error)
	// Cancel aborts a not-yet-shipped order and releases its reservation.
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	// Update edits shipping details while the order is still PENDING or PROCESSING.
	Update(ctx context.Context, cmd UpdateOrderCommand) (domain.Order, error)
	// Delete removes an order outright (admin only).
	Delete(ctx context.Context, orderID string) error
}

// CreateOrderCommand captures everything needed to place an order.
type CreateOrderCommand struct {
	UserID        string
	PaymentMethod domain.PaymentMethod
	Shipping      domain.ShippingInfo
	Lines         []OrderLine
	CouponCode    string
}

// OrderLine is one requested product with its unit price snapshot.
type OrderLine struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// GetOrderQuery fetches one order, optionally enforcing ownership.
type GetOrderQuery struct {
	OrderID string
	// UserID, when set, restricts the lookup to orders owned by that user.
	UserID string
}

// ListOrdersQuery filters the order listing.
type ListOrdersQuery struct {
	UserID     string
	Status     []domain.OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination domain.Pagination
}

// CancelOrderCommand cancels an order on behalf of its owner or an admin.
type CancelOrderCommand struct {
	OrderID string
	// UserID, when set, enforces that the caller owns the order.
	UserID string
	Reason string
}

// UpdateOrderCommand edits the mutable shipping fields of an order.
type UpdateOrderCommand struct {
	OrderID  string
	UserID   string
	Shipping domain.ShippingInfo
}

// OrderEvent describes an order lifecycle change published for consumers.
type OrderEvent struct {
	Type       string
	OrderID    string
	UserID     string
	Status     domain.OrderStatus
	OccurredAt time.Time
	Metadata   map[string]any
}

// OrderEventPublisher emits order events to the event bus.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// CouponService validates and applies discount codes to orders.
type CouponService interface {
	// ApplyToOrder validates the code, computes the discount against the
	// order subtotal, persists the new totals, and bumps the usage counter.
	ApplyToOrder(ctx context.Context, cmd ApplyCouponCommand) (domain.Order, error)

	Create(ctx context.Context, cmd CreateCouponCommand) (domain.Coupon, error)
	GetByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponFilter) (domain.CursorPage[domain.Coupon], error)
	Delete(ctx context.Context, couponID string) error
}

// ApplyCouponCommand applies a code to an order.
type ApplyCouponCommand struct {
	OrderID string
	Code    string
}

// CreateCouponCommand describes a new coupon definition.
type CreateCouponCommand struct {
	Code       string
	Type       domain.CouponType
	Value      int64
	UsageLimit int
	StartDate  *time.Time
	EndDate    *time.Time
	Active     bool
}

// CouponFilter controls coupon listings.
type CouponFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

// ReturnService drives the post-delivery return workflow.
type ReturnService interface {
	Create(ctx context.Context, cmd CreateReturnCommand) (domain.ReturnRequest, error)
	Get(ctx context.Context, query GetReturnQuery) (domain.ReturnRequest, error)
	List(ctx context.Context, query ListReturnsQuery) (domain.CursorPage[domain.ReturnRequest], error)
	// UpdateStatus advances the workflow; completing a return restores stock
	// and flips the order to RETURNED.
	UpdateStatus(ctx context.Context, cmd UpdateReturnStatusCommand) (domain.ReturnRequest, error)
}

// CreateReturnCommand opens a return for a delivered order.
type CreateReturnCommand struct {
	OrderID   string
	UserID    string
	Reason    string
	ImageURLs []string
}

// GetReturnQuery fetches one return request, optionally enforcing ownership.
type GetReturnQuery struct {
	RequestID string
	UserID    string
}

// ListReturnsQuery filters return request listings.
type ListReturnsQuery struct {
	UserID     string
	Status     []domain.ReturnStatus
	Pagination domain.Pagination
}

// UpdateReturnStatusCommand advances a return request (admin operation).
type UpdateReturnStatusCommand struct {
	RequestID string
	Status    domain.ReturnStatus
	AdminNote string
}
