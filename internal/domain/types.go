package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage is a generic page of results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been placed and awaits payment or confirmation.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing indicates the order is confirmed and being prepared.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the customer confirmed receipt.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusReturned indicates an approved return completed and stock was restored.
	OrderStatusReturned OrderStatus = "RETURNED"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus tracks the settlement state of an order independently of fulfilment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no settlement outcome has been recorded yet.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusPaid indicates a gateway confirmed the payment.
	PaymentStatusPaid PaymentStatus = "PAID"
	// PaymentStatusFailed indicates the gateway reported a failed attempt.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusCancelled indicates payment was voided alongside order cancellation.
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PaymentMethod identifies how the customer intends to settle the order.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodVNPay settles through the VNPay hosted payment page.
	PaymentMethodVNPay PaymentMethod = "VNPAY"
	// PaymentMethodMomo settles through the Momo wallet.
	PaymentMethodMomo PaymentMethod = "MOMO"
	// PaymentMethodZaloPay settles through the ZaloPay wallet.
	PaymentMethodZaloPay PaymentMethod = "ZALOPAY"
)

// Order captures order headers returned to handlers/services.
// All monetary amounts are VND with no fractional unit.
type Order struct {
	ID             string
	UserID         string
	Status         OrderStatus
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	Shipping       ShippingInfo
	Subtotal       int64
	CouponCode     string
	DiscountAmount int64
	TotalAmount    int64
	GatewayRefs    GatewayRefs
	Items          []OrderItem
	OrderedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedAt    *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
}

// OrderItem is an immutable snapshot of a purchased line captured at creation.
type OrderItem struct {
	ProductID  string
	Quantity   int
	UnitPrice  int64
	TotalPrice int64
}

// ShippingInfo stores the recipient snapshot used by fulfilment.
type ShippingInfo struct {
	FullName string
	Phone    string
	Address  string
	Ward     string
	District string
	City     string
	Note     string
}

// GatewayRefs stores the provider correlation identifiers issued when a
// hosted-payment request is created. At most one is set per order, exactly
// once, and it is the key callbacks are reconciled against.
type GatewayRefs struct {
	VNPayTxnRef    string
	MomoOrderID    string
	ZaloPayTransID string
}

// ProductStock is the inventory ledger entry for a single product.
// Invariant: 0 <= Reserved <= OnHand.
type ProductStock struct {
	ProductID string
	OnHand    int
	Reserved  int
	Available int
	UpdatedAt time.Time
}

// CouponType distinguishes how a coupon's value is interpreted.
type CouponType string

const (
	// CouponTypePercentage discounts a percentage of the order subtotal.
	CouponTypePercentage CouponType = "PERCENTAGE"
	// CouponTypeFixed discounts a fixed amount capped at the subtotal.
	CouponTypeFixed CouponType = "FIXED"
)

// Coupon describes a redeemable discount code.
type Coupon struct {
	ID         string
	Code       string
	Type       CouponType
	Value      int64
	UsageLimit int
	UsedCount  int
	StartDate  *time.Time
	EndDate    *time.Time
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReturnStatus enumerates the return-request workflow states.
type ReturnStatus string

const (
	// ReturnStatusPending indicates the request awaits an admin decision.
	ReturnStatusPending ReturnStatus = "PENDING"
	// ReturnStatusApproved indicates the request was accepted and awaits the goods.
	ReturnStatusApproved ReturnStatus = "APPROVED"
	// ReturnStatusRejected is a terminal refusal.
	ReturnStatusRejected ReturnStatus = "REJECTED"
	// ReturnStatusCompleted indicates goods came back and stock was restored.
	ReturnStatusCompleted ReturnStatus = "COMPLETED"
)

// ReturnRequest tracks a customer's post-delivery return of an order.
type ReturnRequest struct {
	ID          string
	OrderID     string
	UserID      string
	Reason      string
	ImageURLs   []string
	AdminNote   string
	Status      ReturnStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ApprovedAt  *time.Time
	RejectedAt  *time.Time
	CompletedAt *time.Time
}
