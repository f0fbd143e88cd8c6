package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	eventOrderCreated   = "order.created"
	eventOrderConfirmed = "order.confirmed"
	eventOrderShipped   = "order.shipped"
	eventOrderDelivered = "order.delivered"
	eventOrderCancelled = "order.cancelled"
	eventOrderReturned  = "order.returned"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates the lifecycle does not allow the move.
	ErrOrderInvalidTransition = errors.New("order: invalid transition")
	// ErrOrderConflict indicates a concurrent modification clashed.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store failed.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

// orderTransitions enumerates the allowed lifecycle moves.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

func canTransitionOrder(from, to domain.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Coupons     repositories.CouponRepository
	Inventory   InventoryService
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	coupons   repositories.CouponRepository
	inventory InventoryService
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
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

	return &orderService{
		orders:    deps.Orders,
		coupons:   deps.Coupons,
		inventory: deps.Inventory,
		events:    deps.Events,
		clock:     clock,
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if !isValidPaymentMethod(cmd.PaymentMethod) {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if err := validateShipping(cmd.Shipping); err != nil {
		return domain.Order{}, err
	}

	items, err := normaliseOrderLines(cmd.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.clock().UTC()
	var subtotal int64
	for _, item := range items {
		subtotal += item.TotalPrice
	}

	var (
		couponCode string
		discount   int64
	)
	if code := strings.TrimSpace(cmd.CouponCode); code != "" {
		coupon, err := s.lookupCoupon(ctx, code)
		if err != nil {
			return domain.Order{}, err
		}
		if err := validateCouponUsable(coupon, now); err != nil {
			return domain.Order{}, err
		}
		couponCode = coupon.Code
		discount = computeDiscount(coupon, subtotal)
	}

	order := domain.Order{
		ID:             s.nextOrderID(),
		UserID:         userID,
		Status:         domain.OrderStatusPending,
		PaymentMethod:  cmd.PaymentMethod,
		PaymentStatus:  domain.PaymentStatusPending,
		Shipping:       cmd.Shipping,
		Subtotal:       subtotal,
		CouponCode:     couponCode,
		DiscountAmount: discount,
		TotalAmount:    maxInt64(0, subtotal-discount),
		Items:          items,
		OrderedAt:      now,
		UpdatedAt:      now,
	}

	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if _, err := s.inventory.Reserve(ctx, StockCommand{OrderID: order.ID, Lines: lines, Reason: "order placed"}); err != nil {
		return domain.Order{}, err
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		// Compensate: persisting failed, hand the reservation back.
		s.releaseQuietly(ctx, order.ID, lines, "order insert failed")
		return domain.Order{}, s.mapRepositoryError(err)
	}

	if couponCode != "" {
		if _, err := s.coupons.IncrementUsage(ctx, couponCode, now); err != nil {
			s.logger(ctx, "order.coupon_usage_increment_failed", map[string]any{
				"order_id": order.ID,
				"coupon":   couponCode,
				"error":    err.Error(),
			})
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       eventOrderCreated,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		OccurredAt: now,
		Metadata: map[string]any{
			"payment_method": string(order.PaymentMethod),
			"total_amount":   order.TotalAmount,
		},
	})

	return order, nil
}

func (s *orderService) Get(ctx context.Context, query GetOrderQuery) (domain.Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if query.UserID != "" && order.UserID != query.UserID {
		return domain.Order{}, fmt.Errorf("%w: order %s does not belong to caller", ErrOrderForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	filter := repositories.OrderListFilter{
		UserID:     strings.TrimSpace(query.UserID),
		Status:     query.Status,
		Pagination: query.Pagination,
	}
	filter.DateRange = domain.RangeQuery[time.Time]{From: query.From, To: query.To}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Confirm(ctx context.Context, orderID string) (domain.Order, error) {
	return s.transition(ctx, orderID, "", domain.OrderStatusProcessing, eventOrderConfirmed, nil)
}

func (s *orderService) Ship(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.transition(ctx, orderID, "", domain.OrderStatusShipped, eventOrderShipped, func(ctx context.Context, order *domain.Order, now time.Time) error {
		lines := stockLinesFromItems(order.Items)
		if _, err := s.inventory.Consume(ctx, StockCommand{OrderID: order.ID, Lines: lines, Reason: "order shipped"}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) ConfirmDelivery(ctx context.Context, orderID string, userID string) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, orderID, userID, domain.OrderStatusDelivered, eventOrderDelivered, func(_ context.Context, order *domain.Order, _ time.Time) error {
		// Cash on delivery settles when the customer receives the goods.
		if order.PaymentMethod == domain.PaymentMethodCOD && order.PaymentStatus == domain.PaymentStatusPending {
			order.PaymentStatus = domain.PaymentStatusPaid
		}
		return nil
	})
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	order, err := s.transition(ctx, cmd.OrderID, strings.TrimSpace(cmd.UserID), domain.OrderStatusCancelled, eventOrderCancelled, func(ctx context.Context, order *domain.Order, _ time.Time) error {
		lines := stockLinesFromItems(order.Items)
		if _, err := s.inventory.Release(ctx, StockCommand{OrderID: order.ID, Lines: lines, Reason: "order cancelled"}); err != nil {
			return err
		}
		if order.PaymentStatus == domain.PaymentStatusPending {
			order.PaymentStatus = domain.PaymentStatusCancelled
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) Update(ctx context.Context, cmd UpdateOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := validateShipping(cmd.Shipping); err != nil {
		return domain.Order{}, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if cmd.UserID != "" && order.UserID != cmd.UserID {
		return domain.Order{}, fmt.Errorf("%w: order %s does not belong to caller", ErrOrderForbidden, orderID)
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
		return domain.Order{}, fmt.Errorf("%w: cannot edit order in status %s", ErrOrderInvalidTransition, order.Status)
	}

	order.Shipping = cmd.Shipping
	order.UpdatedAt = s.clock().UTC()
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	// Orders still holding a reservation give it back before removal.
	if order.Status == domain.OrderStatusPending || order.Status == domain.OrderStatusProcessing {
		s.releaseQuietly(ctx, order.ID, stockLinesFromItems(order.Items), "order deleted")
	}

	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// transition loads the order, checks ownership and the lifecycle table, runs
// the optional hook, stamps timestamps, and persists the result.
func (s *orderService) transition(ctx context.Context, orderID, userID string, target domain.OrderStatus, eventType string, hook func(context.Context, *domain.Order, time.Time) error) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if userID != "" && order.UserID != userID {
		return domain.Order{}, fmt.Errorf("%w: order %s does not belong to caller", ErrOrderForbidden, orderID)
	}
	if !canTransitionOrder(order.Status, target) {
		return domain.Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, target)
	}

	now := s.clock().UTC()
	if hook != nil {
		if err := hook(ctx, &order, now); err != nil {
			return domain.Order{}, err
		}
	}

	order.Status = target
	order.UpdatedAt = now
	stampOrderTimestamps(&order, target, now)

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		OccurredAt: now,
	})
	return order, nil
}

func stampOrderTimestamps(order *domain.Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusProcessing:
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &now
		}
	case domain.OrderStatusShipped:
		if order.ShippedAt == nil {
			order.ShippedAt = &now
		}
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func (s *orderService) lookupCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	if s.coupons == nil {
		return domain.Coupon{}, fmt.Errorf("%w: coupon codes are not supported", ErrOrderInvalidInput)
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Coupon{}, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		return domain.Coupon{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return coupon, nil
}

func (s *orderService) releaseQuietly(ctx context.Context, orderID string, lines []StockLine, reason string) {
	if _, err := s.inventory.Release(ctx, StockCommand{OrderID: orderID, Lines: lines, Reason: reason}); err != nil {
		s.logger(ctx, "order.stock_release_failed", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
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

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func isValidPaymentMethod(method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCOD, domain.PaymentMethodVNPay, domain.PaymentMethodMomo, domain.PaymentMethodZaloPay:
		return true
	}
	return false
}

func validateShipping(info domain.ShippingInfo) error {
	if strings.TrimSpace(info.FullName) == "" {
		return fmt.Errorf("%w: shipping full name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(info.Phone) == "" {
		return fmt.Errorf("%w: shipping phone is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(info.Address) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	return nil
}

// normaliseOrderLines trims, validates, and aggregates lines by product id.
func normaliseOrderLines(lines []OrderLine) ([]domain.OrderItem, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}

	type lineAcc struct {
		quantity  int
		unitPrice int64
	}
	aggregated := make(map[string]*lineAcc, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %s", ErrOrderInvalidInput, productID)
		}
		if line.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: unit price must not be negative for product %s", ErrOrderInvalidInput, productID)
		}
		if acc, ok := aggregated[productID]; ok {
			if acc.unitPrice != line.UnitPrice {
				return nil, fmt.Errorf("%w: conflicting unit prices for product %s", ErrOrderInvalidInput, productID)
			}
			acc.quantity += line.Quantity
			continue
		}
		aggregated[productID] = &lineAcc{quantity: line.Quantity, unitPrice: line.UnitPrice}
	}

	items := make([]domain.OrderItem, 0, len(aggregated))
	for id, acc := range aggregated {
		items = append(items, domain.OrderItem{
			ProductID:  id,
			Quantity:   acc.quantity,
			UnitPrice:  acc.unitPrice,
			TotalPrice: acc.unitPrice * int64(acc.quantity),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func stockLinesFromItems(items []domain.OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
