package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	pfirestore "github.com/choocapi/ecommerce-backend/internal/platform/firestore"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

const ordersCollection = "orders"

// gatewayRefField maps a payment method to the order document field holding
// the provider correlation id.
func gatewayRefField(method domain.PaymentMethod) (string, error) {
	switch method {
	case domain.PaymentMethodVNPay:
		return "vnpayTxnRef", nil
	case domain.PaymentMethodMomo:
		return "momoOrderId", nil
	case domain.PaymentMethodZaloPay:
		return "zalopayTransId", nil
	default:
		return "", fmt.Errorf("orders: payment method %q has no gateway ref", method)
	}
}

type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("orders: id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("orders: id is required")
	}
	if _, err := r.orders.Set(ctx, order.ID, newOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) FindByGatewayRef(ctx context.Context, method domain.PaymentMethod, ref string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	field, err := gatewayRefField(method)
	if err != nil {
		return domain.Order{}, err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Order{}, errors.New("orders: gateway ref is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", ref).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByGatewayRef", status.Error(codes.NotFound, fmt.Sprintf("order with %s %q not found", field, ref)))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *OrderRepository) SetGatewayRef(ctx context.Context, orderID string, method domain.PaymentMethod, ref string) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	field, err := gatewayRefField(method)
	if err != nil {
		return err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return errors.New("orders: gateway ref is required")
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		var current string
		switch method {
		case domain.PaymentMethodVNPay:
			current = doc.VNPayTxnRef
		case domain.PaymentMethodMomo:
			current = doc.MomoOrderID
		case domain.PaymentMethodZaloPay:
			current = doc.ZaloPayTransID
		}
		if current != "" && current != ref {
			return status.Error(codes.AlreadyExists, fmt.Sprintf("order %s already has a %s ref", orderID, method))
		}
		return tx.Update(docRef, []firestore.Update{{Path: field, Value: ref}})
	})
	if err != nil {
		return pfirestore.WrapError("orders.setGatewayRef", err)
	}
	return nil
}

// ApplyPaymentOutcome performs the callback read-check-write in a single
// transaction. An order already marked PAID is left untouched so providers
// retrying their callback observe a stable success.
func (r *OrderRepository) ApplyPaymentOutcome(ctx context.Context, req repositories.PaymentOutcomeRequest) (repositories.PaymentOutcomeResult, error) {
	if r == nil || r.provider == nil {
		return repositories.PaymentOutcomeResult{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return repositories.PaymentOutcomeResult{}, errors.New("orders: id is required")
	}

	now := req.Now.UTC()
	var result repositories.PaymentOutcomeResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.orders.DocumentRef(ctx, req.OrderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", req.OrderID, err)
		}

		if domain.PaymentStatus(doc.PaymentStatus) == domain.PaymentStatusPaid {
			result = repositories.PaymentOutcomeResult{Order: doc.toDomain(snap.Ref.ID), AlreadyPaid: true}
			return nil
		}

		doc.PaymentStatus = string(req.PaymentStatus)
		if req.OrderStatus != nil {
			doc.Status = string(*req.OrderStatus)
			if *req.OrderStatus == domain.OrderStatusProcessing && doc.ConfirmedAt == nil {
				doc.ConfirmedAt = &now
			}
		}
		doc.UpdatedAt = now
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		result = repositories.PaymentOutcomeResult{Order: doc.toDomain(snap.Ref.ID)}
		return nil
	})
	if err != nil {
		return repositories.PaymentOutcomeResult{}, pfirestore.WrapError("orders.applyPaymentOutcome", err)
	}
	return result, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("orderedAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("orderedAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("orderedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tok, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(tok.OrderedAt, tok.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, OrderedAt: last.OrderedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	UserID         string              `firestore:"userId"`
	Status         string              `firestore:"status"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	PaymentStatus  string              `firestore:"paymentStatus"`
	Shipping       shippingDocument    `firestore:"shipping"`
	Subtotal       int64               `firestore:"subtotal"`
	CouponCode     string              `firestore:"couponCode,omitempty"`
	DiscountAmount int64               `firestore:"discountAmount"`
	TotalAmount    int64               `firestore:"totalAmount"`
	VNPayTxnRef    string              `firestore:"vnpayTxnRef,omitempty"`
	MomoOrderID    string              `firestore:"momoOrderId,omitempty"`
	ZaloPayTransID string              `firestore:"zalopayTransId,omitempty"`
	Items          []orderItemDocument `firestore:"items"`
	OrderedAt      time.Time           `firestore:"orderedAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	ConfirmedAt    *time.Time          `firestore:"confirmedAt,omitempty"`
	ShippedAt      *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID  string `firestore:"productId"`
	Quantity   int    `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	TotalPrice int64  `firestore:"totalPrice"`
}

type shippingDocument struct {
	FullName string `firestore:"fullName"`
	Phone    string `firestore:"phone"`
	Address  string `firestore:"address"`
	Ward     string `firestore:"ward,omitempty"`
	District string `firestore:"district,omitempty"`
	City     string `firestore:"city,omitempty"`
	Note     string `firestore:"note,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:  strings.TrimSpace(item.ProductID),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		}
	}
	return orderDocument{
		UserID:         strings.TrimSpace(order.UserID),
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		Shipping:       shippingDocument(order.Shipping),
		Subtotal:       order.Subtotal,
		CouponCode:     strings.TrimSpace(order.CouponCode),
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		VNPayTxnRef:    strings.TrimSpace(order.GatewayRefs.VNPayTxnRef),
		MomoOrderID:    strings.TrimSpace(order.GatewayRefs.MomoOrderID),
		ZaloPayTransID: strings.TrimSpace(order.GatewayRefs.ZaloPayTransID),
		Items:          items,
		OrderedAt:      order.OrderedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
		ConfirmedAt:    order.ConfirmedAt,
		ShippedAt:      order.ShippedAt,
		DeliveredAt:    order.DeliveredAt,
		CancelledAt:    order.CancelledAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		}
	}
	return domain.Order{
		ID:             id,
		UserID:         d.UserID,
		Status:         domain.OrderStatus(d.Status),
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:  domain.PaymentStatus(d.PaymentStatus),
		Shipping:       domain.ShippingInfo(d.Shipping),
		Subtotal:       d.Subtotal,
		CouponCode:     d.CouponCode,
		DiscountAmount: d.DiscountAmount,
		TotalAmount:    d.TotalAmount,
		GatewayRefs: domain.GatewayRefs{
			VNPayTxnRef:    d.VNPayTxnRef,
			MomoOrderID:    d.MomoOrderID,
			ZaloPayTransID: d.ZaloPayTransID,
		},
		Items:       items,
		OrderedAt:   d.OrderedAt,
		UpdatedAt:   d.UpdatedAt,
		ConfirmedAt: d.ConfirmedAt,
		ShippedAt:   d.ShippedAt,
		DeliveredAt: d.DeliveredAt,
		CancelledAt: d.CancelledAt,
	}
}

type orderPageToken struct {
	ID        string
	OrderedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}
