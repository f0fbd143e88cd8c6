package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

const (
	eventStockReserve = "stock.reserve"
	eventStockRelease = "stock.release"
	eventStockConsume = "stock.consume"
	eventStockRestore = "stock.restore"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryStockNotFound indicates no ledger row exists for the product.
	ErrInventoryStockNotFound = errors.New("inventory: stock not found")
	// ErrInventoryUnavailable indicates the ledger backend failed.
	ErrInventoryUnavailable = errors.New("inventory: repository unavailable")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Stock  repositories.StockRepository
	Events StockEventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.StockRepository
	events StockEventPublisher
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Stock == nil {
		return nil, errors.New("inventory service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:   deps.Stock,
		events: deps.Events,
		clock:  clock,
		logger: logger,
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, cmd StockCommand) (StockAdjustment, error) {
	return s.adjust(ctx, repositories.StockOpReserve, eventStockReserve, cmd)
}

func (s *inventoryService) Release(ctx context.Context, cmd StockCommand) (StockAdjustment, error) {
	return s.adjust(ctx, repositories.StockOpRelease, eventStockRelease, cmd)
}

func (s *inventoryService) Consume(ctx context.Context, cmd StockCommand) (StockAdjustment, error) {
	return s.adjust(ctx, repositories.StockOpConsume, eventStockConsume, cmd)
}

func (s *inventoryService) Restore(ctx context.Context, cmd StockCommand) (StockAdjustment, error) {
	return s.adjust(ctx, repositories.StockOpRestore, eventStockRestore, cmd)
}

func (s *inventoryService) adjust(ctx context.Context, op repositories.StockOperation, eventType string, cmd StockCommand) (StockAdjustment, error) {
	orderRef := strings.TrimSpace(cmd.OrderID)
	if orderRef == "" {
		return StockAdjustment{}, fmt.Errorf("%w: order id is required", ErrInventoryInvalidInput)
	}

	lines, err := normaliseStockLines(cmd.Lines)
	if err != nil {
		return StockAdjustment{}, err
	}

	now := s.clock().UTC()
	result, err := s.repo.Adjust(ctx, repositories.StockAdjustRequest{
		Op:       op,
		OrderRef: orderRef,
		Lines:    lines,
		Now:      now,
	})
	if err != nil {
		return StockAdjustment{}, s.mapRepositoryError(err)
	}

	adjustment := StockAdjustment{Stocks: make(map[string]StockSnapshot, len(result.Stocks))}
	for id, stock := range result.Stocks {
		adjustment.Stocks[id] = snapshotFromStock(stock)
	}

	s.emitStockEvents(ctx, eventType, orderRef, lines, adjustment, now, cmd.Reason)
	return adjustment, nil
}

func (s *inventoryService) GetStock(ctx context.Context, productID string) (StockSnapshot, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockSnapshot{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}

	stock, err := s.repo.Get(ctx, productID)
	if err != nil {
		return StockSnapshot{}, s.mapRepositoryError(err)
	}
	return snapshotFromStock(stock), nil
}

func (s *inventoryService) SetStockLevels(ctx context.Context, cmd SetStockLevelsCommand) (StockSnapshot, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockSnapshot{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.OnHand < 0 {
		return StockSnapshot{}, fmt.Errorf("%w: on hand must not be negative", ErrInventoryInvalidInput)
	}

	stock, err := s.repo.SetLevels(ctx, productID, cmd.OnHand, s.clock().UTC())
	if err != nil {
		return StockSnapshot{}, s.mapRepositoryError(err)
	}
	return snapshotFromStock(stock), nil
}

func (s *inventoryService) ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[StockSnapshot], error) {
	if filter.Threshold < 0 {
		return domain.CursorPage[StockSnapshot]{}, fmt.Errorf("%w: threshold must not be negative", ErrInventoryInvalidInput)
	}

	page, err := s.repo.ListLowStock(ctx, repositories.StockLowStockQuery{
		Threshold: filter.Threshold,
		PageSize:  filter.Pagination.PageSize,
		PageToken: filter.Pagination.PageToken,
	})
	if err != nil {
		return domain.CursorPage[StockSnapshot]{}, s.mapRepositoryError(err)
	}

	out := domain.CursorPage[StockSnapshot]{
		Items:         make([]StockSnapshot, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, stock := range page.Items {
		out.Items = append(out.Items, snapshotFromStock(stock))
	}
	return out, nil
}

func (s *inventoryService) emitStockEvents(ctx context.Context, eventType, orderRef string, lines []repositories.StockLine, adjustment StockAdjustment, now time.Time, reason string) {
	if s.events == nil {
		return
	}

	for _, line := range lines {
		snapshot := adjustment.Stocks[line.ProductID]
		event := StockEvent{
			Type:       eventType,
			OrderRef:   orderRef,
			ProductID:  line.ProductID,
			Delta:      line.Quantity,
			OnHand:     snapshot.OnHand,
			Reserved:   snapshot.Reserved,
			OccurredAt: now,
		}
		if reason != "" {
			event.Metadata = map[string]any{"reason": reason}
		}
		if err := s.events.PublishStockEvent(ctx, event); err != nil {
			s.logger(ctx, "inventory.event_publish_failed", map[string]any{
				"event_type": eventType,
				"order_ref":  orderRef,
				"product_id": line.ProductID,
				"error":      err.Error(),
			})
		}
	}
}

func (s *inventoryService) mapRepositoryError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, stockErr.Message)
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryStockNotFound, stockErr.Message)
		case repositories.StockErrorInvalidOperation:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, stockErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
}

// normaliseStockLines trims, validates, and aggregates lines by product id.
func normaliseStockLines(lines []StockLine) ([]repositories.StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	aggregated := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %s", ErrInventoryInvalidInput, productID)
		}
		aggregated[productID] += line.Quantity
	}

	out := make([]repositories.StockLine, 0, len(aggregated))
	for id, qty := range aggregated {
		out = append(out, repositories.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func snapshotFromStock(stock domain.ProductStock) StockSnapshot {
	return StockSnapshot{
		ProductID: stock.ProductID,
		OnHand:    stock.OnHand,
		Reserved:  stock.Reserved,
		Available: stock.Available,
		UpdatedAt: stock.UpdatedAt,
	}
}
