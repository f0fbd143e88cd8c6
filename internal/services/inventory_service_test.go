package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

type stubStockRepo struct {
	adjustFn    func(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error)
	getFn       func(ctx context.Context, productID string) (domain.ProductStock, error)
	setLevelsFn func(ctx context.Context, productID string, onHand int, now time.Time) (domain.ProductStock, error)
	listFn      func(ctx context.Context, query repositories.StockLowStockQuery) (domain.CursorPage[domain.ProductStock], error)
}

func (s *stubStockRepo) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, req)
	}
	return repositories.StockAdjustResult{}, nil
}

func (s *stubStockRepo) Get(ctx context.Context, productID string) (domain.ProductStock, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return domain.ProductStock{}, errors.New("not implemented")
}

func (s *stubStockRepo) SetLevels(ctx context.Context, productID string, onHand int, now time.Time) (domain.ProductStock, error) {
	if s.setLevelsFn != nil {
		return s.setLevelsFn(ctx, productID, onHand, now)
	}
	return domain.ProductStock{}, errors.New("not implemented")
}

func (s *stubStockRepo) ListLowStock(ctx context.Context, query repositories.StockLowStockQuery) (domain.CursorPage[domain.ProductStock], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[domain.ProductStock]{}, nil
}

type captureStockEvents struct {
	events []StockEvent
}

func (c *captureStockEvents) PublishStockEvent(_ context.Context, event StockEvent) error {
	c.events = append(c.events, event)
	return nil
}

func TestInventoryServiceReserveAggregatesLinesAndEmitsEvents(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubStockRepo{}
	events := &captureStockEvents{}
	repo.adjustFn = func(_ context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
		if req.Op != repositories.StockOpReserve {
			t.Fatalf("expected reserve op, got %s", req.Op)
		}
		if req.OrderRef != "ord-1" {
			t.Fatalf("unexpected order ref %s", req.OrderRef)
		}
		if len(req.Lines) != 1 {
			t.Fatalf("expected aggregated single line, got %d", len(req.Lines))
		}
		if req.Lines[0].Quantity != 3 {
			t.Fatalf("expected quantity 3, got %d", req.Lines[0].Quantity)
		}
		return repositories.StockAdjustResult{
			Stocks: map[string]domain.ProductStock{
				"prod-1": {ProductID: "prod-1", OnHand: 10, Reserved: 3, Available: 7, UpdatedAt: req.Now},
			},
		}, nil
	}

	svc, err := NewInventoryService(InventoryServiceDeps{
		Stock:  repo,
		Events: events,
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	result, err := svc.Reserve(context.Background(), StockCommand{
		OrderID: "ord-1",
		Lines: []StockLine{
			{ProductID: "prod-1", Quantity: 1},
			{ProductID: " prod-1 ", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	stock, ok := result.Stocks["prod-1"]
	if !ok {
		t.Fatalf("expected stock for prod-1")
	}
	if stock.Available != 7 {
		t.Fatalf("expected available 7, got %d", stock.Available)
	}

	if len(events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.Type != eventStockReserve {
		t.Fatalf("unexpected event type %s", event.Type)
	}
	if event.Delta != 3 {
		t.Fatalf("expected delta 3, got %d", event.Delta)
	}
	if !event.OccurredAt.Equal(now) {
		t.Fatalf("unexpected event time %v", event.OccurredAt)
	}
}

func TestInventoryServiceReserveMapsInsufficientStock(t *testing.T) {
	repo := &stubStockRepo{
		adjustFn: func(_ context.Context, _ repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
			return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorInsufficientStock, "product prod-2 short by 4", nil)
		},
	}

	svc, err := NewInventoryService(InventoryServiceDeps{Stock: repo})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	_, err = svc.Reserve(context.Background(), StockCommand{
		OrderID: "ord-2",
		Lines:   []StockLine{{ProductID: "prod-2", Quantity: 5}},
	})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected ErrInventoryInsufficientStock, got %v", err)
	}
}

func TestInventoryServiceAdjustValidatesInput(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Stock: &stubStockRepo{}})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	cases := []struct {
		name string
		cmd  StockCommand
	}{
		{name: "missing order id", cmd: StockCommand{Lines: []StockLine{{ProductID: "p", Quantity: 1}}}},
		{name: "no lines", cmd: StockCommand{OrderID: "ord-1"}},
		{name: "zero quantity", cmd: StockCommand{OrderID: "ord-1", Lines: []StockLine{{ProductID: "p", Quantity: 0}}}},
		{name: "blank product", cmd: StockCommand{OrderID: "ord-1", Lines: []StockLine{{ProductID: "  ", Quantity: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Release(context.Background(), tc.cmd); !errors.Is(err, ErrInventoryInvalidInput) {
				t.Fatalf("expected ErrInventoryInvalidInput, got %v", err)
			}
		})
	}
}

func TestInventoryServiceGetStockMapsNotFound(t *testing.T) {
	repo := &stubStockRepo{
		getFn: func(_ context.Context, productID string) (domain.ProductStock, error) {
			return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorNotFound, "no stock row for "+productID, nil)
		},
	}

	svc, err := NewInventoryService(InventoryServiceDeps{Stock: repo})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	if _, err := svc.GetStock(context.Background(), "missing"); !errors.Is(err, ErrInventoryStockNotFound) {
		t.Fatalf("expected ErrInventoryStockNotFound, got %v", err)
	}
}

func TestInventoryServiceSetStockLevelsRejectsNegative(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Stock: &stubStockRepo{}})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	if _, err := svc.SetStockLevels(context.Background(), SetStockLevelsCommand{ProductID: "prod-1", OnHand: -1}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected ErrInventoryInvalidInput, got %v", err)
	}
}

func TestInventoryServiceListLowStockPassesThreshold(t *testing.T) {
	repo := &stubStockRepo{
		listFn: func(_ context.Context, query repositories.StockLowStockQuery) (domain.CursorPage[domain.ProductStock], error) {
			if query.Threshold != 5 {
				t.Fatalf("expected threshold 5, got %d", query.Threshold)
			}
			if query.PageSize != 20 || query.PageToken != "cursor-3" {
				t.Fatalf("expected page size 20 token cursor-3, got %d %q", query.PageSize, query.PageToken)
			}
			return domain.CursorPage[domain.ProductStock]{
				Items:         []domain.ProductStock{{ProductID: "prod-9", OnHand: 2, Available: 2}},
				NextPageToken: "next",
			}, nil
		},
	}

	svc, err := NewInventoryService(InventoryServiceDeps{Stock: repo})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	page, err := svc.ListLowStock(context.Background(), LowStockFilter{
		Threshold:  5,
		Pagination: domain.Pagination{PageSize: 20, PageToken: "cursor-3"},
	})
	if err != nil {
		t.Fatalf("ListLowStock returned error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ProductID != "prod-9" {
		t.Fatalf("unexpected page items %+v", page.Items)
	}
	if page.NextPageToken != "next" {
		t.Fatalf("unexpected next token %s", page.NextPageToken)
	}
}
