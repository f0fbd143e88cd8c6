package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

const returnIDPrefix = "rr_"

var (
	// ErrReturnInvalidInput signals the caller provided invalid arguments.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request does not exist.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnForbidden indicates the caller does not own the request.
	ErrReturnForbidden = errors.New("return: forbidden")
	// ErrReturnInvalidTransition indicates the workflow does not allow the move.
	ErrReturnInvalidTransition = errors.New("return: invalid transition")
	// ErrReturnAlreadyRequested indicates the order already has a return request.
	ErrReturnAlreadyRequested = errors.New("return: already requested for order")
	// ErrReturnOrderNotEligible indicates the order cannot be returned.
	ErrReturnOrderNotEligible = errors.New("return: order not eligible")
	// ErrReturnConflict indicates a concurrent modification clashed.
	ErrReturnConflict = errors.New("return: conflict")
	// ErrReturnUnavailable indicates the return store failed.
	ErrReturnUnavailable = errors.New("return: repository unavailable")
)

// returnTransitions enumerates the allowed workflow moves.
var returnTransitions = map[domain.ReturnStatus][]domain.ReturnStatus{
	domain.ReturnStatusPending:  {domain.ReturnStatusApproved, domain.ReturnStatusRejected},
	domain.ReturnStatusApproved: {domain.ReturnStatusCompleted},
}

func canTransitionReturn(from, to domain.ReturnStatus) bool {
	for _, allowed := range returnTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ReturnServiceDeps bundles the collaborators required to construct a return service.
type ReturnServiceDeps struct {
	Returns     repositories.ReturnRepository
	Orders      repositories.OrderRepository
	Inventory   InventoryService
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns   repositories.ReturnRepository
	orders    repositories.OrderRepository
	inventory InventoryService
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewReturnService wires dependencies into a concrete ReturnService implementation.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("return service: inventory service is required")
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

	return &returnService{
		returns:   deps.Returns,
		orders:    deps.Orders,
		inventory: deps.Inventory,
		events:    deps.Events,
		clock:     clock,
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *returnService) Create(ctx context.Context, cmd CreateReturnCommand) (domain.ReturnRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	reason := strings.TrimSpace(cmd.Reason)
	if orderID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	if userID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: user id is required", ErrReturnInvalidInput)
	}
	if reason == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.ReturnRequest{}, s.mapOrderLookupError(err)
	}
	if order.UserID != userID {
		return domain.ReturnRequest{}, fmt.Errorf("%w: order %s does not belong to caller", ErrReturnForbidden, orderID)
	}
	if order.Status != domain.OrderStatusDelivered {
		return domain.ReturnRequest{}, fmt.Errorf("%w: order %s is %s", ErrReturnOrderNotEligible, orderID, order.Status)
	}

	if existing, err := s.returns.FindByOrderID(ctx, orderID); err == nil {
		return domain.ReturnRequest{}, fmt.Errorf("%w: request %s", ErrReturnAlreadyRequested, existing.ID)
	} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrReturnNotFound) {
		return domain.ReturnRequest{}, mapped
	}

	now := s.clock().UTC()
	request := domain.ReturnRequest{
		ID:        returnIDPrefix + s.newID(),
		OrderID:   orderID,
		UserID:    userID,
		Reason:    reason,
		ImageURLs: cmd.ImageURLs,
		Status:    domain.ReturnStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.returns.Insert(ctx, request); err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}
	return request, nil
}

func (s *returnService) Get(ctx context.Context, query GetReturnQuery) (domain.ReturnRequest, error) {
	requestID := strings.TrimSpace(query.RequestID)
	if requestID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: request id is required", ErrReturnInvalidInput)
	}

	request, err := s.returns.FindByID(ctx, requestID)
	if err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}
	if query.UserID != "" && request.UserID != query.UserID {
		return domain.ReturnRequest{}, fmt.Errorf("%w: request %s does not belong to caller", ErrReturnForbidden, requestID)
	}
	return request, nil
}

func (s *returnService) List(ctx context.Context, query ListReturnsQuery) (domain.CursorPage[domain.ReturnRequest], error) {
	page, err := s.returns.List(ctx, repositories.ReturnListFilter{
		UserID:     strings.TrimSpace(query.UserID),
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *returnService) UpdateStatus(ctx context.Context, cmd UpdateReturnStatusCommand) (domain.ReturnRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: request id is required", ErrReturnInvalidInput)
	}
	switch cmd.Status {
	case domain.ReturnStatusApproved, domain.ReturnStatusRejected, domain.ReturnStatusCompleted:
	default:
		return domain.ReturnRequest{}, fmt.Errorf("%w: unsupported status %q", ErrReturnInvalidInput, cmd.Status)
	}

	request, err := s.returns.FindByID(ctx, requestID)
	if err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}
	if !canTransitionReturn(request.Status, cmd.Status) {
		return domain.ReturnRequest{}, fmt.Errorf("%w: %s to %s", ErrReturnInvalidTransition, request.Status, cmd.Status)
	}

	now := s.clock().UTC()
	if cmd.Status == domain.ReturnStatusCompleted {
		if err := s.completeReturn(ctx, request, now); err != nil {
			return domain.ReturnRequest{}, err
		}
	}

	request.Status = cmd.Status
	request.UpdatedAt = now
	if note := strings.TrimSpace(cmd.AdminNote); note != "" {
		request.AdminNote = note
	}
	switch cmd.Status {
	case domain.ReturnStatusApproved:
		request.ApprovedAt = &now
	case domain.ReturnStatusRejected:
		request.RejectedAt = &now
	case domain.ReturnStatusCompleted:
		request.CompletedAt = &now
	}

	if err := s.returns.Update(ctx, request); err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}
	return request, nil
}

// completeReturn puts the goods back on hand and closes out the order.
func (s *returnService) completeReturn(ctx context.Context, request domain.ReturnRequest, now time.Time) error {
	order, err := s.orders.FindByID(ctx, request.OrderID)
	if err != nil {
		return s.mapOrderLookupError(err)
	}
	if order.Status != domain.OrderStatusDelivered {
		return fmt.Errorf("%w: order %s is %s", ErrReturnOrderNotEligible, order.ID, order.Status)
	}

	lines := stockLinesFromItems(order.Items)
	if _, err := s.inventory.Restore(ctx, StockCommand{OrderID: order.ID, Lines: lines, Reason: "return completed"}); err != nil {
		return err
	}

	order.Status = domain.OrderStatusReturned
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return s.mapOrderLookupError(err)
	}

	if s.events != nil {
		event := OrderEvent{
			Type:       eventOrderReturned,
			OrderID:    order.ID,
			UserID:     order.UserID,
			Status:     order.Status,
			OccurredAt: now,
			Metadata:   map[string]any{"return_request_id": request.ID},
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger(ctx, "return.event_publish_failed", map[string]any{
				"request_id": request.ID,
				"order_id":   order.ID,
				"error":      err.Error(),
			})
		}
	}
	return nil
}

func (s *returnService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReturnConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
		}
	}
	return err
}

func (s *returnService) mapOrderLookupError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
}
