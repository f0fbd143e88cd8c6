package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	pfirestore "github.com/choocapi/ecommerce-backend/internal/platform/firestore"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

const returnsCollection = "returnRequests"

type ReturnRepository struct {
	provider *pfirestore.Provider
	returns  *pfirestore.BaseRepository[returnDocument]
}

func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	returns := pfirestore.NewBaseRepository[returnDocument](provider, returnsCollection, nil, nil)
	return &ReturnRepository{provider: provider, returns: returns}, nil
}

func (r *ReturnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if r == nil || r.returns == nil {
		return errors.New("return repository not initialised")
	}
	if strings.TrimSpace(request.ID) == "" {
		return errors.New("returns: id is required")
	}
	ref, err := r.returns.DocumentRef(ctx, request.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newReturnDocument(request)); err != nil {
		return pfirestore.WrapError("returns.insert", err)
	}
	return nil
}

func (r *ReturnRepository) Update(ctx context.Context, request domain.ReturnRequest) error {
	if r == nil || r.returns == nil {
		return errors.New("return repository not initialised")
	}
	if strings.TrimSpace(request.ID) == "" {
		return errors.New("returns: id is required")
	}
	if _, err := r.returns.Set(ctx, request.ID, newReturnDocument(request)); err != nil {
		return err
	}
	return nil
}

func (r *ReturnRepository) FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error) {
	if r == nil || r.returns == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	doc, err := r.returns.Get(ctx, requestID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ReturnRepository) FindByOrderID(ctx context.Context, orderID string) (domain.ReturnRequest, error) {
	if r == nil || r.returns == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ReturnRequest{}, errors.New("returns: order id is required")
	}
	docs, err := r.returns.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).Limit(1)
	})
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	if len(docs) == 0 {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.findByOrder", status.Error(codes.NotFound, fmt.Sprintf("return request for order %s not found", orderID)))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if r == nil || r.returns == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("return repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	docs, err := r.returns.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)
		if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
			if tok, err := decodeOrderPageToken(token); err == nil {
				q = q.StartAfter(tok.OrderedAt, tok.ID)
			}
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}

	requests := make([]domain.ReturnRequest, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(requests) > pageSize
	if hasMore {
		requests = requests[:pageSize]
	}
	var nextToken string
	if hasMore && len(requests) > 0 {
		last := requests[len(requests)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, OrderedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ReturnRequest]{Items: requests, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type returnDocument struct {
	OrderID     string     `firestore:"orderId"`
	UserID      string     `firestore:"userId"`
	Reason      string     `firestore:"reason"`
	ImageURLs   []string   `firestore:"imageUrls,omitempty"`
	AdminNote   string     `firestore:"adminNote,omitempty"`
	Status      string     `firestore:"status"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
	ApprovedAt  *time.Time `firestore:"approvedAt,omitempty"`
	RejectedAt  *time.Time `firestore:"rejectedAt,omitempty"`
	CompletedAt *time.Time `firestore:"completedAt,omitempty"`
}

func newReturnDocument(request domain.ReturnRequest) returnDocument {
	return returnDocument{
		OrderID:     strings.TrimSpace(request.OrderID),
		UserID:      strings.TrimSpace(request.UserID),
		Reason:      strings.TrimSpace(request.Reason),
		ImageURLs:   request.ImageURLs,
		AdminNote:   strings.TrimSpace(request.AdminNote),
		Status:      string(request.Status),
		CreatedAt:   request.CreatedAt.UTC(),
		UpdatedAt:   request.UpdatedAt.UTC(),
		ApprovedAt:  request.ApprovedAt,
		RejectedAt:  request.RejectedAt,
		CompletedAt: request.CompletedAt,
	}
}

func (d returnDocument) toDomain(id string) domain.ReturnRequest {
	return domain.ReturnRequest{
		ID:          id,
		OrderID:     d.OrderID,
		UserID:      d.UserID,
		Reason:      d.Reason,
		ImageURLs:   d.ImageURLs,
		AdminNote:   d.AdminNote,
		Status:      domain.ReturnStatus(d.Status),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ApprovedAt:  d.ApprovedAt,
		RejectedAt:  d.RejectedAt,
		CompletedAt: d.CompletedAt,
	}
}
