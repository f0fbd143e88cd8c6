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

const couponsCollection = "coupons"

type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
}

func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	coupons := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil)
	return &CouponRepository{provider: provider, coupons: coupons}, nil
}

func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	if strings.TrimSpace(coupon.ID) == "" {
		return errors.New("coupons: id is required")
	}
	if strings.TrimSpace(coupon.Code) == "" {
		return errors.New("coupons: code is required")
	}

	existing, err := r.findDocByCode(ctx, coupon.Code)
	if err != nil {
		return err
	}
	if existing != nil {
		return pfirestore.WrapError("coupons.insert", status.Error(codes.AlreadyExists, fmt.Sprintf("coupon code %q already exists", coupon.Code)))
	}

	ref, err := r.coupons.DocumentRef(ctx, coupon.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newCouponDocument(coupon)); err != nil {
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	if strings.TrimSpace(coupon.ID) == "" {
		return errors.New("coupons: id is required")
	}
	if _, err := r.coupons.Set(ctx, coupon.ID, newCouponDocument(coupon)); err != nil {
		return err
	}
	return nil
}

func (r *CouponRepository) Delete(ctx context.Context, couponID string) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	ref, err := r.coupons.DocumentRef(ctx, couponID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("coupons.delete", err)
	}
	return nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	doc, err := r.findDocByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	if doc == nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.findByCode", status.Error(codes.NotFound, fmt.Sprintf("coupon %q not found", code)))
	}
	return doc.Data.toDomain(doc.ID), nil
}

// IncrementUsage bumps the usage counter transactionally, re-checking the
// limit against the freshly read document so two concurrent redemptions of
// the last slot cannot both succeed.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	found, err := r.findDocByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	if found == nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.incrementUsage", status.Error(codes.NotFound, fmt.Sprintf("coupon %q not found", code)))
	}

	ts := now.UTC()
	var updated domain.Coupon
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.coupons.DocumentRef(ctx, found.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", found.ID, err)
		}
		if doc.UsageLimit > 0 && doc.UsedCount >= doc.UsageLimit {
			return status.Error(codes.FailedPrecondition, fmt.Sprintf("coupon %q usage limit reached", code))
		}
		doc.UsedCount++
		doc.UpdatedAt = ts
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(snap.Ref.ID)
		return nil
	})
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.incrementUsage", err)
	}
	return updated, nil
}

func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.coupons == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		q = q.OrderBy("code", firestore.Asc).Limit(pageSize + 1)
		if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
			q = q.StartAfter(token)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	coupons := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		coupons = append(coupons, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(coupons) > pageSize
	if hasMore {
		coupons = coupons[:pageSize]
	}
	var nextToken string
	if hasMore && len(coupons) > 0 {
		nextToken = coupons[len(coupons)-1].Code
	}

	return domain.CursorPage[domain.Coupon]{Items: coupons, NextPageToken: nextToken}, nil
}

func (r *CouponRepository) findDocByCode(ctx context.Context, code string) (*pfirestore.Document[couponDocument], error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("coupons: code is required")
	}
	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	doc := docs[0]
	return &doc, nil
}

// Helper structures ---------------------------------------------------------

type couponDocument struct {
	Code       string     `firestore:"code"`
	Type       string     `firestore:"type"`
	Value      int64      `firestore:"value"`
	UsageLimit int        `firestore:"usageLimit"`
	UsedCount  int        `firestore:"usedCount"`
	StartDate  *time.Time `firestore:"startDate,omitempty"`
	EndDate    *time.Time `firestore:"endDate,omitempty"`
	Active     bool       `firestore:"active"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	UpdatedAt  time.Time  `firestore:"updatedAt"`
}

func newCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Code:       strings.TrimSpace(coupon.Code),
		Type:       string(coupon.Type),
		Value:      coupon.Value,
		UsageLimit: coupon.UsageLimit,
		UsedCount:  coupon.UsedCount,
		StartDate:  coupon.StartDate,
		EndDate:    coupon.EndDate,
		Active:     coupon.Active,
		CreatedAt:  coupon.CreatedAt.UTC(),
		UpdatedAt:  coupon.UpdatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:         id,
		Code:       d.Code,
		Type:       domain.CouponType(d.Type),
		Value:      d.Value,
		UsageLimit: d.UsageLimit,
		UsedCount:  d.UsedCount,
		StartDate:  d.StartDate,
		EndDate:    d.EndDate,
		Active:     d.Active,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
