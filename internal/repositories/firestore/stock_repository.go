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

const stockCollection = "productStocks"

type StockRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil)
	return &StockRepository{provider: provider, stocks: stocks}, nil
}

// Adjust applies one ledger operation to every line inside a single
// transaction. Contending adjustments of the same product retry through the
// Firestore transaction machinery, so the read-check-write never loses an
// update.
func (r *StockRepository) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockAdjustResult{}, errors.New("stock repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorInvalidOperation, "stock adjust: at least one line is required", nil)
	}
	switch req.Op {
	case repositories.StockOpReserve, repositories.StockOpRelease, repositories.StockOpConsume, repositories.StockOpRestore:
	default:
		return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorInvalidOperation, fmt.Sprintf("stock adjust: unsupported operation %q", req.Op), nil)
	}

	productIDs := make([]string, 0, len(req.Lines))
	quantities := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorInvalidOperation, "stock adjust: product id is required", nil)
		}
		if line.Quantity <= 0 {
			return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorInvalidOperation, fmt.Sprintf("stock adjust: quantity for %s must be > 0", productID), nil)
		}
		if _, seen := quantities[productID]; !seen {
			productIDs = append(productIDs, productID)
		}
		quantities[productID] += line.Quantity
	}

	now := req.Now.UTC()
	var result repositories.StockAdjustResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Firestore transactions reject reads after the first buffered write,
		// so every stock doc is fetched up front and the writes follow.
		refs := make([]*firestore.DocumentRef, 0, len(productIDs))
		for _, productID := range productIDs {
			stockRef, err := r.stocks.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			refs = append(refs, stockRef)
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}

		stocks := make(map[string]domain.ProductStock, len(productIDs))
		docs := make([]stockDocument, len(productIDs))
		for i, snap := range snaps {
			productID := productIDs[i]
			if !snap.Exists() {
				return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", productID), nil)
			}
			if err := snap.DataTo(&docs[i]); err != nil {
				return fmt.Errorf("decode product stock %s: %w", productID, err)
			}
			if err := applyStockOp(&docs[i], req.Op, quantities[productID], productID); err != nil {
				return err
			}
			docs[i].UpdatedAt = now
			docs[i].recalculate()
		}
		for i, doc := range docs {
			if err := tx.Set(refs[i], doc); err != nil {
				return err
			}
			stocks[productIDs[i]] = doc.toDomain(productIDs[i])
		}

		result = repositories.StockAdjustResult{Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.StockAdjustResult{}, wrapStockError("stock.adjust", err)
	}
	return result, nil
}

// applyStockOp mutates the counters for one ledger operation.
// Release and consume clamp over-releases at zero rather than failing so
// repeated compensations stay safe; reserve is the only operation that can
// reject on quantity.
func applyStockOp(doc *stockDocument, op repositories.StockOperation, qty int, productID string) error {
	switch op {
	case repositories.StockOpReserve:
		if doc.OnHand-doc.Reserved < qty {
			return repositories.NewStockError(repositories.StockErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", productID), nil)
		}
		doc.Reserved += qty
	case repositories.StockOpRelease:
		doc.Reserved -= qty
		if doc.Reserved < 0 {
			doc.Reserved = 0
		}
	case repositories.StockOpConsume:
		doc.Reserved -= qty
		if doc.Reserved < 0 {
			doc.Reserved = 0
		}
		doc.OnHand -= qty
		if doc.OnHand < 0 {
			doc.OnHand = 0
		}
		if doc.Reserved > doc.OnHand {
			doc.Reserved = doc.OnHand
		}
	case repositories.StockOpRestore:
		doc.OnHand += qty
	}
	return nil
}

func (r *StockRepository) Get(ctx context.Context, productID string) (domain.ProductStock, error) {
	if r == nil || r.stocks == nil {
		return domain.ProductStock{}, errors.New("stock repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorInvalidOperation, "stock get: product id is required", nil)
	}

	doc, err := r.stocks.Get(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", productID), err)
		}
		return domain.ProductStock{}, wrapStockError("stock.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *StockRepository) SetLevels(ctx context.Context, productID string, onHand int, now time.Time) (domain.ProductStock, error) {
	if r == nil || r.stocks == nil {
		return domain.ProductStock{}, errors.New("stock repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorInvalidOperation, "stock set levels: product id is required", nil)
	}
	if onHand < 0 {
		return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorInvalidOperation, "stock set levels: on-hand must be >= 0", nil)
	}

	ts := now.UTC()
	var updated domain.ProductStock
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stockRef, err := r.stocks.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		var doc stockDocument
		snap, err := tx.Get(stockRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			doc = stockDocument{}
		} else if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product stock %s: %w", productID, err)
		}
		doc.ProductID = productID
		doc.OnHand = onHand
		if doc.Reserved > doc.OnHand {
			doc.Reserved = doc.OnHand
		}
		doc.UpdatedAt = ts
		doc.recalculate()
		if err := tx.Set(stockRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.ProductStock{}, wrapStockError("stock.setLevels", err)
	}
	return updated, nil
}

func (r *StockRepository) ListLowStock(ctx context.Context, query repositories.StockLowStockQuery) (domain.CursorPage[domain.ProductStock], error) {
	if r == nil || r.stocks == nil {
		return domain.CursorPage[domain.ProductStock]{}, errors.New("stock repository not initialised")
	}

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}
	threshold := query.Threshold
	if threshold <= 0 {
		threshold = 10
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.ProductStock]{}, wrapStockError("stock.listLowStock", err)
	}

	firestoreQuery := client.Collection(stockCollection).Query.
		Where("available", "<=", threshold).
		OrderBy("available", firestore.Asc).
		OrderBy("productId", firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(query.PageToken); token != "" {
		tok, err := decodeStockPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.ProductStock]{}, wrapStockError("stock.listLowStock", err)
		}
		firestoreQuery = firestoreQuery.StartAfter(tok.Available, tok.ProductID)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var stocks []domain.ProductStock
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ProductStock]{}, wrapStockError("stock.listLowStock", err)
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ProductStock]{}, fmt.Errorf("decode product stock %s: %w", snap.Ref.ID, err)
		}
		stocks = append(stocks, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(stocks) > pageSize
	if hasMore {
		stocks = stocks[:pageSize]
	}
	var nextToken string
	if hasMore && len(stocks) > 0 {
		last := stocks[len(stocks)-1]
		encoded, err := encodeStockPageToken(stockPageToken{ProductID: last.ProductID, Available: last.Available})
		if err != nil {
			return domain.CursorPage[domain.ProductStock]{}, wrapStockError("stock.listLowStock", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ProductStock]{
		Items:         stocks,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type stockDocument struct {
	ProductID string    `firestore:"productId"`
	OnHand    int       `firestore:"onHand"`
	Reserved  int       `firestore:"reserved"`
	Available int       `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	s.Available = s.OnHand - s.Reserved
}

func (s stockDocument) toDomain(id string) domain.ProductStock {
	return domain.ProductStock{
		ProductID: id,
		OnHand:    s.OnHand,
		Reserved:  s.Reserved,
		Available: s.Available,
		UpdatedAt: s.UpdatedAt,
	}
}

type stockPageToken struct {
	ProductID string
	Available int
}

func encodeStockPageToken(token stockPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode stock page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeStockPageToken(encoded string) (*stockPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode stock page token: %w", err)
	}
	var token stockPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode stock page token json: %w", err)
	}
	return &token, nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
