package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/choocapi/ecommerce-backend/internal/platform/firestore"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract used by dependency injection.
type Registry struct {
	provider *pfirestore.Provider

	orders  *OrderRepository
	stock   *StockRepository
	coupons *CouponRepository
	returns *ReturnRepository
	health  repositories.HealthRepository
}

// RegistryOption customises the registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository installs the dependency prober exposed via Health.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs each repository over the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	returns, err := NewReturnRepository(provider)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		provider: provider,
		orders:   orders,
		stock:    stock,
		coupons:  coupons,
		returns:  returns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

var _ repositories.Registry = (*Registry)(nil)

func (r *Registry) Orders() repositories.OrderRepository {
	if r == nil || r.orders == nil {
		return nil
	}
	return r.orders
}

func (r *Registry) Stock() repositories.StockRepository {
	if r == nil || r.stock == nil {
		return nil
	}
	return r.stock
}

func (r *Registry) Coupons() repositories.CouponRepository {
	if r == nil || r.coupons == nil {
		return nil
	}
	return r.coupons
}

func (r *Registry) Returns() repositories.ReturnRepository {
	if r == nil || r.returns == nil {
		return nil
	}
	return r.returns
}

func (r *Registry) Health() repositories.HealthRepository {
	if r == nil {
		return nil
	}
	return r.health
}

// RunInTx executes fn inside a Firestore transaction so cross-repository
// writes commit or abort together.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
