package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/choocapi/ecommerce-backend/internal/platform/config"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
	"github.com/choocapi/ecommerce-backend/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryService
	Coupons   services.CouponService
	Returns   services.ReturnService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerOption customises the container wiring.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	orderEvents services.OrderEventPublisher
	stockEvents services.StockEventPublisher
	logger      func(ctx context.Context, event string, fields map[string]any)
	clock       func() time.Time
	idGenerator func() string
}

// WithOrderEventPublisher installs the publisher order and return lifecycle events go to.
func WithOrderEventPublisher(publisher services.OrderEventPublisher) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.orderEvents = publisher
	}
}

// WithStockEventPublisher installs the publisher stock ledger events go to.
func WithStockEventPublisher(publisher services.StockEventPublisher) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.stockEvents = publisher
	}
}

// WithServiceLogger routes service-level structured events to the provided sink.
func WithServiceLogger(logger func(ctx context.Context, event string, fields map[string]any)) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the clock used by all services, primarily for tests.
func WithClock(clock func() time.Time) ContainerOption {
	return func(cfg *containerConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithIDGenerator overrides the identifier generator used by all services.
func WithIDGenerator(generator func() string) ContainerOption {
	return func(cfg *containerConfig) {
		if generator != nil {
			cfg.idGenerator = generator
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerConfig{
		clock:       time.Now,
		idGenerator: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	svc, err := buildServices(reg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, options containerConfig) (Services, error) {
	var svc Services

	stockRepo := reg.Stock()
	if stockRepo != nil {
		inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
			Stock:  stockRepo,
			Events: options.stockEvents,
			Clock:  options.clock,
			Logger: options.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build inventory service: %w", err)
		}
		svc.Inventory = inventorySvc
	}

	ordersRepo := reg.Orders()
	couponsRepo := reg.Coupons()
	if ordersRepo != nil && couponsRepo != nil && svc.Inventory != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:      ordersRepo,
			Coupons:     couponsRepo,
			Inventory:   svc.Inventory,
			Events:      options.orderEvents,
			Clock:       options.clock,
			IDGenerator: options.idGenerator,
			Logger:      options.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if couponsRepo != nil && ordersRepo != nil {
		couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
			Coupons:     couponsRepo,
			Orders:      ordersRepo,
			Clock:       options.clock,
			IDGenerator: options.idGenerator,
			Logger:      options.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build coupon service: %w", err)
		}
		svc.Coupons = couponSvc
	}

	if returnsRepo := reg.Returns(); returnsRepo != nil && ordersRepo != nil && svc.Inventory != nil {
		returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
			Returns:     returnsRepo,
			Orders:      ordersRepo,
			Inventory:   svc.Inventory,
			Events:      options.orderEvents,
			Clock:       options.clock,
			IDGenerator: options.idGenerator,
			Logger:      options.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build return service: %w", err)
		}
		svc.Returns = returnSvc
	}

	return svc, nil
}
