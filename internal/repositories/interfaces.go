package repositories

import (
	"context"
	"time"

	domain "github.com/aquapure/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Bookings() ServiceBookingRepository
	Products() ProductCatalog
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates. Update enforces the aggregate's
// version: a write against a stale version must fail with a conflict error,
// never overwrite the stored document.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ServiceBookingRepository persists service booking aggregates with the same
// version-checked update contract as orders.
type ServiceBookingRepository interface {
	Insert(ctx context.Context, booking domain.ServiceBooking) error
	Update(ctx context.Context, booking domain.ServiceBooking) (domain.ServiceBooking, error)
	FindByID(ctx context.Context, bookingID string) (domain.ServiceBooking, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.ServiceBooking, error)
	List(ctx context.Context, filter BookingListFilter) (domain.CursorPage[domain.ServiceBooking], error)
}

// ProductCatalog is the order flow's view of the product collection. Stock
// mutations are atomic conditional updates executed inside a transaction; the
// decrement fails when remaining stock is insufficient.
type ProductCatalog interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	DecrementStock(ctx context.Context, productID string, quantity int) error
	RestoreStock(ctx context.Context, productID string, quantity int) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type BookingListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
