package repositories

import (
	"context"
	"errors"

	domain "github.com/oakmarket/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

var (
	// ErrOrderExists signals that an order already exists for the payment reference.
	ErrOrderExists = errors.New("repositories: order already exists for payment reference")
	// ErrOrderNotFound signals that no order matched the lookup.
	ErrOrderNotFound = errors.New("repositories: order not found")
	// ErrProductNotFound signals that a referenced product does not exist.
	ErrProductNotFound = errors.New("repositories: product not found")
)

// ProductRepository reads and maintains the canonical product catalog.
type ProductRepository interface {
	// GetByIDs resolves the requested products. Missing IDs are simply
	// absent from the returned map.
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetByID(ctx context.Context, id string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) error
}

// OrderRepository persists orders materialized from confirmed payments.
type OrderRepository interface {
	// CreatePaid stores the order and its items atomically, decrementing
	// catalog availability in the same transaction. Returns ErrOrderExists
	// when an order for the same payment reference was already stored.
	CreatePaid(ctx context.Context, order domain.Order) error
	GetByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error)
	FindByCheckoutSession(ctx context.Context, checkoutSessionID string) (domain.Order, error)
}

// HealthRepository aggregates dependency probes for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
