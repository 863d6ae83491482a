package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied a malformed cart.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartUnavailable indicates the catalog could not be consulted.
	ErrCartUnavailable = errors.New("cart: catalog unavailable")
)

// CartValidatorDeps wires the dependencies required by the cart validator.
type CartValidatorDeps struct {
	Products         repositories.ProductRepository
	ShippingFlatRate float64
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type cartValidator struct {
	products repositories.ProductRepository
	shipping float64
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ CartValidator = (*cartValidator)(nil)

// NewCartValidator constructs a CartValidator validating required dependencies.
func NewCartValidator(deps CartValidatorDeps) (CartValidator, error) {
	if deps.Products == nil {
		return nil, errors.New("cart validator: product repository is required")
	}
	if deps.ShippingFlatRate < 0 {
		return nil, errors.New("cart validator: shipping flat rate must be >= 0")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartValidator{
		products: deps.Products,
		shipping: deps.ShippingFlatRate,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Validate re-resolves every cart line against the canonical catalog.
// Client-declared prices are never used for computation; a mismatch is
// corrected silently rather than reported.
func (v *cartValidator) Validate(ctx context.Context, cmd ValidateCartCommand) (domain.ValidatedCart, error) {
	if v == nil || v.products == nil {
		return domain.ValidatedCart{}, ErrCartUnavailable
	}

	cart := domain.ValidatedCart{}
	if len(cmd.Items) == 0 {
		cart.Errors = append(cart.Errors, "cart is empty")
		return cart, nil
	}

	// Duplicate lines for the same product collapse into one, so the
	// availability check sees the aggregate quantity rather than each
	// line passing on its own.
	items := mergeCartLines(cmd.Items)

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProductID != "" {
			ids = append(ids, item.ProductID)
		}
	}

	catalog, err := v.products.GetByIDs(ctx, ids)
	if err != nil {
		v.logger(ctx, "cart.validate.catalog_error", map[string]any{"error": err.Error()})
		return domain.ValidatedCart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}

	for _, item := range items {
		productID := item.ProductID
		product, ok := catalog[productID]
		if productID == "" || !ok || !product.Published {
			cart.Errors = append(cart.Errors, fmt.Sprintf("%s not found", labelFor(product, productID)))
			continue
		}
		if item.Quantity <= 0 || item.Quantity > product.Available {
			cart.Errors = append(cart.Errors, fmt.Sprintf("%s is no longer available in that quantity", product.Title))
			continue
		}
		if item.DeclaredPrice != 0 && item.DeclaredPrice != product.UnitPrice {
			// Tampered or stale price. Corrected, not reported.
			v.logger(ctx, "cart.validate.price_overridden", map[string]any{
				"productId": productID,
				"declared":  item.DeclaredPrice,
				"canonical": product.UnitPrice,
			})
		}
		validated := domain.ValidatedCartItem{
			ProductID: productID,
			Title:     product.Title,
			UnitPrice: product.UnitPrice,
			Quantity:  item.Quantity,
		}
		cart.Items = append(cart.Items, validated)
		cart.Subtotal += validated.LineSubtotal()
	}

	if len(cart.Items) > 0 {
		cart.ShippingCost = v.shipping
	}
	// Tax is computed later by the gateway; zero at this stage.
	cart.TaxAmount = 0
	cart.Total = cart.Subtotal + cart.ShippingCost + cart.TaxAmount
	cart.IsValid = len(cart.Errors) == 0 && len(cart.Items) > 0

	return cart, nil
}

// mergeCartLines sums quantities of lines referencing the same product,
// keeping the position of the first occurrence. Lines without a product
// id stay separate; each reports its own error.
func mergeCartLines(items []domain.CartItem) []domain.CartItem {
	merged := make([]domain.CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if pos, ok := index[id]; ok && id != "" {
			merged[pos].Quantity += item.Quantity
			continue
		}
		if id != "" {
			index[id] = len(merged)
		}
		merged = append(merged, domain.CartItem{
			ProductID:     id,
			DeclaredPrice: item.DeclaredPrice,
			Quantity:      item.Quantity,
		})
	}
	return merged
}

func labelFor(product domain.Product, fallbackID string) string {
	if title := strings.TrimSpace(product.Title); title != "" {
		return title
	}
	if fallbackID != "" {
		return fallbackID
	}
	return "item"
}
