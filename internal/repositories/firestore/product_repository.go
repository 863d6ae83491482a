package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/oakmarket/api/internal/domain"
	pfirestore "github.com/oakmarket/api/internal/platform/firestore"
	"github.com/oakmarket/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists the canonical catalog in Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil)
	return &ProductRepository{provider: provider, products: products}, nil
}

// GetByIDs resolves products in a single batched read. IDs without a
// matching document are omitted from the result.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	resolved := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return resolved, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("products.getByIds", err)
	}

	refs := make([]*firestore.DocumentRef, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}
	if len(refs) == 0 {
		return resolved, nil
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.getByIds", err)
	}

	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		resolved[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return resolved, nil
}

// GetByID fetches a single product.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, errors.New("product get: id is required")
	}

	doc, err := r.products.Get(ctx, id)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, fmt.Errorf("%w: %s", repositories.ErrProductNotFound, id)
		}
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert writes the product under its ID.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product upsert: id is required")
	}
	_, err := r.products.Set(ctx, id, newProductDocument(product))
	return err
}

type productDocument struct {
	Title     string    `firestore:"title"`
	UnitPrice float64   `firestore:"unitPrice"`
	Available int       `firestore:"available"`
	Published bool      `firestore:"published"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		Title:     strings.TrimSpace(product.Title),
		UnitPrice: product.UnitPrice,
		Available: product.Available,
		Published: product.Published,
		CreatedAt: product.CreatedAt.UTC(),
		UpdatedAt: product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Title:     strings.TrimSpace(d.Title),
		UnitPrice: d.UnitPrice,
		Available: d.Available,
		Published: d.Published,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
