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

	domain "github.com/aquapure/api/internal/domain"
	pfirestore "github.com/aquapure/api/internal/platform/firestore"
	"github.com/aquapure/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name      string    `firestore:"name"`
	Image     string    `firestore:"image,omitempty"`
	Price     int64     `firestore:"price"`
	Stock     int       `firestore:"stock"`
	IsActive  bool      `firestore:"isActive"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// ProductCatalog implements repositories.ProductCatalog. Stock mutations run
// inside a transaction so concurrent checkouts never oversell.
type ProductCatalog struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductCatalog constructs a Firestore-backed product catalog.
func NewProductCatalog(provider *pfirestore.Provider) (*ProductCatalog, error) {
	if provider == nil {
		return nil, errors.New("product catalog requires firestore provider")
	}
	return &ProductCatalog{
		base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

// FindByID fetches a single product projection.
func (r *ProductCatalog) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product catalog not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product catalog: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// DecrementStock atomically reduces available stock, failing when the product
// is missing, inactive, or short of the requested quantity.
func (r *ProductCatalog) DecrementStock(ctx context.Context, productID string, quantity int) error {
	return r.adjustStock(ctx, productID, quantity, true)
}

// RestoreStock atomically returns quantity to the shelf after a cancellation
// or received return.
func (r *ProductCatalog) RestoreStock(ctx context.Context, productID string, quantity int) error {
	return r.adjustStock(ctx, productID, quantity, false)
}

func (r *ProductCatalog) adjustStock(ctx context.Context, productID string, quantity int, decrement bool) error {
	if r == nil || r.base == nil {
		return errors.New("product catalog not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product catalog: product id is required")
	}
	if quantity <= 0 {
		return fmt.Errorf("product catalog: quantity must be positive, got %d", quantity)
	}

	op := "products.restoreStock"
	if decrement {
		op = "products.decrementStock"
	}

	err := r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorNotFound,
					fmt.Sprintf("product %s not found", productID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}

		if decrement {
			if !doc.IsActive {
				return repositories.NewStockError(repositories.StockErrorInactive,
					fmt.Sprintf("product %s is inactive", productID), nil)
			}
			if doc.Stock < quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient,
					fmt.Sprintf("product %s has %d in stock, wanted %d", productID, doc.Stock, quantity), nil)
			}
			doc.Stock -= quantity
		} else {
			doc.Stock += quantity
		}
		doc.UpdatedAt = time.Now().UTC()
		return tx.Set(ref, doc, firestore.MergeAll)
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return stockErr
		}
		return pfirestore.WrapError(op, err)
	}
	return nil
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:       id,
		Name:     d.Name,
		Image:    d.Image,
		Price:    d.Price,
		Stock:    d.Stock,
		IsActive: d.IsActive,
	}
}
