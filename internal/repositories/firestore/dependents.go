package firestore

import (
	"context"
	"fmt"
	"slices"

	"cloud.google.com/go/firestore"

	domain "github.com/mercado-field/api/internal/domain"
	pfirestore "github.com/mercado-field/api/internal/platform/firestore"
	"github.com/mercado-field/api/internal/repositories"
)

// DependentRepository finds and purges documents referencing a product. Orders and carts embed their lines
// and are matched through their productIds arrays; the other collections carry a productId field.
type DependentRepository struct {
	orders     *pfirestore.Collection[orderDocument]
	carts      *pfirestore.Collection[cartDocument]
	purchases  *pfirestore.Collection[productRefDocument]
	sales      *pfirestore.Collection[productRefDocument]
	comments   *pfirestore.Collection[productRefDocument]
	promotions *pfirestore.Collection[productRefDocument]
}

// NewDependentRepository constructs a DependentRepository backed by the provider.
func NewDependentRepository(provider *pfirestore.Provider) (*DependentRepository, error) {
	if provider == nil {
		return nil, errProviderRequired
	}
	return &DependentRepository{
		orders:     pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		carts:      pfirestore.NewCollection[cartDocument](provider, cartsCollection),
		purchases:  pfirestore.NewCollection[productRefDocument](provider, purchasesCollection),
		sales:      pfirestore.NewCollection[productRefDocument](provider, salesCollection),
		comments:   pfirestore.NewCollection[productRefDocument](provider, commentsCollection),
		promotions: pfirestore.NewCollection[productRefDocument](provider, promotionsCollection),
	}, nil
}

func containsProduct(productID string) pfirestore.QueryBuilder {
	return func(q firestore.Query) firestore.Query {
		return q.Where("productIds", "array-contains", productID)
	}
}

func referencesProduct(productID string) pfirestore.QueryBuilder {
	return func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", productID)
	}
}

func (r *DependentRepository) Summarize(ctx context.Context, productID string) (domain.ProductDependents, error) {
	var summary domain.ProductDependents

	orders, err := r.orders.Query(ctx, containsProduct(productID))
	if err != nil {
		return summary, err
	}
	for _, doc := range orders {
		for _, line := range doc.Data.Lines {
			if line.ProductID != productID {
				continue
			}
			summary.OrderLines++
			if doc.Data.Status != string(domain.OrderStatusCancelled) {
				summary.ActiveOrderLines++
			}
		}
	}

	purchases, err := r.purchases.Query(ctx, referencesProduct(productID))
	if err != nil {
		return summary, err
	}
	summary.Purchases = len(purchases)

	sales, err := r.sales.Query(ctx, referencesProduct(productID))
	if err != nil {
		return summary, err
	}
	summary.Sales = len(sales)

	carts, err := r.carts.Query(ctx, containsProduct(productID))
	if err != nil {
		return summary, err
	}
	for _, doc := range carts {
		summary.CartUserIDs = append(summary.CartUserIDs, doc.ID)
	}
	slices.Sort(summary.CartUserIDs)
	return summary, nil
}

// Purge runs every query before the first write, as Firestore transactions require, then applies the
// deletions kind by kind in the order supplied.
func (r *DependentRepository) Purge(ctx context.Context, productID string, kinds []domain.DependentKind) error {
	steps := make([]func() error, 0, len(kinds))
	for _, kind := range kinds {
		step, err := r.plan(ctx, productID, kind)
		if err != nil {
			return err
		}
		steps = append(steps, step)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (r *DependentRepository) plan(ctx context.Context, productID string, kind domain.DependentKind) (func() error, error) {
	switch kind {
	case domain.DependentOrderLines:
		docs, err := r.orders.Query(ctx, containsProduct(productID))
		if err != nil {
			return nil, err
		}
		return func() error {
			for _, doc := range docs {
				lines := make([]domain.OrderLine, 0, len(doc.Data.Lines))
				order, err := doc.Data.toDomain(doc.ID)
				if err != nil {
					return err
				}
				for _, line := range order.Lines {
					if line.ProductID != productID {
						lines = append(lines, line)
					}
				}
				data := doc.Data
				data.setLines(lines)
				if err := r.orders.Set(ctx, doc.ID, data); err != nil {
					return err
				}
			}
			return nil
		}, nil
	case domain.DependentCartLines:
		docs, err := r.carts.Query(ctx, containsProduct(productID))
		if err != nil {
			return nil, err
		}
		return func() error {
			for _, doc := range docs {
				lines, err := doc.Data.toDomain(doc.ID)
				if err != nil {
					return err
				}
				lines = slices.DeleteFunc(lines, func(l domain.CartLine) bool { return l.ProductID == productID })
				if len(lines) == 0 {
					err = r.carts.Delete(ctx, doc.ID)
				} else {
					err = r.carts.Set(ctx, doc.ID, newCartDocument(lines, doc.Data.UpdatedAt))
				}
				if err != nil {
					return err
				}
			}
			return nil
		}, nil
	case domain.DependentSales:
		return r.planDeleteAll(ctx, r.sales, productID)
	case domain.DependentPurchases:
		return r.planDeleteAll(ctx, r.purchases, productID)
	case domain.DependentComments:
		return r.planDeleteAll(ctx, r.comments, productID)
	case domain.DependentPromotions:
		return r.planDeleteAll(ctx, r.promotions, productID)
	default:
		return nil, repositories.NewError("dependents.purge", repositories.KindUnknown, fmt.Errorf("unknown dependent kind %q", kind))
	}
}

func (r *DependentRepository) planDeleteAll(ctx context.Context, coll *pfirestore.Collection[productRefDocument], productID string) (func() error, error) {
	docs, err := coll.Query(ctx, referencesProduct(productID))
	if err != nil {
		return nil, err
	}
	return func() error {
		for _, doc := range docs {
			if err := coll.Delete(ctx, doc.ID); err != nil {
				return err
			}
		}
		return nil
	}, nil
}
