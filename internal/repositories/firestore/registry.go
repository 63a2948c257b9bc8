// Package firestore implements the marketplace repositories on Cloud Firestore.
package firestore

import (
	"context"

	domain "github.com/mercado-field/api/internal/domain"
	pfirestore "github.com/mercado-field/api/internal/platform/firestore"
	"github.com/mercado-field/api/internal/repositories"
)

// Registry bundles the Firestore repositories around one provider, which also serves as the unit of work.
type Registry struct {
	provider   *pfirestore.Provider
	users      *UserRepository
	products   *ProductRepository
	carts      *CartRepository
	orders     *OrderRepository
	dependents *DependentRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errProviderRequired
	}
	reg := &Registry{provider: provider, health: health}
	var err error
	if reg.users, err = NewUserRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.dependents, err = NewDependentRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Dependents() repositories.DependentRepository { return r.dependents }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }
func (r *Registry) UnitOfWork() repositories.UnitOfWork          { return r.provider }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// SeedUser writes a user document. The user directory is owned by the auth subsystem; this exists for
// fixtures and local tooling.
func (r *Registry) SeedUser(ctx context.Context, user domain.User) error {
	coll := pfirestore.NewCollection[userDocument](r.provider, usersCollection)
	return coll.Set(ctx, user.ID, userDocument{Name: user.Name, Email: user.Email, Address: user.Address})
}

// SeedProduct writes a product document.
func (r *Registry) SeedProduct(ctx context.Context, product domain.Product) error {
	coll := pfirestore.NewCollection[productDocument](r.provider, productsCollection)
	return coll.Set(ctx, product.ID, newProductDocument(product))
}

// SeedReference writes a purchase, sale, comment or promotion stub pointing at productID.
func (r *Registry) SeedReference(ctx context.Context, kind domain.DependentKind, id, productID string) error {
	var name string
	switch kind {
	case domain.DependentPurchases:
		name = purchasesCollection
	case domain.DependentSales:
		name = salesCollection
	case domain.DependentComments:
		name = commentsCollection
	case domain.DependentPromotions:
		name = promotionsCollection
	default:
		return repositories.NewError("seed_reference", repositories.KindUnknown, nil)
	}
	coll := pfirestore.NewCollection[productRefDocument](r.provider, name)
	return coll.Set(ctx, id, productRefDocument{ProductID: productID})
}
