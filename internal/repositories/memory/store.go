// Package memory provides an in-process persistence backend. Every unit of work holds a store-wide
// lock and rolls back to a snapshot on failure, which serialises stock checks across products.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/repositories"
)

type txKey struct{}

type dataset struct {
	users      map[string]domain.User
	products   map[string]domain.Product
	carts      map[string][]domain.CartLine
	orders     map[string]domain.Order
	purchases  map[string]domain.Purchase
	sales      map[string]domain.Sale
	comments   map[string]domain.Comment
	promotions map[string]domain.Promotion
}

func newDataset() *dataset {
	return &dataset{
		users:      make(map[string]domain.User),
		products:   make(map[string]domain.Product),
		carts:      make(map[string][]domain.CartLine),
		orders:     make(map[string]domain.Order),
		purchases:  make(map[string]domain.Purchase),
		sales:      make(map[string]domain.Sale),
		comments:   make(map[string]domain.Comment),
		promotions: make(map[string]domain.Promotion),
	}
}

func (d *dataset) clone() *dataset {
	carts := make(map[string][]domain.CartLine, len(d.carts))
	for userID, lines := range d.carts {
		carts[userID] = slices.Clone(lines)
	}
	orders := make(map[string]domain.Order, len(d.orders))
	for id, order := range d.orders {
		order.Lines = slices.Clone(order.Lines)
		orders[id] = order
	}
	return &dataset{
		users:      maps.Clone(d.users),
		products:   maps.Clone(d.products),
		carts:      carts,
		orders:     orders,
		purchases:  maps.Clone(d.purchases),
		sales:      maps.Clone(d.sales),
		comments:   maps.Clone(d.comments),
		promotions: maps.Clone(d.promotions),
	}
}

// Store is the shared state behind every memory repository.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newDataset()}
}

// RunInTx runs fn while holding the store lock. Any error restores the state captured on entry.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
		}
		s.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the store lock unless ctx already runs inside this store's unit of work.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// PutUser seeds or replaces a user in the directory.
func (s *Store) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[user.ID] = user
}

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[product.ID] = product
}

// PutPurchase seeds purchase history written by the checkout subsystem.
func (s *Store) PutPurchase(purchase domain.Purchase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.purchases[purchase.ID] = purchase
}

// PutSale seeds sale history written by the checkout subsystem.
func (s *Store) PutSale(sale domain.Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sales[sale.ID] = sale
}

// PutComment seeds a product comment.
func (s *Store) PutComment(comment domain.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.comments[comment.ID] = comment
}

// PutPromotion seeds a product promotion.
func (s *Store) PutPromotion(promotion domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.promotions[promotion.ID] = promotion
}

// Counts reports how many comments and promotions reference productID.
func (s *Store) Counts(productID string) (comments, promotions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.data.comments {
		if c.ProductID == productID {
			comments++
		}
	}
	for _, p := range s.data.promotions {
		if p.ProductID == productID {
			promotions++
		}
	}
	return comments, promotions
}

// Registry bundles the memory repositories around one store.
type Registry struct {
	store  *Store
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps store. health may be nil.
func NewRegistry(store *Store, health repositories.HealthRepository) *Registry {
	if store == nil {
		store = NewStore()
	}
	return &Registry{store: store, health: health}
}

func (r *Registry) Users() repositories.UserRepository           { return &UserRepository{store: r.store} }
func (r *Registry) Products() repositories.ProductRepository     { return &ProductRepository{store: r.store} }
func (r *Registry) Carts() repositories.CartRepository           { return &CartRepository{store: r.store} }
func (r *Registry) Orders() repositories.OrderRepository         { return &OrderRepository{store: r.store} }
func (r *Registry) Dependents() repositories.DependentRepository { return &DependentRepository{store: r.store} }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }
func (r *Registry) UnitOfWork() repositories.UnitOfWork          { return r.store }
func (r *Registry) Close(context.Context) error                  { return nil }

// Store exposes the underlying store for seeding.
func (r *Registry) Store() *Store { return r.store }
