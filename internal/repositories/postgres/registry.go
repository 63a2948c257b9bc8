package postgres

import (
	"context"
	"fmt"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/repositories"
)

// Registry bundles the Postgres repositories around one pool.
type Registry struct {
	db     *DB
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps db. health may be nil.
func NewRegistry(db *DB, health repositories.HealthRepository) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres registry: db is required")
	}
	return &Registry{db: db, health: health}, nil
}

func (r *Registry) Users() repositories.UserRepository           { return &UserRepository{db: r.db} }
func (r *Registry) Products() repositories.ProductRepository     { return &ProductRepository{db: r.db} }
func (r *Registry) Carts() repositories.CartRepository           { return &CartRepository{db: r.db} }
func (r *Registry) Orders() repositories.OrderRepository         { return &OrderRepository{db: r.db} }
func (r *Registry) Dependents() repositories.DependentRepository { return &DependentRepository{db: r.db} }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }
func (r *Registry) UnitOfWork() repositories.UnitOfWork          { return r.db }
func (r *Registry) Close(ctx context.Context) error              { return r.db.Close(ctx) }

// SeedUser upserts a user row. Users are owned by the auth subsystem; this serves fixtures and tooling.
func (r *Registry) SeedUser(ctx context.Context, u domain.User) error {
	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, address) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, address = EXCLUDED.address`,
		u.ID, u.Name, u.Email, u.Address)
	return classify("users.seed", err)
}

// SeedProduct upserts a product row.
func (r *Registry) SeedProduct(ctx context.Context, p domain.Product) error {
	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, active, owner_id, image_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			active = EXCLUDED.active, owner_id = EXCLUDED.owner_id, image_name = EXCLUDED.image_name,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Price, p.Stock, p.Active, p.OwnerID, p.ImageName, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return classify("products.seed", err)
}

// SeedReference inserts a purchase, sale, comment or promotion row pointing at productID.
func (r *Registry) SeedReference(ctx context.Context, kind domain.DependentKind, id, productID string) error {
	var table string
	switch kind {
	case domain.DependentPurchases:
		table = "purchases"
	case domain.DependentSales:
		table = "sales"
	case domain.DependentComments:
		table = "comments"
	case domain.DependentPromotions:
		table = "promotions"
	default:
		return repositories.NewError("seed_reference", repositories.KindUnknown, fmt.Errorf("unsupported kind %q", kind))
	}
	_, err := r.db.db.ExecContext(ctx, `INSERT INTO `+table+` (id, product_id) VALUES ($1, $2)`, id, productID)
	return classify(table+".seed", err)
}
