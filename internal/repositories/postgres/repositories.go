package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/platform/pagination"
	"github.com/mercado-field/api/internal/repositories"
)

// UserRepository reads the users table.
type UserRepository struct{ db *DB }

func (r *UserRepository) Get(ctx context.Context, userID string) (domain.User, error) {
	q, _ := r.db.conn(ctx)
	var u domain.User
	err := q.QueryRowContext(ctx, `SELECT id, name, email, address FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, repositories.NotFound("users.get", "user %s not found", userID)
	}
	if err != nil {
		return domain.User{}, classify("users.get", err)
	}
	return u, nil
}

// ProductRepository persists products. Reads inside a unit of work take row locks.
type ProductRepository struct{ db *DB }

const productColumns = `id, name, price, stock, active, owner_id, image_name, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active, &p.OwnerID, &p.ImageName, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	q, locking := r.db.conn(ctx)
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if locking {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(q.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, repositories.NewProductNotFoundError("products.get", productID, err)
	}
	if err != nil {
		return domain.Product{}, classify("products.get", err)
	}
	return p, nil
}

// GetMany locks rows in id order so concurrent multi-product units of work cannot deadlock.
func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	q, locking := r.db.conn(ctx)
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`
	if locking {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, pq.Array(productIDs))
	if err != nil {
		return nil, classify("products.get_many", err)
	}
	defer rows.Close()

	found := make(map[string]domain.Product, len(productIDs))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("products.get_many", err)
		}
		found[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify("products.get_many", err)
	}

	out := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		p, ok := found[id]
		if !ok {
			return nil, repositories.NewProductNotFoundError("products.get_many", id, nil)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *ProductRepository) Save(ctx context.Context, p domain.Product) error {
	q, _ := r.db.conn(ctx)
	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, stock = $4, active = $5, owner_id = $6, image_name = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.Name, p.Price, p.Stock, p.Active, p.OwnerID, p.ImageName, p.UpdatedAt.UTC())
	if err != nil {
		return classify("products.save", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repositories.NewProductNotFoundError("products.save", p.ID, nil)
	}
	return nil
}

// AdjustStock applies delta with a single conditional update, so the stock floor holds even outside a
// unit of work.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int, now time.Time) (domain.Product, error) {
	q, _ := r.db.conn(ctx)
	p, err := scanProduct(q.QueryRowContext(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = $3
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING `+productColumns,
		productID, delta, now.UTC()))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, classify("products.adjust_stock", err)
	}

	var stock int
	err = q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, repositories.NewProductNotFoundError("products.adjust_stock", productID, err)
	}
	if err != nil {
		return domain.Product{}, classify("products.adjust_stock", err)
	}
	return domain.Product{}, repositories.NewInsufficientStockError("products.adjust_stock", productID, stock, -delta)
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	q, _ := r.db.conn(ctx)
	res, err := q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return classify("products.delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repositories.NewProductNotFoundError("products.delete", productID, nil)
	}
	return nil
}

// CartRepository stores one row per cart line.
type CartRepository struct{ db *DB }

func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	q, _ := r.db.conn(ctx)
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, product_id, quantity, unit_price, created_at, updated_at
		FROM cart_lines WHERE user_id = $1 ORDER BY position`, userID)
	if err != nil {
		return nil, classify("carts.list", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, classify("carts.list", err)
		}
		lines = append(lines, l)
	}
	return lines, classify("carts.list", rows.Err())
}

// SaveLine upserts by line id. A second line for the same (user, product) violates the unique key and
// surfaces as a conflict.
func (r *CartRepository) SaveLine(ctx context.Context, l domain.CartLine) error {
	q, _ := r.db.conn(ctx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO cart_lines (id, user_id, product_id, quantity, unit_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`,
		l.ID, l.UserID, l.ProductID, l.Quantity, l.UnitPrice, l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	return classify("carts.save_line", err)
}

func (r *CartRepository) DeleteLine(ctx context.Context, userID, lineID string) error {
	q, _ := r.db.conn(ctx)
	res, err := q.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1 AND user_id = $2`, lineID, userID)
	if err != nil {
		return classify("carts.delete_line", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repositories.NotFound("carts.delete_line", "cart line %s not found", lineID)
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	q, _ := r.db.conn(ctx)
	_, err := q.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
	return classify("carts.clear", err)
}

// OrderRepository persists orders and their lines.
type OrderRepository struct{ db *DB }

func (r *OrderRepository) Insert(ctx context.Context, o domain.Order) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q, _ := r.db.conn(ctx)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, buyer_id, status, subtotal, freight, total, delivery_address, payment_method, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			o.ID, o.BuyerID, string(o.Status), o.Subtotal, o.Freight, o.Total, o.DeliveryAddress, o.PaymentMethod,
			o.CreatedAt.UTC(), o.UpdatedAt.UTC()); err != nil {
			return classify("orders.insert", err)
		}
		for i, l := range o.Lines {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_lines (id, order_id, product_id, seller_id, quantity, unit_price, subtotal, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				l.ID, o.ID, l.ProductID, l.SellerID, l.Quantity, l.UnitPrice, l.Subtotal, i); err != nil {
				return classify("orders.insert_line", err)
			}
		}
		return nil
	})
}

const orderColumns = `id, buyer_id, status, subtotal, freight, total, delivery_address, payment_method, created_at, updated_at`

func scanOrder(row scanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &status, &o.Subtotal, &o.Freight, &o.Total, &o.DeliveryAddress, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt)
	o.Status = domain.OrderStatus(status)
	return o, err
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	q, locking := r.db.conn(ctx)
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if locking {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, repositories.NotFound("orders.get", "order %s not found", orderID)
	}
	if err != nil {
		return domain.Order{}, classify("orders.get", err)
	}
	orders := []domain.Order{o}
	if err := r.attachLines(ctx, q, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *OrderRepository) attachLines(ctx context.Context, q querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, seller_id, quantity, unit_price, subtotal
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, position`, pq.Array(ids))
	if err != nil {
		return classify("orders.lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.SellerID, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return classify("orders.lines", err)
		}
		i := index[l.OrderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return classify("orders.lines", rows.Err())
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	q, _ := r.db.conn(ctx)
	res, err := q.ExecContext(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, orderID, string(status), updatedAt.UTC())
	if err != nil {
		return classify("orders.update_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repositories.NotFound("orders.update_status", "order %s not found", orderID)
	}
	return nil
}

// orderQuery accumulates WHERE clauses with positional arguments.
type orderQuery struct {
	where []string
	args  []any
}

func (oq *orderQuery) arg(v any) string {
	oq.args = append(oq.args, v)
	return fmt.Sprintf("$%d", len(oq.args))
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var oq orderQuery
	if buyerID := strings.TrimSpace(filter.BuyerID); buyerID != "" {
		oq.where = append(oq.where, "buyer_id = "+oq.arg(buyerID))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		oq.where = append(oq.where, "status = ANY("+oq.arg(pq.Array(statuses))+")")
	}
	return r.page(ctx, "orders.list", filter.Pagination, &oq)
}

// ListBySeller pages orders with at least one line sold by the seller, served by order_lines_seller_idx.
func (r *OrderRepository) ListBySeller(ctx context.Context, filter repositories.SellerOrderFilter) (domain.CursorPage[domain.Order], error) {
	sellerID := strings.TrimSpace(filter.SellerID)
	if sellerID == "" {
		return domain.CursorPage[domain.Order]{}, repositories.NewError("orders.list_by_seller", repositories.KindUnknown, repositories.ErrSellerRequired)
	}
	var oq orderQuery
	oq.where = append(oq.where, "EXISTS (SELECT 1 FROM order_lines l WHERE l.order_id = orders.id AND l.seller_id = "+oq.arg(sellerID)+")")
	return r.page(ctx, "orders.list_by_seller", filter.Pagination, &oq)
}

func (r *OrderRepository) page(ctx context.Context, op string, p domain.Pagination, oq *orderQuery) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(p.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewError(op, repositories.KindUnknown, err)
	}
	pageSize := pagination.Normalize(p.PageSize)

	if !cursor.IsZero() {
		oq.where = append(oq.where, fmt.Sprintf("(created_at, id) < (%s, %s)", oq.arg(cursor.CreatedAt.UTC()), oq.arg(cursor.ID)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(oq.where) > 0 {
		query += ` WHERE ` + strings.Join(oq.where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + oq.arg(pageSize+1)

	q, _ := r.db.conn(ctx)
	rows, err := q.QueryContext(ctx, query, oq.args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, classify(op, err)
	}
	var items []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.CursorPage[domain.Order]{}, classify(op, err)
		}
		items = append(items, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, classify(op, err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(items) > pageSize {
		last := items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		items = items[:pageSize]
	}
	if err := r.attachLines(ctx, q, items); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page.Items = items
	return page, nil
}

// DependentRepository counts and deletes rows referencing a product.
type DependentRepository struct{ db *DB }

func (r *DependentRepository) Summarize(ctx context.Context, productID string) (domain.ProductDependents, error) {
	q, _ := r.db.conn(ctx)
	var s domain.ProductDependents
	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM order_lines WHERE product_id = $1),
			(SELECT COUNT(*) FROM order_lines l JOIN orders o ON o.id = l.order_id
				WHERE l.product_id = $1 AND o.status <> $2),
			(SELECT COUNT(*) FROM purchases WHERE product_id = $1),
			(SELECT COUNT(*) FROM sales WHERE product_id = $1)`,
		productID, string(domain.OrderStatusCancelled)).
		Scan(&s.OrderLines, &s.ActiveOrderLines, &s.Purchases, &s.Sales)
	if err != nil {
		return s, classify("dependents.summarize", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT DISTINCT user_id FROM cart_lines WHERE product_id = $1 ORDER BY user_id`, productID)
	if err != nil {
		return s, classify("dependents.summarize", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return s, classify("dependents.summarize", err)
		}
		s.CartUserIDs = append(s.CartUserIDs, userID)
	}
	return s, classify("dependents.summarize", rows.Err())
}

var purgeStatements = map[domain.DependentKind]string{
	domain.DependentOrderLines: `DELETE FROM order_lines WHERE product_id = $1`,
	domain.DependentSales:      `DELETE FROM sales WHERE product_id = $1`,
	domain.DependentPurchases:  `DELETE FROM purchases WHERE product_id = $1`,
	domain.DependentCartLines:  `DELETE FROM cart_lines WHERE product_id = $1`,
	domain.DependentComments:   `DELETE FROM comments WHERE product_id = $1`,
	domain.DependentPromotions: `DELETE FROM promotions WHERE product_id = $1`,
}

func (r *DependentRepository) Purge(ctx context.Context, productID string, kinds []domain.DependentKind) error {
	for _, kind := range kinds {
		if _, ok := purgeStatements[kind]; !ok {
			return repositories.NewError("dependents.purge", repositories.KindUnknown, fmt.Errorf("unknown dependent kind %q", kind))
		}
	}
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q, _ := r.db.conn(ctx)
		for _, kind := range kinds {
			if _, err := q.ExecContext(ctx, purgeStatements[kind], productID); err != nil {
				return classify("dependents.purge."+string(kind), err)
			}
		}
		return nil
	})
}
