package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
)

const (
	usersCollection      = "users"
	productsCollection   = "products"
	cartsCollection      = "carts"
	ordersCollection     = "orders"
	purchasesCollection  = "purchases"
	salesCollection      = "sales"
	commentsCollection   = "comments"
	promotionsCollection = "promotions"
)

type userDocument struct {
	Name    string `firestore:"name"`
	Email   string `firestore:"email"`
	Address string `firestore:"address"`
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{ID: id, Name: d.Name, Email: d.Email, Address: d.Address}
}

// Money is stored as a decimal string so no precision is lost to float64.
type productDocument struct {
	Name      string    `firestore:"name"`
	Price     string    `firestore:"price"`
	Stock     int       `firestore:"stock"`
	Active    bool      `firestore:"active"`
	OwnerID   string    `firestore:"ownerId"`
	ImageName string    `firestore:"imageName,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Name:      p.Name,
		Price:     p.Price.String(),
		Stock:     p.Stock,
		Active:    p.Active,
		OwnerID:   p.OwnerID,
		ImageName: p.ImageName,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := parseMoney(d.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		Price:     price,
		Stock:     d.Stock,
		Active:    d.Active,
		OwnerID:   d.OwnerID,
		ImageName: d.ImageName,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// cartDocument holds every line of one user so a cart is read and written as a single document.
// ProductIDs mirrors the lines for array-contains queries during product retirement.
type cartDocument struct {
	ProductIDs []string           `firestore:"productIds"`
	Lines      []cartLineDocument `firestore:"lines"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ID        string    `firestore:"id"`
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	UnitPrice string    `firestore:"unitPrice"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d cartDocument) toDomain(userID string) ([]domain.CartLine, error) {
	lines := make([]domain.CartLine, 0, len(d.Lines))
	for _, l := range d.Lines {
		price, err := parseMoney(l.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("cart line %s price: %w", l.ID, err)
		}
		lines = append(lines, domain.CartLine{
			ID:        l.ID,
			UserID:    userID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: price,
			CreatedAt: l.CreatedAt,
			UpdatedAt: l.UpdatedAt,
		})
	}
	return lines, nil
}

func newCartDocument(lines []domain.CartLine, now time.Time) cartDocument {
	doc := cartDocument{UpdatedAt: now.UTC()}
	for _, l := range lines {
		doc.ProductIDs = append(doc.ProductIDs, l.ProductID)
		doc.Lines = append(doc.Lines, cartLineDocument{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.String(),
			CreatedAt: l.CreatedAt.UTC(),
			UpdatedAt: l.UpdatedAt.UTC(),
		})
	}
	return doc
}

// orderDocument embeds the immutable lines. ProductIDs and SellerIDs mirror them for array-contains
// queries (retirement and the seller sales view).
type orderDocument struct {
	BuyerID         string              `firestore:"buyerId"`
	Status          string              `firestore:"status"`
	Subtotal        string              `firestore:"subtotal"`
	Freight         string              `firestore:"freight"`
	Total           string              `firestore:"total"`
	DeliveryAddress string              `firestore:"deliveryAddress"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	ProductIDs      []string            `firestore:"productIds"`
	SellerIDs       []string            `firestore:"sellerIds"`
	Lines           []orderLineDocument `firestore:"lines"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ID        string `firestore:"id"`
	ProductID string `firestore:"productId"`
	SellerID  string `firestore:"sellerId"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice string `firestore:"unitPrice"`
	Subtotal  string `firestore:"subtotal"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		BuyerID:         o.BuyerID,
		Status:          string(o.Status),
		Subtotal:        o.Subtotal.String(),
		Freight:         o.Freight.String(),
		Total:           o.Total.String(),
		DeliveryAddress: o.DeliveryAddress,
		PaymentMethod:   o.PaymentMethod,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
	doc.setLines(o.Lines)
	return doc
}

func (d *orderDocument) setLines(lines []domain.OrderLine) {
	d.Lines = d.Lines[:0]
	d.ProductIDs = d.ProductIDs[:0]
	d.SellerIDs = d.SellerIDs[:0]
	seen := make(map[string]struct{}, len(lines))
	sellers := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		d.Lines = append(d.Lines, orderLineDocument{
			ID:        l.ID,
			ProductID: l.ProductID,
			SellerID:  l.SellerID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.String(),
			Subtotal:  l.Subtotal.String(),
		})
		if _, ok := seen[l.ProductID]; !ok {
			seen[l.ProductID] = struct{}{}
			d.ProductIDs = append(d.ProductIDs, l.ProductID)
		}
		if _, ok := sellers[l.SellerID]; !ok && l.SellerID != "" {
			sellers[l.SellerID] = struct{}{}
			d.SellerIDs = append(d.SellerIDs, l.SellerID)
		}
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	amounts := make([]decimal.Decimal, 3)
	for i, raw := range []string{d.Subtotal, d.Freight, d.Total} {
		v, err := parseMoney(raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s amount: %w", id, err)
		}
		amounts[i] = v
	}
	order := domain.Order{
		ID:              id,
		BuyerID:         d.BuyerID,
		Status:          domain.OrderStatus(d.Status),
		Subtotal:        amounts[0],
		Freight:         amounts[1],
		Total:           amounts[2],
		DeliveryAddress: d.DeliveryAddress,
		PaymentMethod:   d.PaymentMethod,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, l := range d.Lines {
		unit, err := parseMoney(l.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order line %s price: %w", l.ID, err)
		}
		subtotal, err := parseMoney(l.Subtotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order line %s subtotal: %w", l.ID, err)
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:        l.ID,
			OrderID:   id,
			ProductID: l.ProductID,
			SellerID:  l.SellerID,
			Quantity:  l.Quantity,
			UnitPrice: unit,
			Subtotal:  subtotal,
		})
	}
	return order, nil
}

// productRefDocument decodes only the product back-reference of purchases, sales, comments and promotions.
type productRefDocument struct {
	ProductID string `firestore:"productId"`
}

func parseMoney(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
