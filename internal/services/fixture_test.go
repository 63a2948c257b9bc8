package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/repositories/memory"
)

var fixedNow = time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fixture struct {
	store    *memory.Store
	registry *memory.Registry
	carts    CartService
	orders   OrderService
	products ProductService
	events   *recordingPublisher
	files    *stubFileDeleter
	cache    *stubCartCache
	logs     *logRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	registry := memory.NewRegistry(store, nil)
	f := &fixture{
		store:    store,
		registry: registry,
		events:   &recordingPublisher{},
		files:    &stubFileDeleter{},
		cache:    newStubCartCache(),
		logs:     &logRecorder{},
	}

	var seq atomic.Int64
	ids := func() string { return fmt.Sprintf("%04d", seq.Add(1)) }
	clock := func() time.Time { return fixedNow }

	var err error
	f.carts, err = NewCartService(CartServiceDeps{
		Users:       registry.Users(),
		Products:    registry.Products(),
		Carts:       registry.Carts(),
		UnitOfWork:  registry.UnitOfWork(),
		Cache:       f.cache,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      f.logs.log,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	f.orders, err = NewOrderService(OrderServiceDeps{
		Users:       registry.Users(),
		Products:    registry.Products(),
		Carts:       registry.Carts(),
		Orders:      registry.Orders(),
		UnitOfWork:  registry.UnitOfWork(),
		Cache:       f.cache,
		Events:      f.events,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      f.logs.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.products, err = NewProductService(ProductServiceDeps{
		Products:   registry.Products(),
		Dependents: registry.Dependents(),
		UnitOfWork: registry.UnitOfWork(),
		Files:      f.files,
		Cache:      f.cache,
		Clock:      clock,
		Logger:     f.logs.log,
	})
	if err != nil {
		t.Fatalf("NewProductService: %v", err)
	}
	return f
}

func (f *fixture) user(id, address string) {
	f.store.PutUser(domain.User{ID: id, Name: id, Address: address})
}

func (f *fixture) product(id, price string, stock int) {
	f.store.PutProduct(domain.Product{ID: id, Name: id, Price: money(price), Stock: stock, Active: true, OwnerID: "seller-1"})
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	product, err := f.registry.Products().Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product %s: %v", productID, err)
	}
	return product.Stock
}

func (f *fixture) add(t *testing.T, userID, productID string, qty int) CartLine {
	t.Helper()
	line, err := f.carts.AddItem(context.Background(), AddCartItemCommand{UserID: userID, ProductID: productID, Quantity: qty})
	if err != nil {
		t.Fatalf("AddItem(%s, %s, %d): %v", userID, productID, qty, err)
	}
	return line
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubFileDeleter struct {
	deleted []string
	err     error
}

func (s *stubFileDeleter) DeleteFile(_ context.Context, name string) error {
	s.deleted = append(s.deleted, name)
	return s.err
}

type stubCartCache struct {
	mu          sync.Mutex
	carts       map[string]Cart
	invalidated []string
	getErr      error
}

func newStubCartCache() *stubCartCache {
	return &stubCartCache{carts: make(map[string]Cart)}
}

func (c *stubCartCache) Get(_ context.Context, userID string) (Cart, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return Cart{}, false, c.getErr
	}
	cart, ok := c.carts[userID]
	return cart, ok, nil
}

func (c *stubCartCache) Set(_ context.Context, cart Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[cart.UserID] = cart
	return nil
}

func (c *stubCartCache) Invalidate(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.carts, id)
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
}

func (l *logRecorder) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}
