package di

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/platform/config"
	"github.com/mercado-field/api/internal/platform/idempotency"
	"github.com/mercado-field/api/internal/repositories/memory"
	"github.com/mercado-field/api/internal/services"
)

var fixedNow = time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)

type recordingFiles struct{ deleted []string }

func (r *recordingFiles) DeleteFile(_ context.Context, name string) error {
	r.deleted = append(r.deleted, name)
	return nil
}

type recordingPublisher struct{ events []services.OrderEvent }

func (r *recordingPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	r.events = append(r.events, event)
	return nil
}

func memoryConfig() config.Config {
	return config.Config{
		Persistence: config.PersistenceConfig{Backend: config.BackendMemory},
		Orders:      config.OrderConfig{DefaultPaymentMethod: "CASH"},
		Redis:       config.RedisConfig{CartTTL: time.Minute},
	}
}

func TestNewContainer_MemoryBackendWiresServices(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	files := &recordingFiles{}
	events := &recordingPublisher{}
	ctx := context.Background()

	c, err := NewContainer(ctx, memoryConfig(),
		WithRedisClient(client),
		WithFileDeleter(files),
		WithOrderEventPublisher(events),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })

	if _, ok := c.Idempotency.(*idempotency.RedisStore); !ok {
		t.Fatalf("expected redis idempotency store, got %T", c.Idempotency)
	}
	if c.Health == nil || c.Authenticator == nil {
		t.Fatal("expected health repository and authenticator")
	}

	reg, ok := c.Repositories.(*memory.Registry)
	if !ok {
		t.Fatalf("expected memory registry, got %T", c.Repositories)
	}
	reg.Store().PutUser(domain.User{ID: "u1", Name: "Ana", Address: "Rua 1"})
	reg.Store().PutProduct(domain.Product{ID: "p1", Name: "Mate", Price: decimal.RequireFromString("10"), Stock: 3, Active: true, OwnerID: "s1", ImageName: "p1.png"})

	if _, err := c.Services.Cart.AddItem(ctx, services.AddCartItemCommand{UserID: "u1", ProductID: "p1", Quantity: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := c.Services.Cart.GetCart(ctx, "u1"); err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if !mr.Exists("cart:u1") {
		t.Fatal("expected cart read model cached in redis")
	}

	order, err := c.Services.Orders.CreateFromCart(ctx, services.CreateOrderFromCartCommand{UserID: "u1"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.PaymentMethod != "CASH" || order.DeliveryAddress != "Rua 1" {
		t.Fatalf("expected defaults applied, got %+v", order)
	}
	if mr.Exists("cart:u1") {
		t.Fatal("expected conversion to invalidate the cached cart")
	}
	if len(events.events) == 0 {
		t.Fatal("expected order event published")
	}

	if _, err := c.Services.Products.Retire(ctx, services.RetireProductCommand{ProductID: "p1", Force: true, Privileged: true}); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if len(files.deleted) != 1 || files.deleted[0] != "p1.png" {
		t.Fatalf("expected image deleted, got %v", files.deleted)
	}

	report, err := c.Health.Collect(ctx)
	if err != nil {
		t.Fatalf("collect health: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected healthy report, got %+v", report)
	}
}

func TestNewContainer_WithoutRedisUsesMemoryIdempotency(t *testing.T) {
	c, err := NewContainer(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	if _, ok := c.Idempotency.(*idempotency.MemoryStore); !ok {
		t.Fatalf("expected memory idempotency store, got %T", c.Idempotency)
	}
	if c.Health != nil {
		t.Fatalf("expected no health probes, got %T", c.Health)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewContainer_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Persistence.Backend = "cassandra"

	_, err := NewContainer(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "cassandra") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
