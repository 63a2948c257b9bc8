package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mercado-field/api/internal/platform/auth"
	"github.com/mercado-field/api/internal/platform/cache"
	"github.com/mercado-field/api/internal/platform/config"
	pfirestore "github.com/mercado-field/api/internal/platform/firestore"
	"github.com/mercado-field/api/internal/platform/idempotency"
	"github.com/mercado-field/api/internal/platform/jobs"
	"github.com/mercado-field/api/internal/platform/observability"
	"github.com/mercado-field/api/internal/platform/storage"
	"github.com/mercado-field/api/internal/repositories"
	firestoreRepo "github.com/mercado-field/api/internal/repositories/firestore"
	"github.com/mercado-field/api/internal/repositories/memory"
	"github.com/mercado-field/api/internal/repositories/postgres"
	"github.com/mercado-field/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart     services.CartService
	Orders   services.OrderService
	Products services.ProductService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Repositories  repositories.Registry
	Services      Services
	Authenticator *auth.Authenticator
	Idempotency   idempotency.Store
	Health        repositories.HealthRepository

	closers []func(context.Context) error
}

// Option overrides a piece of infrastructure, mostly for tests.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	registry  repositories.Registry
	verifier  auth.TokenVerifier
	redis     redis.UniversalClient
	publisher services.OrderEventPublisher
	files     services.FileDeleter
	clock     func() time.Time
}

// WithLogger sets the base logger used for service events and infrastructure diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry skips backend selection and uses reg.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithTokenVerifier replaces the Firebase verifier.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithRedisClient uses client instead of dialling cfg.Redis.Addr.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithOrderEventPublisher replaces the Pub/Sub publisher.
func WithOrderEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithFileDeleter replaces the Cloud Storage image store.
func WithFileDeleter(files services.FileDeleter) Option {
	return func(o *options) { o.files = files }
}

// WithClock overrides the service clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies. Optional infrastructure (Redis, Cloud Storage,
// Pub/Sub, Firebase) is skipped when its configuration is empty.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	var probes []repositories.Probe

	// Redis backs both the cart cache and the idempotency store; it is optional and never critical.
	var cartCache services.CartCache
	redisClient := o.redis
	if redisClient == nil && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		redisClient = client
	}
	if redisClient != nil {
		carts, err := cache.NewCartCache(redisClient, cfg.Redis.CartTTL)
		if err != nil {
			return nil, fmt.Errorf("build cart cache: %w", err)
		}
		cartCache = carts
		store, err := idempotency.NewRedisStore(redisClient)
		if err != nil {
			return nil, fmt.Errorf("build idempotency store: %w", err)
		}
		c.Idempotency = store
		probes = append(probes, repositories.Probe{Name: "redis", Check: carts.Ping})
	} else {
		c.Idempotency = idempotency.NewMemoryStore()
	}

	files := o.files
	if files == nil && cfg.Storage.ProductImagesBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build storage client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		remover, err := storage.NewGCSRemover(client)
		if err != nil {
			return nil, err
		}
		images, err := storage.NewImageStore(cfg.Storage.ProductImagesBucket, remover,
			storage.WithBreakerTimeout(cfg.Storage.BreakerTimeout),
			storage.WithLogger(logger.Named("storage")),
		)
		if err != nil {
			return nil, fmt.Errorf("build image store: %w", err)
		}
		files = images
		probes = append(probes, repositories.Probe{Name: "storage", Check: images.Check})
	}

	publisher := o.publisher
	if publisher == nil && cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.OrderEventsTopic)
		c.closers = append(c.closers, func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		events, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			return nil, err
		}
		publisher = events
	}

	verifier := o.verifier
	if verifier == nil && cfg.Firebase.ProjectID != "" {
		firebase, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		verifier = firebase
	}
	if verifier == nil {
		logger.Warn("no token verifier configured; authenticated routes will reject every request")
	}
	c.Authenticator = auth.NewAuthenticator(verifier)

	reg := o.registry
	if reg == nil {
		reg, err = c.openBackend(ctx, cfg, &probes)
		if err != nil {
			return nil, err
		}
	}
	c.Repositories = reg

	if len(probes) > 0 {
		health, err := repositories.NewProbeHealthRepository(probes, repositories.WithProbeClock(o.clock))
		if err != nil {
			return nil, fmt.Errorf("build health repository: %w", err)
		}
		c.Health = health
	} else {
		c.Health = reg.Health()
	}

	svc, err := buildServices(reg, cartCache, publisher, files, cfg, o.clock, logger)
	if err != nil {
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// openBackend builds the registry selected by cfg.Persistence.Backend and registers its critical probe.
// The registry's Close is deferred to Container.Close.
func (c *Container) openBackend(ctx context.Context, cfg config.Config, probes *[]repositories.Probe) (repositories.Registry, error) {
	switch cfg.Persistence.Backend {
	case "", config.BackendMemory:
		return memory.NewRegistry(memory.NewStore(), nil), nil

	case config.BackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
		*probes = append(*probes, repositories.Probe{Name: "firestore", Critical: true, Check: provider.Ping})
		reg, err := firestoreRepo.NewRegistry(provider, nil)
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		if cfg.Postgres.Migrate {
			if err := db.Migrate(); err != nil {
				return nil, err
			}
		}
		*probes = append(*probes, repositories.Probe{Name: "postgres", Critical: true, Check: db.Ping})
		reg, err := postgres.NewRegistry(db, nil)
		if err != nil {
			return nil, fmt.Errorf("build postgres registry: %w", err)
		}
		return reg, nil

	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

func buildServices(reg repositories.Registry, carts services.CartCache, publisher services.OrderEventPublisher, files services.FileDeleter, cfg config.Config, clock func() time.Time, logger *zap.Logger) (Services, error) {
	events := observability.EventLogger(logger.Named("services"))
	unit := reg.UnitOfWork()

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Users:      reg.Users(),
		Products:   reg.Products(),
		Carts:      reg.Carts(),
		UnitOfWork: unit,
		Cache:      carts,
		Clock:      clock,
		Logger:     events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Users:                reg.Users(),
		Products:             reg.Products(),
		Carts:                reg.Carts(),
		Orders:               reg.Orders(),
		UnitOfWork:           unit,
		Cache:                carts,
		Events:               publisher,
		DefaultPaymentMethod: cfg.Orders.DefaultPaymentMethod,
		Clock:                clock,
		Logger:               events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	productSvc, err := services.NewProductService(services.ProductServiceDeps{
		Products:   reg.Products(),
		Dependents: reg.Dependents(),
		UnitOfWork: unit,
		Files:      files,
		Cache:      carts,
		Clock:      clock,
		Logger:     events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build product service: %w", err)
	}

	return Services{Cart: cartSvc, Orders: orderSvc, Products: productSvc}, nil
}

// Close releases clients in reverse order of creation. An injected registry stays owned by the caller.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
