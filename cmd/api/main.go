package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mercado-field/api/internal/di"
	"github.com/mercado-field/api/internal/handlers"
	"github.com/mercado-field/api/internal/platform/config"
	"github.com/mercado-field/api/internal/platform/idempotency"
	"github.com/mercado-field/api/internal/platform/observability"
	"github.com/mercado-field/api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	resolver := newLazySecretResolver(logger.Named("secrets"))
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(resolver.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.WithLogger(baseLogger))
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err), zap.String("backend", cfg.Persistence.Backend))
	}

	idempotent := idempotency.Middleware(container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	cartHandlers := handlers.NewCartHandlers(container.Authenticator, container.Services.Cart)
	orderHandlers := handlers.NewOrderHandlers(container.Authenticator, container.Services.Orders,
		handlers.WithOrderIdempotency(idempotent),
		handlers.WithCheckoutRateLimit(cfg.Orders.CheckoutRateLimit, cfg.Orders.CheckoutRateWindow, nil),
	)
	productHandlers := handlers.NewProductHandlers(container.Authenticator, container.Services.Products)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthReporter(container.Health),
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Persistence.Backend))
	go func() {
		serverLogger.Info("mercado api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{Version: version, CommitSHA: commit, StartedAt: started}
}

// lazySecretResolver dials Secret Manager on the first secret reference, so deployments
// without sm:// values never need Google credentials.
type lazySecretResolver struct {
	logger *zap.Logger

	once    sync.Once
	fetcher *secrets.Fetcher
	err     error
}

func newLazySecretResolver(logger *zap.Logger) *lazySecretResolver {
	return &lazySecretResolver{logger: logger}
}

func (r *lazySecretResolver) Resolve(ctx context.Context, ref string) (string, error) {
	r.once.Do(func() {
		var clientOpts []option.ClientOption
		if file := strings.TrimSpace(os.Getenv("API_FIREBASE_CREDENTIALS_FILE")); file != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(file))
		}
		r.fetcher, r.err = secrets.NewFetcher(ctx, secretProjectID(), clientOpts, secrets.WithLogger(r.logger))
	})
	if r.err != nil {
		return "", r.err
	}
	return r.fetcher.ResolveSecret(ctx, ref)
}

func (r *lazySecretResolver) Close() error {
	if r.fetcher == nil {
		return nil
	}
	return r.fetcher.Close()
}

func secretProjectID() string {
	for _, key := range []string{"API_SECRETS_PROJECT_ID", "API_FIREBASE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}
