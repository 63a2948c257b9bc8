package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultShutdown       = 20 * time.Second
	defaultMaxOpenConns   = 20
	defaultMaxIdleConns   = 5
	defaultCartCacheTTL   = 15 * time.Minute
	defaultPaymentMethod  = "CASH"
	defaultOrderTopic     = "order-events"
	defaultBreakerTimeout = 30 * time.Second
	defaultIdemHeader     = "Idempotency-Key"
	defaultIdemTTL        = 24 * time.Hour
	defaultCheckoutLimit  = 10
	defaultCheckoutWindow = time.Minute
)

// Persistence backends selectable through API_PERSISTENCE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Persistence PersistenceConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Orders      OrderConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PersistenceConfig selects the storage backend for the marketplace core.
type PersistenceConfig struct {
	Backend string
}

// FirebaseConfig stores Firebase project settings used for token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the relational backend.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Migrate      bool
}

// RedisConfig configures the optional cart read cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CartTTL  time.Duration
}

// StorageConfig names the bucket holding product images.
type StorageConfig struct {
	ProductImagesBucket string
	BreakerTimeout      time.Duration
}

// PubSubConfig configures order event publication. An empty project disables it.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// OrderConfig holds business defaults for order conversion. CheckoutRateLimit caps conversions per
// caller within CheckoutRateWindow; zero disables the limit.
type OrderConfig struct {
	DefaultPaymentMethod string
	CheckoutRateLimit    int
	CheckoutRateWindow   time.Duration
}

// IdempotencyConfig controls replay protection for order creation.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver resolves secret references (sm:// or secret://).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes a failure while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the process env.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load assembles configuration from defaults, the .env file, the process
// environment and explicit overrides, in increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdown),
		},
		Persistence: PersistenceConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "API_PERSISTENCE_BACKEND", BackendMemory)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:          stringWithDefault(lookup, "API_POSTGRES_DSN", ""),
			MaxOpenConns: intWithDefault(lookup, "API_POSTGRES_MAX_OPEN_CONNS", defaultMaxOpenConns),
			MaxIdleConns: intWithDefault(lookup, "API_POSTGRES_MAX_IDLE_CONNS", defaultMaxIdleConns),
			Migrate:      boolWithDefault(lookup, "API_POSTGRES_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			CartTTL:  durationWithDefault(lookup, "API_REDIS_CART_TTL", defaultCartCacheTTL),
		},
		Storage: StorageConfig{
			ProductImagesBucket: stringWithDefault(lookup, "API_STORAGE_PRODUCT_IMAGES_BUCKET", ""),
			BreakerTimeout:      durationWithDefault(lookup, "API_STORAGE_BREAKER_TIMEOUT", defaultBreakerTimeout),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderTopic),
		},
		Orders: OrderConfig{
			DefaultPaymentMethod: stringWithDefault(lookup, "API_ORDERS_DEFAULT_PAYMENT_METHOD", defaultPaymentMethod),
			CheckoutRateLimit:    intWithDefault(lookup, "API_ORDERS_CHECKOUT_RATE_LIMIT", defaultCheckoutLimit),
			CheckoutRateWindow:   durationWithDefault(lookup, "API_ORDERS_CHECKOUT_RATE_WINDOW", defaultCheckoutWindow),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdemHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdemTTL),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	secretFields := []*string{&cfg.Postgres.DSN, &cfg.Redis.Password}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsSecretReference reports whether value points at Secret Manager.
func IsSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !IsSecretReference(value) {
		return value, nil
	}
	ref := strings.TrimSpace(value)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Persistence.Backend {
	case BackendMemory:
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case BackendPostgres:
		if cfg.Postgres.DSN == "" {
			invalid = append(invalid, "Postgres.DSN")
		}
		if cfg.Postgres.MaxOpenConns <= 0 {
			invalid = append(invalid, "Postgres.MaxOpenConns")
		}
	default:
		invalid = append(invalid, "Persistence.Backend")
	}
	if cfg.Redis.Addr != "" && cfg.Redis.CartTTL <= 0 {
		invalid = append(invalid, "Redis.CartTTL")
	}
	if cfg.PubSub.ProjectID != "" && strings.TrimSpace(cfg.PubSub.OrderEventsTopic) == "" {
		invalid = append(invalid, "PubSub.OrderEventsTopic")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if strings.TrimSpace(cfg.Orders.DefaultPaymentMethod) == "" {
		invalid = append(invalid, "Orders.DefaultPaymentMethod")
	}
	if cfg.Orders.CheckoutRateLimit < 0 {
		invalid = append(invalid, "Orders.CheckoutRateLimit")
	}
	if cfg.Orders.CheckoutRateLimit > 0 && cfg.Orders.CheckoutRateWindow <= 0 {
		invalid = append(invalid, "Orders.CheckoutRateWindow")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
