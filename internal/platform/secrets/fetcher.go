package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

const meterName = "github.com/mercado-field/api/internal/platform/secrets"

type secretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret://name[?version=N&project=P] references against
// Secret Manager. Values are cached for the process lifetime; the database DSN
// is the main consumer and is read once at start-up.
type Fetcher struct {
	client     secretClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]string

	resolutions metric.Int64Counter
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithClient injects a Secret Manager client, mainly for tests.
func WithClient(client secretClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithLogger sets the logger used for cache and fetch diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFetcher creates a Fetcher for projectID. When no client is injected one is
// created with clientOpts.
func NewFetcher(ctx context.Context, projectID string, clientOpts []option.ClientOption, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		projectID: strings.TrimSpace(projectID),
		logger:    zap.NewNop(),
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		f.client = client
		f.ownsClient = true
	}

	counter, err := otel.GetMeterProvider().Meter(meterName).Int64Counter(
		"secrets.resolutions",
		metric.WithDescription("Secret reference resolutions by source"),
	)
	if err != nil {
		f.logger.Warn("secrets: unable to register metric", zap.Error(err))
	}
	f.resolutions = counter
	return f, nil
}

// Close releases the client when the Fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	project := parsed.project
	if project == "" {
		project = f.projectID
	}
	if project == "" {
		return "", fmt.Errorf("secrets: no project for %s", parsed.secret)
	}
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, parsed.secret, parsed.version)

	f.mu.Lock()
	value, ok := f.cache[name]
	f.mu.Unlock()
	if ok {
		f.record(ctx, "cache")
		return value, nil
	}

	retry := gax.WithRetry(func() gax.Retryer {
		return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		})
	})
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, retry)
	if err != nil {
		f.record(ctx, "error")
		return "", fmt.Errorf("secrets: access %s: %w", parsed.secret, err)
	}
	if resp.GetPayload() == nil {
		f.record(ctx, "error")
		return "", fmt.Errorf("secrets: empty payload for %s", parsed.secret)
	}

	value = string(resp.GetPayload().GetData())
	f.mu.Lock()
	f.cache[name] = value
	f.mu.Unlock()
	f.record(ctx, "remote")
	f.logger.Debug("secrets: resolved", zap.String("secret", parsed.secret), zap.String("version", parsed.version))
	return value, nil
}

func (f *Fetcher) record(ctx context.Context, source string) {
	if f.resolutions == nil {
		return
	}
	f.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	secret  string
	version string
	project string
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" && u.Scheme != "sm" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		secret:  secret,
		version: version,
		project: strings.TrimSpace(u.Query().Get("project")),
	}, nil
}
