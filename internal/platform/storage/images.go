// Package storage deletes product images from Cloud Storage behind a circuit breaker so a failing
// bucket cannot stall product retirement.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mercado-field/api/internal/platform/observability"
)

const (
	defaultBreakerTimeout = 30 * time.Second
	defaultTripFailures   = 5
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errUnsafeObject  = errors.New("storage: object name must be a relative path without dot segments")
)

// ObjectRemover deletes one object. Implementations treat a missing object as success.
type ObjectRemover interface {
	Remove(ctx context.Context, bucket, object string) error
}

// GCSRemover removes objects through a Cloud Storage client.
type GCSRemover struct {
	client *gcs.Client
}

// NewGCSRemover wraps client.
func NewGCSRemover(client *gcs.Client) (*GCSRemover, error) {
	if client == nil {
		return nil, errors.New("storage remover: client is required")
	}
	return &GCSRemover{client: client}, nil
}

func (r *GCSRemover) Remove(ctx context.Context, bucket, object string) error {
	err := r.client.Bucket(bucket).Object(object).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

// ImageStore implements services.FileDeleter for the product image bucket.
type ImageStore struct {
	bucket  string
	remover ObjectRemover
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// ImageStoreOption customises the store.
type ImageStoreOption func(*imageStoreConfig)

type imageStoreConfig struct {
	timeout      time.Duration
	tripFailures uint32
	logger       *zap.Logger
}

// WithBreakerTimeout sets how long the breaker stays open before probing the bucket again.
func WithBreakerTimeout(timeout time.Duration) ImageStoreOption {
	return func(cfg *imageStoreConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTripFailures sets the number of consecutive failures that open the breaker.
func WithTripFailures(n uint32) ImageStoreOption {
	return func(cfg *imageStoreConfig) {
		if n > 0 {
			cfg.tripFailures = n
		}
	}
}

// WithLogger reports breaker state changes.
func WithLogger(logger *zap.Logger) ImageStoreOption {
	return func(cfg *imageStoreConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// NewImageStore constructs an ImageStore deleting objects from bucket.
func NewImageStore(bucket string, remover ObjectRemover, opts ...ImageStoreOption) (*ImageStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if remover == nil {
		return nil, errors.New("storage: remover is required")
	}
	cfg := imageStoreConfig{timeout: defaultBreakerTimeout, tripFailures: defaultTripFailures, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "storage:" + bucket,
		Timeout: cfg.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.tripFailures
		},
		// Caller cancellations say nothing about bucket health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.logger.Warn("storage breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &ImageStore{bucket: bucket, remover: remover, breaker: breaker}, nil
}

// DeleteFile removes the named image. An open breaker fails fast with gobreaker.ErrOpenState.
func (s *ImageStore) DeleteFile(ctx context.Context, name string) error {
	object, err := objectName(name)
	if err != nil {
		return err
	}
	ctx, span := observability.StartSpan(ctx, "storage.DeleteFile",
		attribute.String("gcs.bucket", s.bucket),
		attribute.String("gcs.object", object),
	)
	defer span.End()

	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.remover.Remove(ctx, s.bucket, object)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("storage: delete %s/%s: %w", s.bucket, object, err)
	}
	return nil
}

// State exposes the breaker state for health probes.
func (s *ImageStore) State() gobreaker.State {
	return s.breaker.State()
}

// Check reports an error while the breaker is open.
func (s *ImageStore) Check(context.Context) error {
	if s.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("storage: breaker for %s is open", s.bucket)
	}
	return nil
}

func objectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errInvalidObject
	}
	if strings.HasPrefix(name, "/") || path.Clean(name) != name || strings.HasPrefix(name, "../") || name == ".." {
		return "", errUnsafeObject
	}
	return name, nil
}
