package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mercado-field/api/internal/platform/auth"
	"github.com/mercado-field/api/internal/platform/httpx"
	"github.com/mercado-field/api/internal/platform/observability"
)

const (
	// DefaultHeader carries the client supplied key.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader marks responses served from the store.
	ReplayHeader = "Idempotent-Replayed"

	maxKeyLength = 255
)

type settings struct {
	header   string
	ttl      time.Duration
	required bool
	clock    func() time.Time
}

// Option customises Middleware.
type Option func(*settings)

// WithHeader overrides the request header holding the key.
func WithHeader(name string) Option {
	return func(s *settings) {
		if name = strings.TrimSpace(name); name != "" {
			s.header = name
		}
	}
}

// WithTTL sets how long keys are remembered.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRequiredKey rejects requests without a key instead of passing them through.
func WithRequiredKey() Option {
	return func(s *settings) { s.required = true }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Middleware guards the wrapped routes. Mount it only on mutating routes. Keys are scoped to the
// authenticated caller, so two users may use the same key independently.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := settings{header: DefaultHeader, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				if cfg.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.header+" header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}

			caller := "anonymous"
			if identity, ok := auth.IdentityFromContext(ctx); ok {
				caller = identity.UID
			}
			scoped := digest(caller, key)
			fingerprint := digest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type"), string(body))
			logger := observability.FromContext(ctx).With(zap.String("idempotencyKey", scoped[:12]))

			outcome, rec, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch outcome {
			case OutcomeReplay:
				replay(w, rec)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still running", http.StatusConflict))
				return
			}

			rw := &bufferedWriter{header: make(http.Header)}
			next.ServeHTTP(rw, r)

			// Server errors are not remembered so the client may retry with the same key.
			if rw.statusCode() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			} else if err := store.Complete(ctx, scoped, fingerprint, Response{StatusCode: rw.statusCode(), Headers: rw.header, Body: rw.body.Bytes()}, cfg.clock().UTC(), cfg.ttl); err != nil {
				// The handler already ran; hand its response back and free the key.
				logger.Warn("idempotency save failed", zap.Error(err))
				if err := store.Release(ctx, scoped); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			}
			rw.flushTo(w)
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, httpx.DefaultMaxBodyBytes+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func replay(w http.ResponseWriter, rec Record) {
	for name, values := range rec.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := rec.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(rec.Body)
}

// bufferedWriter holds the handler output until it has been stored.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
