// Package idempotency replays the stored response of a mutating request retried with the same
// Idempotency-Key, so a client retrying a checkout cannot place the order twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Outcome reports what Reserve found.
type Outcome int

const (
	// OutcomeNew means the caller now owns the key and must run the request.
	OutcomeNew Outcome = iota
	// OutcomeReplay means a completed response is stored for the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Record is the persisted state of one key.
type Record struct {
	Fingerprint string              `json:"fingerprint"`
	Status      Status              `json:"status"`
	StatusCode  int                 `json:"statusCode,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

// Response is the handler output saved for replay.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Store persists key reservations and responses. Keys passed in are already scoped to the caller.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

func pendingRecord(fingerprint string, expires time.Time) Record {
	return Record{Fingerprint: fingerprint, Status: StatusPending, ExpiresAt: expires}
}

func completedRecord(fingerprint string, resp Response, expires time.Time) Record {
	rec := Record{
		Fingerprint: fingerprint,
		Status:      StatusCompleted,
		StatusCode:  resp.StatusCode,
		Headers:     replayableHeaders(resp.Headers),
		ExpiresAt:   expires,
	}
	if len(resp.Body) > 0 {
		rec.Body = append([]byte(nil), resp.Body...)
	}
	return rec
}

// classify maps an existing record onto an outcome for a new request with fingerprint.
func classify(rec Record, fingerprint string) (Outcome, error) {
	if rec.Fingerprint != fingerprint {
		return OutcomeInFlight, ErrFingerprintMismatch
	}
	if rec.Status == StatusCompleted {
		return OutcomeReplay, nil
	}
	return OutcomeInFlight, nil
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

var hopByHop = map[string]struct{}{
	"Connection": {}, "Content-Length": {}, "Date": {}, "Keep-Alive": {}, "Proxy-Authenticate": {},
	"Proxy-Authorization": {}, "Te": {}, "Trailer": {}, "Transfer-Encoding": {}, "Upgrade": {},
}

func replayableHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopByHop[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
