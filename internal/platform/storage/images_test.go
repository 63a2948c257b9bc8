package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

type recordingRemover struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingRemover) Remove(_ context.Context, bucket, object string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, bucket+"/"+object)
	return r.err
}

func TestImageStoreDeletesObject(t *testing.T) {
	remover := &recordingRemover{}
	store, err := NewImageStore("product-images", remover)
	if err != nil {
		t.Fatalf("NewImageStore: %v", err)
	}
	if err := store.DeleteFile(context.Background(), "products/p1.png"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if len(remover.calls) != 1 || remover.calls[0] != "product-images/products/p1.png" {
		t.Fatalf("unexpected calls %v", remover.calls)
	}
}

func TestImageStoreRejectsUnsafeNames(t *testing.T) {
	remover := &recordingRemover{}
	store, err := NewImageStore("bucket", remover)
	if err != nil {
		t.Fatalf("NewImageStore: %v", err)
	}
	for _, name := range []string{"", "  ", "/abs.png", "../escape.png", "a/../../b.png", "a//b.png"} {
		if err := store.DeleteFile(context.Background(), name); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
	if len(remover.calls) != 0 {
		t.Fatalf("remover must not be called, got %v", remover.calls)
	}
}

func TestImageStoreBreakerOpensAfterFailures(t *testing.T) {
	remover := &recordingRemover{err: errors.New("503 backend error")}
	store, err := NewImageStore("bucket", remover, WithTripFailures(2), WithBreakerTimeout(time.Hour))
	if err != nil {
		t.Fatalf("NewImageStore: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.DeleteFile(ctx, "p1.png"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if store.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", store.State())
	}
	if err := store.DeleteFile(ctx, "p1.png"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected fail fast, got %v", err)
	}
	if len(remover.calls) != 2 {
		t.Fatalf("open breaker must not reach the bucket, got %d calls", len(remover.calls))
	}
	if err := store.Check(ctx); err == nil {
		t.Fatal("expected health check to report the open breaker")
	}
}

func TestNewImageStoreValidates(t *testing.T) {
	if _, err := NewImageStore("", &recordingRemover{}); err == nil {
		t.Fatal("expected error for empty bucket")
	}
	if _, err := NewImageStore("bucket", nil); err == nil {
		t.Fatal("expected error for nil remover")
	}
	if _, err := NewGCSRemover(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
