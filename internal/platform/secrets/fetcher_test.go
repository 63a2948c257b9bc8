package secrets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/postgres-dsn/versions/latest"
	client.values[resource] = "postgres://app@db/shop"

	fetcher, err := NewFetcher(ctx, "shop", nil, WithClient(client))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://postgres-dsn")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if got != "postgres://app@db/shop" {
			t.Fatalf("unexpected value %q", got)
		}
	}
	if client.calls[resource] != 1 {
		t.Fatalf("expected one remote call, got %d", client.calls[resource])
	}
}

func TestResolveSecretHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/dsn/versions/3"] = "pinned"

	fetcher, err := NewFetcher(ctx, "shop", nil, WithClient(client))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.ResolveSecret(ctx, "sm://dsn?version=3&project=other")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned, got %q", got)
	}
}

func TestResolveSecretErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errs["projects/shop/secrets/denied/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, "shop", nil, WithClient(client))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.ResolveSecret(ctx, "secret://denied"); status.Code(errors.Unwrap(err)) != codes.PermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := fetcher.ResolveSecret(ctx, "https://example.com/x"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, err := fetcher.ResolveSecret(ctx, "secret://"); err == nil {
		t.Fatalf("expected missing name error")
	}
}
