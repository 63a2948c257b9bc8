package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mercado-field/api/internal/platform/config"
)

const (
	dialTimeout = 10 * time.Second
	// txTimeout caps a unit of work, retries included, unless the caller's deadline is sooner.
	txTimeout  = 15 * time.Second
	txAttempts = 5

	pingCollection = "_health"
)

// ErrProviderClosed is returned once Close has run.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider owns the marketplace's Firestore client. It dials on first use and doubles as the
// backend's repositories.UnitOfWork through RunInTx.
type Provider struct {
	projectID string
	emulator  string

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// NewProvider resolves the project (falling back to GOOGLE_CLOUD_PROJECT) and emulator host
// (falling back to FIRESTORE_EMULATOR_HOST) without dialling.
func NewProvider(cfg config.FirestoreConfig) *Provider {
	p := &Provider{
		projectID: strings.TrimSpace(cfg.ProjectID),
		emulator:  strings.TrimSpace(cfg.EmulatorHost),
	}
	if p.projectID == "" {
		p.projectID = strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
	}
	if p.emulator == "" {
		p.emulator = strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	}
	return p
}

// Client returns the shared client. Concurrent first callers wait on a single dial.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	case p.projectID == "":
		return nil, errors.New("firestore: project id is required")
	}

	var opts []option.ClientOption
	if p.emulator != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(p.emulator),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, p.projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s: %w", p.projectID, err)
	}
	p.client = client
	return client, nil
}

// Ping reads a sentinel document. A missing document still proves the backend answers.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(pingCollection).Doc("ping").Get(ctx)
	if err = WrapError("ping", err); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// Close releases the client; later calls to Client fail with ErrProviderClosed.
func (p *Provider) Close(context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// RunInTx implements repositories.UnitOfWork. Collections used with the context handed to fn join the
// transaction, and a nested RunInTx joins the outer one. Firestore retries fn on contention, so fn
// must not have side effects outside the transaction.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		state := &Tx{tx: tx, seen: make(map[string]any)}
		return fn(context.WithValue(ctx, txKey{}, state))
	}, firestore.MaxAttempts(txAttempts))
	return WrapError("transaction", err)
}
