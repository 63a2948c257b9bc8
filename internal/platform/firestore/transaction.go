package firestore

import (
	"context"
	"errors"
	"sync"

	"cloud.google.com/go/firestore"
)

type txKey struct{}

// Tx is the per-attempt state of a unit of work. Firestore requires every read to precede every write,
// so documents read earlier in the attempt are remembered and served to later read-modify-write steps.
// Deletes are remembered as tombstones.
type Tx struct {
	tx *firestore.Transaction

	mu    sync.Mutex
	seen  map[string]any
	wrote bool
}

// TxFromContext returns the transaction bound to ctx by RunInTx, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

func (t *Tx) remember(path string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[path] = value
}

func (t *Tx) recall(path string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.seen[path]
	return v, ok
}

func (t *Tx) markWrite() {
	t.mu.Lock()
	t.wrote = true
	t.mu.Unlock()
}

// checkRead rejects reads issued after a write in the same attempt.
func (t *Tx) checkRead(op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wrote {
		return WrapError(op, errors.New("firestore: read after write inside transaction"))
	}
	return nil
}
