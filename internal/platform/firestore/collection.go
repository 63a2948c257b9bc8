package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides typed access to one collection. Every method joins the transaction bound to ctx
// by Provider.RunInTx when there is one and talks to the client directly otherwise.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection helper to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Get fetches and decodes a document. Inside a transaction a document already read is served from memory.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}

	tx, inTx := TxFromContext(ctx)
	if inTx {
		if cached, ok := tx.recall(ref.Path); ok {
			if doc, ok := cached.(Document[T]); ok {
				return doc, nil
			}
			return Document[T]{}, newNotFound(c.op("get"), id)
		}
		if err := tx.checkRead(c.op("get")); err != nil {
			return Document[T]{}, err
		}
	}

	var snap *firestore.DocumentSnapshot
	if inTx {
		snap, err = tx.tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	doc, err := decode[T](snap)
	if err != nil {
		return Document[T]{}, err
	}
	if inTx {
		tx.remember(ref.Path, doc)
	}
	return doc, nil
}

// GetAll fetches several documents in one round trip, preserving the order of ids.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) ([]Document[T], error) {
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		ref, err := c.Ref(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	tx, inTx := TxFromContext(ctx)
	var (
		snaps []*firestore.DocumentSnapshot
		err   error
	)
	if inTx {
		if err := tx.checkRead(c.op("get_all")); err != nil {
			return nil, err
		}
		snaps, err = tx.tx.GetAll(refs)
	} else {
		client, cerr := c.provider.Client(ctx)
		if cerr != nil {
			return nil, cerr
		}
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, WrapError(c.op("get_all"), err)
	}

	docs := make([]Document[T], 0, len(snaps))
	for i, snap := range snaps {
		if !snap.Exists() {
			return nil, newNotFound(c.op("get_all"), ids[i])
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		if inTx {
			tx.remember(refs[i].Path, doc)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Query executes a collection query and returns the decoded documents.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TxFromContext(ctx); ok {
		if err := tx.checkRead(c.op("query")); err != nil {
			return nil, err
		}
		iter = tx.tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Create writes a new document and fails with a conflict when it already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	return c.write(ctx, "create", id, &value, func(ref *firestore.DocumentRef, tx *firestore.Transaction) error {
		if tx != nil {
			return tx.Create(ref, value)
		}
		_, err := ref.Create(ctx, value)
		return err
	})
}

// Set upserts the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	return c.write(ctx, "set", id, &value, func(ref *firestore.DocumentRef, tx *firestore.Transaction) error {
		if tx != nil {
			return tx.Set(ref, value)
		}
		_, err := ref.Set(ctx, value)
		return err
	})
}

// Delete removes the document. Deleting a missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.write(ctx, "delete", id, nil, func(ref *firestore.DocumentRef, tx *firestore.Transaction) error {
		if tx != nil {
			return tx.Delete(ref)
		}
		_, err := ref.Delete(ctx)
		return err
	})
}

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection[T]) write(ctx context.Context, action, id string, value *T, apply func(*firestore.DocumentRef, *firestore.Transaction) error) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	tx, inTx := TxFromContext(ctx)
	if !inTx {
		return WrapError(c.op(action), apply(ref, nil))
	}
	if err := apply(ref, tx.tx); err != nil {
		return WrapError(c.op(action), err)
	}
	tx.markWrite()
	// Later steps of the same attempt see the written state.
	if value != nil {
		tx.remember(ref.Path, Document[T]{ID: id, Data: *value})
	} else {
		tx.remember(ref.Path, tombstone{})
	}
	return nil
}

// tombstone marks a document deleted earlier in the transaction.
type tombstone struct{}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}
