package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Doc is a decoded document together with its id.
type Doc[T any] struct {
	ID   string
	Data T
}

// Collection reads and writes documents of one shape under a collection path.
// Paths may address subcollections, e.g. "traceSessions/s-1/questions".
type Collection[T any] struct {
	provider *Provider
	path     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, path string) *Collection[T] {
	return &Collection[T]{provider: provider, path: strings.Trim(strings.TrimSpace(path), "/")}
}

// Child returns the typed subcollection segment below document id.
func Child[T any, P any](parent *Collection[P], id, segment string) *Collection[T] {
	return NewCollection[T](parent.provider, parent.path+"/"+id+"/"+segment)
}

// Ref resolves the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("ref"), errors.New("document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get fetches and decodes one document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Doc[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Doc[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Doc[T]{}, WrapError(c.op("get"), err)
	}
	return c.decode(snap)
}

// Set overwrites the document with value.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, value)
	return WrapError(c.op("set"), err)
}

// SetAll writes every entry through a BulkWriter. Individual write failures are joined.
func (c *Collection[T]) SetAll(ctx context.Context, values map[string]T) error {
	if len(values) == 0 {
		return nil
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return err
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return err
	}

	writer := client.BulkWriter(ctx)
	jobs := make(map[string]*firestore.BulkWriterJob, len(values))
	var errs []error
	for id, value := range values {
		job, err := writer.Set(coll.Doc(id), value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		jobs[id] = job
	}
	writer.End()

	for id, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return WrapError(c.op("setAll"), errors.Join(errs...))
	}
	return nil
}

// OrderedBy returns every document sorted ascending by field.
func (c *Collection[T]) OrderedBy(ctx context.Context, field string) ([]Doc[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy(field, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var docs []Doc[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := c.decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

func (c *Collection[T]) decode(snap *firestore.DocumentSnapshot) (Doc[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Doc[T]{}, fmt.Errorf("%s: decode %s: %w", c.op("decode"), snap.Ref.ID, err)
	}
	return Doc[T]{ID: snap.Ref.ID, Data: data}, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if c.path == "" {
		return nil, errors.New("firestore: collection path is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.path), nil
}

func (c *Collection[T]) op(action string) string {
	return c.path + "." + action
}
