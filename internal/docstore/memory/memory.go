// Package memory is an in-process docstore backend for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendancesvc/internal/docstore"
	"attendancesvc/internal/feed"
)

// Client holds every collection in memory.
type Client struct {
	broker feed.Broker
	logger *zap.Logger

	mu    sync.Mutex
	colls map[string]*Collection
}

// New creates an empty store. A nil broker gets a private in-memory one.
func New(broker feed.Broker, logger *zap.Logger) *Client {
	if broker == nil {
		broker = feed.NewInMemory(64)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{broker: broker, logger: logger, colls: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use.
func (c *Client) Collection(name string) docstore.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	coll, ok := c.colls[name]
	if !ok {
		coll = &Collection{
			name:   name,
			broker: c.broker,
			logger: c.logger,
			docs:   make(map[string]entry),
		}
		c.colls[name] = coll
	}
	return coll
}

// Close is a no-op.
func (c *Client) Close(context.Context) error { return nil }

type entry struct {
	seq    int64
	fields map[string]any
}

// Collection is a map of documents plus an insertion counter that gives Find
// a stable order for ties.
type Collection struct {
	name   string
	broker feed.Broker
	logger *zap.Logger

	mu   sync.RWMutex
	seq  int64
	docs map[string]entry
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Add(ctx context.Context, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.seq++
	c.docs[id] = entry{seq: c.seq, fields: docstore.CloneFields(fields)}
	c.mu.Unlock()

	c.announce(ctx, docstore.Change{Op: docstore.ChangeInsert, ID: id})
	return id, nil
}

func (c *Collection) Get(ctx context.Context, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.docs[id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Fields: docstore.CloneFields(e.fields)}, nil
}

func (c *Collection) Update(ctx context.Context, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	e, ok := c.docs[id]
	if !ok {
		c.mu.Unlock()
		return docstore.ErrNotFound
	}
	merged := docstore.CloneFields(e.fields)
	for k, v := range fields {
		merged[k] = v
	}
	c.docs[id] = entry{seq: e.seq, fields: merged}
	c.mu.Unlock()

	c.announce(ctx, docstore.Change{Op: docstore.ChangeUpdate, ID: id})
	return nil
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	_, existed := c.docs[id]
	delete(c.docs, id)
	c.mu.Unlock()

	if existed {
		c.announce(ctx, docstore.Change{Op: docstore.ChangeDelete, ID: id})
	}
	return nil
}

func (c *Collection) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	type seqDoc struct {
		seq int64
		doc docstore.Document
	}
	all := make([]seqDoc, 0, len(c.docs))
	for id, e := range c.docs {
		all = append(all, seqDoc{seq: e.seq, doc: docstore.Document{ID: id, Fields: docstore.CloneFields(e.fields)}})
	}
	c.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	docs := make([]docstore.Document, len(all))
	for i, sd := range all {
		docs[i] = sd.doc
	}
	return docstore.Apply(docs, q), nil
}

func (c *Collection) Changes(ctx context.Context) (<-chan docstore.Change, error) {
	return feed.Changes(ctx, c.broker, c.name)
}

func (c *Collection) announce(ctx context.Context, ch docstore.Change) {
	if err := feed.Announce(ctx, c.broker, c.name, ch); err != nil {
		c.logger.Warn("change announce failed",
			zap.String("collection", c.name),
			zap.String("id", ch.ID),
			zap.Error(err),
		)
	}
}
