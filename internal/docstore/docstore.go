// Package docstore defines the document collection contract the attendance
// accessor talks to. Backends live in subpackages (memory, mongostore, pgstore).
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a stored document: its store-assigned id plus a free-form body.
type Document struct {
	ID     string
	Fields map[string]any
}

// Op is a comparison operator usable in a Filter.
type Op string

const (
	OpEq  Op = "=="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Filter compares a top-level field against a value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of a collection. Zero Limit means unbounded.
type Query struct {
	Filters []Filter
	OrderBy string
	Limit   int
}

// Where returns a copy of q with an extra filter.
func (q Query) Where(field string, op Op, value any) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Order returns a copy of q ordered ascending by field.
func (q Query) Order(field string) Query {
	q.OrderBy = field
	return q
}

// Take returns a copy of q limited to n documents.
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// ChangeOp names the kind of write that produced a Change.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// Change notifies that a document of a collection was written.
type Change struct {
	Op ChangeOp
	ID string
}

// Collection is a named set of documents.
type Collection interface {
	Name() string
	// Add inserts doc and returns the id the store assigned.
	Add(ctx context.Context, fields map[string]any) (string, error)
	// Get returns ErrNotFound when id does not exist.
	Get(ctx context.Context, id string) (Document, error)
	// Update merges fields into the document; ErrNotFound when id does not exist.
	Update(ctx context.Context, id string, fields map[string]any) error
	// Delete removes id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	Find(ctx context.Context, q Query) ([]Document, error)
	// Changes streams write notifications until ctx ends.
	Changes(ctx context.Context) (<-chan Change, error)
}

// Client hands out collections of one database.
type Client interface {
	Collection(name string) Collection
	Close(ctx context.Context) error
}
