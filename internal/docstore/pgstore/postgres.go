// Package pgstore keeps documents as JSONB rows in Postgres. Postgres has no
// change stream of its own here, so every write is announced on a feed.Broker.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendancesvc/internal/docstore"
	"attendancesvc/internal/feed"
)

// Client serves collections stored in the documents table.
type Client struct {
	db     *sql.DB
	broker feed.Broker
	logger *zap.Logger
}

// New creates a client over a migrated database.
func New(db *sql.DB, broker feed.Broker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{db: db, broker: broker, logger: logger}
}

func (c *Client) Collection(name string) docstore.Collection {
	return &Collection{name: name, db: c.db, broker: c.broker, logger: c.logger}
}

// Close closes the database pool.
func (c *Client) Close(context.Context) error {
	return c.db.Close()
}

// Collection is one value of the documents.collection column.
type Collection struct {
	name   string
	db     *sql.DB
	broker feed.Broker
	logger *zap.Logger
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Add(ctx context.Context, fields map[string]any) (string, error) {
	body, err := json.Marshal(nonNil(fields))
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	id := uuid.NewString()
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body)
		VALUES ($1, $2, $3::jsonb)
	`, c.name, id, string(body)); err != nil {
		return "", err
	}
	c.announce(ctx, docstore.Change{Op: docstore.ChangeInsert, ID: id})
	return id, nil
}

func (c *Collection) Get(ctx context.Context, id string) (docstore.Document, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, body FROM documents WHERE collection = $1 AND id = $2
	`, c.name, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return doc, err
}

func (c *Collection) Update(ctx context.Context, id string, fields map[string]any) error {
	patch, err := json.Marshal(nonNil(fields))
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE documents
		SET body = body || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`, c.name, id, string(patch))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return docstore.ErrNotFound
	}
	c.announce(ctx, docstore.Change{Op: docstore.ChangeUpdate, ID: id})
	return nil
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, c.name, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		c.announce(ctx, docstore.Change{Op: docstore.ChangeDelete, ID: id})
	}
	return nil
}

func (c *Collection) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query, args, err := buildFind(c.name, q)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []docstore.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
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

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (docstore.Document, error) {
	var (
		doc  docstore.Document
		body []byte
	)
	if err := s.Scan(&doc.ID, &body); err != nil {
		return docstore.Document{}, err
	}
	if err := json.Unmarshal(body, &doc.Fields); err != nil {
		return docstore.Document{}, fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	return doc, nil
}

func nonNil(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}

var sqlOps = map[docstore.Op]string{
	docstore.OpEq:  "=",
	docstore.OpGt:  ">",
	docstore.OpGte: ">=",
	docstore.OpLt:  "<",
	docstore.OpLte: "<=",
}

// buildFind renders q as SQL. Field names travel as parameters; comparisons
// are restricted to values of the same JSON type.
func buildFind(collection string, q docstore.Query) (string, []any, error) {
	args := []any{collection}
	clauses := []string{"collection = $1"}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, f := range q.Filters {
		op, ok := sqlOps[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter value for %s: %w", f.Field, err)
		}
		key := next(f.Field)
		ph := next(string(val))
		clauses = append(clauses,
			fmt.Sprintf("jsonb_typeof(body -> %s::text) = jsonb_typeof(%s::jsonb)", key, ph),
			fmt.Sprintf("body -> %s::text %s %s::jsonb", key, op, ph),
		)
	}

	order := "seq"
	if q.OrderBy != "" {
		key := next(q.OrderBy)
		clauses = append(clauses, fmt.Sprintf("body -> %s::text IS NOT NULL", key))
		order = fmt.Sprintf("body -> %s::text, seq", key)
	}

	query := "SELECT id, body FROM documents WHERE " + strings.Join(clauses, " AND ") + " ORDER BY " + order
	if q.Limit > 0 {
		query += " LIMIT " + next(q.Limit)
	}
	return query, args, nil
}
