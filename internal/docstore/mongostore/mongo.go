// Package mongostore backs docstore with MongoDB. Live queries use change
// streams, so the server must run as a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"attendancesvc/internal/docstore"
)

// Client serves collections of one Mongo database.
type Client struct {
	db     *mongo.Database
	logger *zap.Logger
}

// New wraps an open database handle.
func New(db *mongo.Database, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{db: db, logger: logger}
}

func (c *Client) Collection(name string) docstore.Collection {
	return &Collection{coll: c.db.Collection(name), logger: c.logger}
}

// Close disconnects the underlying Mongo client.
func (c *Client) Close(ctx context.Context) error {
	return c.db.Client().Disconnect(ctx)
}

// Collection maps document ids to ObjectID hex strings.
type Collection struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func (c *Collection) Name() string { return c.coll.Name() }

func (c *Collection) Add(ctx context.Context, fields map[string]any) (string, error) {
	oid := primitive.NewObjectID()
	body := bson.M{}
	for k, v := range fields {
		body[k] = v
	}
	body["_id"] = oid
	if _, err := c.coll.InsertOne(ctx, body); err != nil {
		return "", err
	}
	return oid.Hex(), nil
}

func (c *Collection) Get(ctx context.Context, id string) (docstore.Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return docstore.Document{}, docstore.ErrNotFound
	}
	var raw bson.M
	if err := c.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, err
	}
	return toDocument(raw), nil
}

func (c *Collection) Update(ctx context.Context, id string, fields map[string]any) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return docstore.ErrNotFound
	}
	if len(fields) == 0 {
		// Mongo rejects an empty $set; only existence is left to check
		_, err := c.Get(ctx, id)
		return err
	}
	res, err := c.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	_, err = c.coll.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}

func (c *Collection) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	cur, err := c.coll.Find(ctx, buildFilter(q), buildFindOptions(q))
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, err
	}
	docs := make([]docstore.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, toDocument(raw))
	}
	return docs, nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID primitive.ObjectID `bson:"_id"`
	} `bson:"documentKey"`
}

// Changes opens a change stream on the collection.
func (c *Collection) Changes(ctx context.Context) (<-chan docstore.Change, error) {
	cs, err := c.coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("open change stream: %w", err)
	}
	out := make(chan docstore.Change, 1)
	go func() {
		defer close(out)
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			var evt changeEvent
			if err := cs.Decode(&evt); err != nil {
				c.logger.Warn("change stream decode failed", zap.String("collection", c.Name()), zap.Error(err))
				continue
			}
			op, ok := changeOp(evt.OperationType)
			if !ok {
				if evt.OperationType == "invalidate" {
					return
				}
				continue
			}
			select {
			case out <- docstore.Change{Op: op, ID: evt.DocumentKey.ID.Hex()}:
			case <-ctx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("change stream ended", zap.String("collection", c.Name()), zap.Error(err))
		}
	}()
	return out, nil
}

func changeOp(operationType string) (docstore.ChangeOp, bool) {
	switch operationType {
	case "insert":
		return docstore.ChangeInsert, true
	case "update", "replace":
		return docstore.ChangeUpdate, true
	case "delete":
		return docstore.ChangeDelete, true
	}
	return "", false
}

var mongoOps = map[docstore.Op]string{
	docstore.OpEq:  "$eq",
	docstore.OpGt:  "$gt",
	docstore.OpGte: "$gte",
	docstore.OpLt:  "$lt",
	docstore.OpLte: "$lte",
}

// buildFilter folds filters on the same field into one operator document.
func buildFilter(q docstore.Query) bson.M {
	filter := bson.M{}
	for _, f := range q.Filters {
		cond, ok := filter[f.Field].(bson.M)
		if !ok {
			cond = bson.M{}
			filter[f.Field] = cond
		}
		cond[mongoOps[f.Op]] = f.Value
	}
	if q.OrderBy != "" {
		cond, ok := filter[q.OrderBy].(bson.M)
		if !ok {
			cond = bson.M{}
			filter[q.OrderBy] = cond
		}
		cond["$exists"] = true
	}
	return filter
}

func buildFindOptions(q docstore.Query) *options.FindOptions {
	opts := options.Find()
	if q.OrderBy != "" {
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: 1}, {Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func toDocument(raw bson.M) docstore.Document {
	doc := docstore.Document{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == "_id" {
			switch id := v.(type) {
			case primitive.ObjectID:
				doc.ID = id.Hex()
			case string:
				doc.ID = id
			default:
				doc.ID = fmt.Sprint(id)
			}
			continue
		}
		doc.Fields[k] = v
	}
	return doc
}
