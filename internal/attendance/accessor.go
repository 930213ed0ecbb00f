package attendance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"attendancesvc/internal/docstore"
)

// CollectionName is the document collection backing attendance records.
const CollectionName = "attendance"

// Accessor maps attendance operations onto the attendance collection.
// Store errors are returned as-is.
type Accessor struct {
	coll   docstore.Collection
	now    func() time.Time
	loc    *time.Location
	logger *zap.Logger
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithClock overrides the clock used to stamp uploadedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Accessor) { a.now = now }
}

// WithLocation sets the zone that defines calendar days. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(a *Accessor) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Accessor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAccessor binds an accessor to client's attendance collection.
func NewAccessor(client docstore.Client, opts ...Option) *Accessor {
	a := &Accessor{
		coll:   client.Collection(CollectionName),
		now:    time.Now,
		loc:    time.Local,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Location returns the zone used for day boundaries.
func (a *Accessor) Location() *time.Location { return a.loc }

// Create stamps uploadedAt with the current time and inserts rec. It returns
// the id assigned by the store.
func (a *Accessor) Create(ctx context.Context, rec Record) (string, error) {
	stored, err := a.Insert(ctx, rec)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// Insert is Create returning the stored record, uploadedAt included.
func (a *Accessor) Insert(ctx context.Context, rec Record) (Record, error) {
	rec.ID = ""
	rec.UploadedAt = a.now().UnixMilli()
	id, err := a.coll.Add(ctx, rec.fields())
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	a.logger.Debug("attendance created", zap.String("id", id), zap.String("user_id", rec.UserID))
	return rec, nil
}

// Update merges fields into the record with id.
func (a *Accessor) Update(ctx context.Context, id string, fields map[string]any) error {
	return a.coll.Update(ctx, id, fields)
}

// Delete removes the record with id. Missing ids are not an error.
func (a *Accessor) Delete(ctx context.Context, id string) error {
	return a.coll.Delete(ctx, id)
}

func allQuery() docstore.Query {
	return docstore.Query{}.Order(FieldUploadedAt)
}

func sinceQuery(ts int64) docstore.Query {
	return docstore.Query{}.
		Where(FieldUploadedAt, docstore.OpGt, ts).
		Order(FieldUploadedAt)
}

func (a *Accessor) userDayQuery(userID string, day time.Time) docstore.Query {
	return docstore.Query{}.
		Where(FieldUserID, docstore.OpEq, userID).
		Where(FieldAttendanceDate, docstore.OpGte, StartOfDay(day, a.loc)).
		Where(FieldAttendanceDate, docstore.OpLte, EndOfDay(day, a.loc)).
		Order(FieldAttendanceDate).
		Take(1)
}

func (a *Accessor) find(q docstore.Query) docstore.Fetch {
	return func(ctx context.Context) ([]docstore.Document, error) {
		return a.coll.Find(ctx, q)
	}
}

func (a *Accessor) getOne(id string) docstore.Fetch {
	return func(ctx context.Context) ([]docstore.Document, error) {
		doc, err := a.coll.Get(ctx, id)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []docstore.Document{doc}, nil
	}
}

// List returns every record ordered by uploadedAt.
func (a *Accessor) List(ctx context.Context) ([]Record, error) {
	docs, err := a.find(allQuery())(ctx)
	if err != nil {
		return nil, err
	}
	return recordsFrom(docs)
}

// GetAll streams the whole collection ordered by uploadedAt, re-emitting it
// after every change.
func (a *Accessor) GetAll(ctx context.Context) *Stream[[]Record] {
	return newStream(ctx, docstore.Watch(ctx, a.coll, a.find(allQuery()), nil), recordsFrom)
}

// Get returns the record with id, or nil when it does not exist.
func (a *Accessor) Get(ctx context.Context, id string) (*Record, error) {
	docs, err := a.getOne(id)(ctx)
	if err != nil {
		return nil, err
	}
	return firstRecord(docs)
}

// GetByID streams the record with id, emitting nil while it does not exist.
func (a *Accessor) GetByID(ctx context.Context, id string) *Stream[*Record] {
	keep := func(ch docstore.Change) bool { return ch.ID == id }
	return newStream(ctx, docstore.Watch(ctx, a.coll, a.getOne(id), keep), firstRecord)
}

// ListSince returns records with uploadedAt strictly after ts, ascending.
func (a *Accessor) ListSince(ctx context.Context, ts int64) ([]Record, error) {
	docs, err := a.find(sinceQuery(ts))(ctx)
	if err != nil {
		return nil, err
	}
	return recordsFrom(docs)
}

// GetByUploadedTime streams records with uploadedAt strictly after ts.
func (a *Accessor) GetByUploadedTime(ctx context.Context, ts int64) *Stream[[]Record] {
	return newStream(ctx, docstore.Watch(ctx, a.coll, a.find(sinceQuery(ts)), nil), recordsFrom)
}

// FindByUserAndDay returns userID's record dated within day, or nil.
func (a *Accessor) FindByUserAndDay(ctx context.Context, userID string, day time.Time) (*Record, error) {
	docs, err := a.find(a.userDayQuery(userID, day))(ctx)
	if err != nil {
		return nil, err
	}
	return firstRecord(docs)
}

// GetByUserAndDay streams userID's record for the calendar day containing
// day, or nil when there is none. If several exist the earliest
// attendanceDate wins.
func (a *Accessor) GetByUserAndDay(ctx context.Context, userID string, day time.Time) *Stream[*Record] {
	q := a.userDayQuery(userID, day)
	return newStream(ctx, docstore.Watch(ctx, a.coll, a.find(q), nil), firstRecord)
}
