package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attendancesvc/internal/docstore"
	"attendancesvc/internal/docstore/memory"
)

// stepClock returns start, start+1ms, start+2ms, ...
type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Millisecond)
	return t
}

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestAccessor(t *testing.T) (*Accessor, *stepClock) {
	t.Helper()
	clock := &stepClock{next: testStart}
	acc := NewAccessor(memory.New(nil, nil), WithClock(clock.Now), WithLocation(time.UTC))
	return acc, clock
}

func next[T any](t *testing.T, s *Stream[T]) Update[T] {
	t.Helper()
	select {
	case u, ok := <-s.Updates():
		if !ok {
			t.Fatal("stream closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	var zero Update[T]
	return zero
}

func await[T any](t *testing.T, s *Stream[T], cond func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-s.Updates():
			if !ok {
				t.Fatal("stream closed")
			}
			if u.Err != nil {
				t.Fatalf("stream error: %v", u.Err)
			}
			if cond(u.Value) {
				return u.Value
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching update")
		}
	}
}

func TestCreateStampsUploadedAt(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)

	date := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	id, err := acc.Create(ctx, Record{
		UserID:         "u1",
		AttendanceDate: date,
		UploadedAt:     42,
		Fields:         map[string]any{"status": "present", "room": "B2"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := acc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil {
		t.Fatal("record not found")
	}
	if rec.UploadedAt != testStart.UnixMilli() {
		t.Errorf("uploadedAt = %d want %d", rec.UploadedAt, testStart.UnixMilli())
	}
	if rec.UserID != "u1" || !rec.AttendanceDate.Equal(date) {
		t.Errorf("typed fields changed: %+v", rec)
	}
	if rec.Fields["status"] != "present" || rec.Fields["room"] != "B2" || len(rec.Fields) != 2 {
		t.Errorf("extra fields changed: %v", rec.Fields)
	}
}

func TestListOrderedByUploadedAt(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	for _, u := range []string{"a", "b", "c"} {
		if _, err := acc.Create(ctx, Record{UserID: u}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	recs, err := acc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].UploadedAt < recs[i-1].UploadedAt {
			t.Errorf("records out of order at %d: %d < %d", i, recs[i].UploadedAt, recs[i-1].UploadedAt)
		}
	}
}

func TestListSinceIsStrict(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	var stamps []int64
	for i := 0; i < 4; i++ {
		id, _ := acc.Create(ctx, Record{UserID: "u"})
		rec, _ := acc.Get(ctx, id)
		stamps = append(stamps, rec.UploadedAt)
	}

	recs, err := acc.ListSince(ctx, stamps[1])
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records after %d, got %d", stamps[1], len(recs))
	}
	for _, r := range recs {
		if r.UploadedAt <= stamps[1] {
			t.Errorf("record %s uploadedAt %d not after %d", r.ID, r.UploadedAt, stamps[1])
		}
	}
}

func TestFindByUserAndDay(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)

	id, err := acc.Create(ctx, Record{UserID: "u1", AttendanceDate: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _ = acc.Create(ctx, Record{UserID: "u2", AttendanceDate: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)})

	rec, err := acc.FindByUserAndDay(ctx, "u1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec == nil || rec.ID != id {
		t.Fatalf("expected record %s, got %+v", id, rec)
	}

	rec, err = acc.FindByUserAndDay(ctx, "u1", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for next day, got %+v", rec)
	}
}

func TestFindByUserAndDayBoundaries(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	day := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		at    time.Time
		found bool
	}{
		{"midnight", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"last millisecond", time.Date(2024, 5, 1, 23, 59, 59, int(999*time.Millisecond), time.UTC), true},
		{"previous day", time.Date(2024, 4, 30, 23, 59, 59, int(999*time.Millisecond), time.UTC), false},
		{"next midnight", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := "user-" + tt.name
			if _, err := acc.Create(ctx, Record{UserID: user, AttendanceDate: tt.at}); err != nil {
				t.Fatalf("create: %v", err)
			}
			rec, err := acc.FindByUserAndDay(ctx, user, day)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if (rec != nil) != tt.found {
				t.Errorf("found = %v want %v", rec != nil, tt.found)
			}
		})
	}
}

func TestFindByUserAndDayPicksEarliest(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	_, _ = acc.Create(ctx, Record{UserID: "u1", AttendanceDate: time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)})
	early, _ := acc.Create(ctx, Record{UserID: "u1", AttendanceDate: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)})

	rec, err := acc.FindByUserAndDay(ctx, "u1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec == nil || rec.ID != early {
		t.Errorf("expected earliest record %s, got %+v", early, rec)
	}
}

func TestDayUsesAccessorLocation(t *testing.T) {
	ctx := context.Background()
	zone := time.FixedZone("UTC+10", 10*60*60)
	acc := NewAccessor(memory.New(nil, nil), WithLocation(zone))

	// 2024-05-01 22:00 UTC is 2024-05-02 08:00 at UTC+10
	if _, err := acc.Create(ctx, Record{UserID: "u1", AttendanceDate: time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, _ := acc.FindByUserAndDay(ctx, "u1", time.Date(2024, 5, 2, 12, 0, 0, 0, zone))
	if rec == nil {
		t.Error("expected record on 2024-05-02 in UTC+10")
	}
	rec, _ = acc.FindByUserAndDay(ctx, "u1", time.Date(2024, 5, 1, 12, 0, 0, 0, zone))
	if rec != nil {
		t.Error("did not expect record on 2024-05-01 in UTC+10")
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	acc, _ := newTestAccessor(t)
	err := acc.Update(context.Background(), "docA", map[string]any{"status": "present"})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	id, _ := acc.Create(ctx, Record{UserID: "u1", Fields: map[string]any{"status": "late"}})

	if err := acc.Update(ctx, id, map[string]any{"status": "present", "note": "ok"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, _ := acc.Get(ctx, id)
	if rec.UserID != "u1" || rec.Fields["status"] != "present" || rec.Fields["note"] != "ok" {
		t.Errorf("unexpected record after update: %+v", rec)
	}
}

func TestDeleteThenGetByID(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	id, _ := acc.Create(ctx, Record{UserID: "u1"})

	if err := acc.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := acc.Delete(ctx, id); err != nil {
		t.Errorf("repeated delete: %v", err)
	}

	s := acc.GetByID(ctx, id)
	defer s.Cancel()
	u := next(t, s)
	if u.Err != nil {
		t.Fatalf("stream error: %v", u.Err)
	}
	if u.Value != nil {
		t.Errorf("expected nil record, got %+v", u.Value)
	}
}

func TestGetAllReemitsOnChange(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	_, _ = acc.Create(ctx, Record{UserID: "first"})

	s := acc.GetAll(ctx)
	defer s.Cancel()
	await(t, s, func(recs []Record) bool { return len(recs) == 1 })

	id, _ := acc.Create(ctx, Record{UserID: "second"})
	recs := await(t, s, func(recs []Record) bool { return len(recs) == 2 })
	if recs[0].UserID != "first" || recs[1].UserID != "second" {
		t.Errorf("unexpected order: %+v", recs)
	}

	_ = acc.Delete(ctx, id)
	await(t, s, func(recs []Record) bool { return len(recs) == 1 })
}

func TestGetByUploadedTimeStream(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	id, _ := acc.Create(ctx, Record{UserID: "old"})
	old, _ := acc.Get(ctx, id)

	s := acc.GetByUploadedTime(ctx, old.UploadedAt)
	defer s.Cancel()
	await(t, s, func(recs []Record) bool { return len(recs) == 0 })

	_, _ = acc.Create(ctx, Record{UserID: "new"})
	recs := await(t, s, func(recs []Record) bool { return len(recs) == 1 })
	if recs[0].UserID != "new" {
		t.Errorf("unexpected record %+v", recs[0])
	}
}

func TestGetByUserAndDayStream(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccessor(t)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	s := acc.GetByUserAndDay(ctx, "u1", day)
	defer s.Cancel()
	if got := await(t, s, func(*Record) bool { return true }); got != nil {
		t.Fatalf("expected nil before check-in, got %+v", got)
	}

	id, _ := acc.Create(ctx, Record{UserID: "u1", AttendanceDate: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)})
	got := await(t, s, func(r *Record) bool { return r != nil })
	if got.ID != id {
		t.Errorf("expected %s, got %s", id, got.ID)
	}
}

func TestStreamCancel(t *testing.T) {
	acc, _ := newTestAccessor(t)
	s := acc.GetAll(context.Background())
	s.Cancel()
	for range s.Updates() {
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Cancel")
	}
}

func TestStreamEndsWithContext(t *testing.T) {
	acc, _ := newTestAccessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := acc.GetAll(ctx)
	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after context cancel")
	}
}

// closedFeed is a client whose collections report a change source that
// stops immediately.
type closedFeed struct{ docstore.Client }

func (c closedFeed) Collection(name string) docstore.Collection {
	return closedChanges{c.Client.Collection(name)}
}

type closedChanges struct{ docstore.Collection }

func (closedChanges) Changes(context.Context) (<-chan docstore.Change, error) {
	ch := make(chan docstore.Change)
	close(ch)
	return ch, nil
}

func TestStreamReportsClosedFeed(t *testing.T) {
	acc := NewAccessor(closedFeed{memory.New(nil, nil)}, WithLocation(time.UTC))
	s := acc.GetAll(context.Background())
	defer s.Cancel()

	var last Update[[]Record]
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-s.Updates():
			if !ok {
				if !errors.Is(last.Err, docstore.ErrFeedClosed) {
					t.Fatalf("last update err = %v", last.Err)
				}
				return
			}
			last = u
		case <-deadline:
			t.Fatal("stream did not end")
		}
	}
}

func TestStreamCancelTwice(t *testing.T) {
	acc, _ := newTestAccessor(t)
	s := acc.GetByID(context.Background(), "x")
	s.Cancel()
	s.Cancel()
}
