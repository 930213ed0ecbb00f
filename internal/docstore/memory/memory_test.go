package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendancesvc/internal/docstore"
	"attendancesvc/internal/feed"
)

func TestCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	coll := New(nil, nil).Collection("attendance")

	input := map[string]any{"userId": "u1", "status": "present"}
	id, err := coll.Add(ctx, input)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	input["status"] = "mutated"

	doc, err := coll.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Fields["status"] != "present" {
		t.Errorf("stored document aliases caller map: %v", doc.Fields)
	}

	if err := coll.Update(ctx, id, map[string]any{"status": "late", "note": "bus"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _ = coll.Get(ctx, id)
	if doc.Fields["status"] != "late" || doc.Fields["note"] != "bus" || doc.Fields["userId"] != "u1" {
		t.Errorf("update did not merge: %v", doc.Fields)
	}

	if err := coll.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := coll.Delete(ctx, id); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
	if _, err := coll.Get(ctx, id); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateMissingDocument(t *testing.T) {
	coll := New(nil, nil).Collection("attendance")
	err := coll.Update(context.Background(), "docA", map[string]any{"status": "present"})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindKeepsInsertionOrderForTies(t *testing.T) {
	ctx := context.Background()
	coll := New(nil, nil).Collection("attendance")
	var want []string
	for i := 0; i < 5; i++ {
		id, _ := coll.Add(ctx, map[string]any{"uploadedAt": int64(100)})
		want = append(want, id)
	}
	docs, err := coll.Find(ctx, docstore.Query{}.Order("uploadedAt"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	for i, d := range docs {
		if d.ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, d.ID, want[i])
		}
	}
}

func TestChangesAnnounceWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := feed.NewInMemory(8)
	client := New(broker, nil)
	coll := client.Collection("attendance")

	changes, err := coll.Changes(ctx)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}

	id, _ := coll.Add(ctx, map[string]any{"userId": "u1"})
	_ = coll.Update(ctx, id, map[string]any{"status": "present"})
	_ = coll.Delete(ctx, id)
	_ = client.Collection("other").Delete(ctx, "x")

	for _, op := range []docstore.ChangeOp{docstore.ChangeInsert, docstore.ChangeUpdate, docstore.ChangeDelete} {
		select {
		case ch := <-changes:
			if ch.Op != op || ch.ID != id {
				t.Errorf("got %+v want op %s id %s", ch, op, id)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", op)
		}
	}
}
