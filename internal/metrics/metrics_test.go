package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"attendancesvc/internal/docstore/memory"
)

func TestCollectionCountsResults(t *testing.T) {
	ctx := context.Background()
	m := New(prometheus.NewRegistry())
	coll := m.Client(memory.New(nil, nil)).Collection("attendance")

	id, err := coll.Add(ctx, map[string]any{"userId": "u1"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	_, _ = coll.Get(ctx, id)
	_, _ = coll.Get(ctx, "missing")
	_ = coll.Update(ctx, "missing", map[string]any{"x": 1})

	if got := testutil.ToFloat64(m.ops.WithLabelValues("attendance", "add", "ok")); got != 1 {
		t.Errorf("add ok = %v", got)
	}
	if got := testutil.ToFloat64(m.ops.WithLabelValues("attendance", "get", "ok")); got != 1 {
		t.Errorf("get ok = %v", got)
	}
	if got := testutil.ToFloat64(m.ops.WithLabelValues("attendance", "get", "not_found")); got != 1 {
		t.Errorf("get not_found = %v", got)
	}
	if got := testutil.ToFloat64(m.ops.WithLabelValues("attendance", "update", "not_found")); got != 1 {
		t.Errorf("update not_found = %v", got)
	}
}

func TestChangesTracksOpenSubscriptions(t *testing.T) {
	m := New(prometheus.NewRegistry())
	coll := m.Client(memory.New(nil, nil)).Collection("attendance")
	gauge := m.watchers.WithLabelValues("attendance")

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := coll.Changes(ctx)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("open subscriptions = %v", got)
	}

	cancel()
	for range ch {
	}
	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(gauge) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("gauge not decremented after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
