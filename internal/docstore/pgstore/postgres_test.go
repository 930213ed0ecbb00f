package pgstore

import (
	"reflect"
	"testing"

	"attendancesvc/internal/docstore"
)

func TestBuildFindPlain(t *testing.T) {
	query, args, err := buildFind("attendance", docstore.Query{})
	if err != nil {
		t.Fatalf("buildFind: %v", err)
	}
	want := "SELECT id, body FROM documents WHERE collection = $1 ORDER BY seq"
	if query != want {
		t.Errorf("query = %q\nwant %q", query, want)
	}
	if !reflect.DeepEqual(args, []any{"attendance"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildFindUserAndDay(t *testing.T) {
	q := docstore.Query{}.
		Where("userId", docstore.OpEq, "u1").
		Where("attendanceDate", docstore.OpGte, int64(100)).
		Order("attendanceDate").
		Take(1)

	query, args, err := buildFind("attendance", q)
	if err != nil {
		t.Fatalf("buildFind: %v", err)
	}
	want := "SELECT id, body FROM documents WHERE collection = $1" +
		" AND jsonb_typeof(body -> $2::text) = jsonb_typeof($3::jsonb)" +
		" AND body -> $2::text = $3::jsonb" +
		" AND jsonb_typeof(body -> $4::text) = jsonb_typeof($5::jsonb)" +
		" AND body -> $4::text >= $5::jsonb" +
		" AND body -> $6::text IS NOT NULL" +
		" ORDER BY body -> $6::text, seq LIMIT $7"
	if query != want {
		t.Errorf("query = %q\nwant %q", query, want)
	}
	wantArgs := []any{"attendance", "userId", `"u1"`, "attendanceDate", "100", "attendanceDate", 1}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args = %#v\nwant %#v", args, wantArgs)
	}
}

func TestBuildFindRejectsUnknownOperator(t *testing.T) {
	_, _, err := buildFind("attendance", docstore.Query{Filters: []docstore.Filter{{Field: "x", Op: "!=", Value: 1}}})
	if err == nil {
		t.Error("expected error for unsupported operator")
	}
}
