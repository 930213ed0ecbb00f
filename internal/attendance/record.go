package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"attendancesvc/internal/docstore"
)

// Field names of the stored document.
const (
	FieldUserID         = "userId"
	FieldAttendanceDate = "attendanceDate"
	FieldUploadedAt     = "uploadedAt"
)

// Record is one attendance document. AttendanceDate is persisted as epoch
// milliseconds so range queries compare numbers on every backend.
type Record struct {
	ID             string
	UserID         string
	AttendanceDate time.Time
	// UploadedAt is epoch milliseconds, stamped by Accessor.Create.
	UploadedAt int64
	// Fields carries caller-defined fields verbatim.
	Fields map[string]any
}

// fields flattens the record into a document body.
func (r Record) fields() map[string]any {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	delete(out, "id")
	if r.UserID != "" {
		out[FieldUserID] = r.UserID
	}
	if !r.AttendanceDate.IsZero() {
		out[FieldAttendanceDate] = r.AttendanceDate.UnixMilli()
	}
	if r.UploadedAt != 0 {
		out[FieldUploadedAt] = r.UploadedAt
	}
	return out
}

// MarshalJSON writes the record as a flat object with dates in milliseconds.
func (r Record) MarshalJSON() ([]byte, error) {
	out := r.fields()
	out["id"] = r.ID
	return json.Marshal(out)
}

// UnmarshalJSON accepts the flat form written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec, err := ParseRecord(raw)
	if err != nil {
		return err
	}
	if id, ok := raw["id"].(string); ok {
		rec.ID = id
	}
	*r = rec
	return nil
}

var (
	errUserIDType = errors.New("userId must be a string")
	errDateType   = errors.New("attendanceDate must be epoch milliseconds or an RFC 3339 string")
)

// ParseRecord builds a record from a loosely typed field map, such as a
// decoded request body. attendanceDate may be epoch milliseconds or RFC 3339.
// An incoming "id" is ignored.
func ParseRecord(raw map[string]any) (Record, error) {
	var rec Record
	rec.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "id":
		case FieldUserID:
			s, ok := v.(string)
			if !ok {
				return Record{}, errUserIDType
			}
			rec.UserID = s
		case FieldAttendanceDate:
			if s, ok := v.(string); ok {
				t, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return Record{}, fmt.Errorf("%w: %v", errDateType, err)
				}
				rec.AttendanceDate = t
				continue
			}
			ms, ok := toMillis(v)
			if !ok {
				return Record{}, errDateType
			}
			rec.AttendanceDate = time.UnixMilli(ms)
		case FieldUploadedAt:
			if ms, ok := toMillis(v); ok {
				rec.UploadedAt = ms
			}
		default:
			rec.Fields[k] = v
		}
	}
	return rec, nil
}

// fromDocument decodes a stored document. Unknown value shapes for the typed
// fields are left in Fields rather than rejected.
func fromDocument(doc docstore.Document) Record {
	rec := Record{ID: doc.ID, Fields: make(map[string]any, len(doc.Fields))}
	for k, v := range doc.Fields {
		switch k {
		case FieldUserID:
			if s, ok := v.(string); ok {
				rec.UserID = s
				continue
			}
		case FieldAttendanceDate:
			if ms, ok := toMillis(v); ok {
				rec.AttendanceDate = time.UnixMilli(ms)
				continue
			}
		case FieldUploadedAt:
			if ms, ok := toMillis(v); ok {
				rec.UploadedAt = ms
				continue
			}
		}
		rec.Fields[k] = v
	}
	return rec
}

type timeValue interface {
	Time() time.Time
}

func toMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case time.Time:
		return n.UnixMilli(), true
	case timeValue:
		// bson DateTime and friends
		return n.Time().UnixMilli(), true
	}
	return 0, false
}

func recordsFrom(docs []docstore.Document) ([]Record, error) {
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDocument(d))
	}
	return out, nil
}

func firstRecord(docs []docstore.Document) (*Record, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	rec := fromDocument(docs[0])
	return &rec, nil
}

// PatchFields validates a partial update the way ParseRecord does and returns
// the fields in their stored form. "id" is dropped.
func PatchFields(raw map[string]any) (map[string]any, error) {
	rec, err := ParseRecord(raw)
	if err != nil {
		return nil, err
	}
	out := rec.fields()
	if v, ok := raw[FieldUserID]; ok {
		out[FieldUserID] = v
	}
	return out, nil
}
