package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"attendancesvc/internal/attendance"
)

const (
	exportSheet = "Attendance"
	xlsxType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (h *Handler) export(c *gin.Context) {
	recs, err := h.acc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, recs, h.acc.Location()); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="attendance.xlsx"`)
	c.Data(http.StatusOK, xlsxType, buf.Bytes())
}

// WriteWorkbook renders recs as a single-sheet workbook. The fixed columns
// come first, followed by every extra field seen, in name order. Dates are
// formatted in loc.
func WriteWorkbook(w io.Writer, recs []attendance.Record, loc *time.Location) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}

	header := []string{"id", attendance.FieldUserID, attendance.FieldAttendanceDate, attendance.FieldUploadedAt}
	extra := extraColumns(recs)
	header = append(header, extra...)

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	for i, name := range header {
		if err := f.SetCellValue(exportSheet, cell(i, 1), name); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(exportSheet, cell(0, 1), cell(len(header)-1, 1), style); err != nil {
		return err
	}

	for r, rec := range recs {
		row := r + 2
		values := []any{rec.ID, rec.UserID, formatTime(rec.AttendanceDate, loc), formatMillis(rec.UploadedAt, loc)}
		for _, k := range extra {
			values = append(values, cellValue(rec.Fields[k]))
		}
		for i, v := range values {
			if err := f.SetCellValue(exportSheet, cell(i, row), v); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	return f.Write(w)
}

func extraColumns(recs []attendance.Record) []string {
	seen := make(map[string]struct{})
	for _, rec := range recs {
		for k := range rec.Fields {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

func formatMillis(ms int64, loc *time.Location) string {
	if ms == 0 {
		return ""
	}
	return formatTime(time.UnixMilli(ms), loc)
}

// cellValue keeps scalars as-is and flattens nested values to JSON.
func cellValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
