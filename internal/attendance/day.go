package attendance

import "time"

// StartOfDay returns 00:00:00.000 of day's calendar date in loc, as epoch ms.
func StartOfDay(day time.Time, loc *time.Location) int64 {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).UnixMilli()
}

// EndOfDay returns 23:59:59.999 of day's calendar date in loc, as epoch ms.
func EndOfDay(day time.Time, loc *time.Location) int64 {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc).UnixMilli()
}
