package stock

import "time"

// =============================================================================
// CALENDAR - Date keys and day boundaries
// =============================================================================

const DateKeyLayout = "2006-01-02"

// Calendar maps instants to calendar days in one location. The zero value
// uses UTC.
type Calendar struct {
	Location *time.Location
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DateKey returns the YYYY-MM-DD key of the day containing t.
func (c Calendar) DateKey(t time.Time) string {
	return t.In(c.loc()).Format(DateKeyLayout)
}

// StartOfDay returns midnight of the day containing t.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	lt := t.In(c.loc())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc())
}

// Yesterday returns the date key of the day before the one containing t.
func (c Calendar) Yesterday(t time.Time) string {
	return c.DateKey(c.StartOfDay(t).AddDate(0, 0, -1))
}

// IsToday reports whether t falls on the same day as now.
func (c Calendar) IsToday(t, now time.Time) bool {
	return c.DateKey(t) == c.DateKey(now)
}
