// Package week implements the ISO-8601 week arithmetic behind the
// board: week numbering, the Monday..Sunday dates of a week, and the
// Monday=0 weekday index. Everything here works on civil calendar
// dates pinned to UTC midnight so a weekday never shifts with the
// caller's time zone.
package week

import "time"

// Layout is the civil date format used everywhere in the store.
const Layout = "2006-01-02"

// Parse reads a YYYY-MM-DD date into a normalized civil date.
func Parse(s string) (time.Time, error) {
	return time.ParseInLocation(Layout, s, time.UTC)
}

// Format renders a civil date as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Normalize strips the wall-clock part of t, keeping only its calendar
// date in UTC.
func Normalize(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Of returns the ISO-8601 week number and week-based year containing t.
// Near year boundaries the week year may differ from the calendar year:
// the week belongs to the year owning its Thursday.
func Of(t time.Time) (week, year int) {
	year, week = Normalize(t).ISOWeek()
	return week, year
}

// Index maps a date to its weekday index, Monday=0 through Sunday=6.
func Index(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Dates returns the seven consecutive dates of the given ISO week,
// Monday first. It is the exact inverse of Of for every date that maps
// into that week.
func Dates(week, year int) [7]time.Time {
	// January 4th is always inside week 1 of its ISO year.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -Index(jan4)).AddDate(0, 0, (week-1)*7)
	var days [7]time.Time
	for i := range days {
		days[i] = monday.AddDate(0, 0, i)
	}
	return days
}

// Monday returns the first day of the ISO week containing t.
func Monday(t time.Time) time.Time {
	return Normalize(t).AddDate(0, 0, -Index(t))
}
