// Package board turns a flat task snapshot into the weekly display
// buckets. Organize is a pure function of the snapshot, the viewed
// dates and the active filters; it owns the rollover rule that keeps
// an overdue Tuesday task reappearing on the viewed week's Tuesday.
package board

import (
	"strings"
	"time"

	"workboard/internal/domain"
	"workboard/internal/week"
)

// Filters narrows the board. An empty Status means all statuses.
type Filters struct {
	Search string
	Status string
}

// Item is a task decorated with read-time display state. IsRollover and
// OriginalDate exist only on the board; they are never written back.
type Item struct {
	domain.Task
	IsRollover   bool   `json:"is_rollover,omitempty"`
	OriginalDate string `json:"original_date,omitempty" format:"date"`
}

// Buckets is the organized board: the backlog plus one bucket per
// viewed date, each in snapshot insertion order.
type Buckets struct {
	Unassigned []Item            `json:"unassigned"`
	Days       map[string][]Item `json:"days"`
}

// Organize partitions a snapshot over the viewed dates. The dates are
// normally the seven days of one ISO week but may be a subset (a
// weekday-only view); a rollover whose weekday column is not among the
// viewed dates is simply not shown.
func Organize(snapshot []domain.Task, dates []time.Time, f Filters) Buckets {
	byIndex := make(map[int]string, len(dates))
	inWeek := make(map[string]string, len(dates))
	out := Buckets{Days: make(map[string][]Item, len(dates))}
	var first, last time.Time
	for i, d := range dates {
		d = week.Normalize(d)
		key := week.Format(d)
		byIndex[week.Index(d)] = key
		inWeek[key] = key
		out.Days[key] = []Item{}
		if i == 0 || d.Before(first) {
			first = d
		}
		if i == 0 || d.After(last) {
			last = d
		}
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	for _, t := range snapshot {
		if domain.Terminal(t.Status) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Title), search) {
			continue
		}
		if f.Status != "" && f.Status != t.Status {
			continue
		}
		if t.AssignedDate == nil {
			out.Unassigned = append(out.Unassigned, Item{Task: t})
			continue
		}
		assigned, err := week.Parse(*t.AssignedDate)
		if err != nil {
			// A malformed date cannot be placed; treat as backlog.
			out.Unassigned = append(out.Unassigned, Item{Task: t})
			continue
		}
		key := week.Format(assigned)
		switch {
		case inWeek[key] != "":
			out.Days[key] = append(out.Days[key], Item{Task: t})
		case assigned.Before(first):
			target, ok := byIndex[week.Index(assigned)]
			if !ok {
				continue
			}
			out.Days[target] = append(out.Days[target], Item{
				Task:         t,
				IsRollover:   true,
				OriginalDate: key,
			})
		default:
			// Future weeks stay invisible until viewed.
		}
	}
	return out
}
