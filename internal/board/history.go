package board

import (
	"sort"

	"workboard/internal/domain"
)

// History projects the completed and cancelled tasks, most recently
// finished first. Completion dates are fixed-width YYYY-MM-DD so plain
// string comparison orders them; tasks missing a completion date sort
// last. The sort is stable over snapshot order.
func History(snapshot []domain.Task) []domain.Task {
	var out []domain.Task
	for _, t := range snapshot {
		if domain.Terminal(t.Status) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CompletionDate, out[j].CompletionDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
	return out
}
