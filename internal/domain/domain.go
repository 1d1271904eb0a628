package domain

// Task statuses. Any status may move to any other; completed and
// cancelled carry a completion date, the rest never do.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusOnHold     = "on_hold"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Statuses lists every task status in display order.
var Statuses = []string{
	StatusNotStarted,
	StatusInProgress,
	StatusOnHold,
	StatusCompleted,
	StatusCancelled,
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether a status carries a completion date and
// excludes the task from the weekly board.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

type Task struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"owner_id"`
	Title          string   `json:"title"`
	Type           string   `json:"type,omitempty"`
	Status         string   `json:"status" enum:"not_started,in_progress,on_hold,completed,cancelled"`
	Notes          string   `json:"notes,omitempty"`
	AssignedDate   *string  `json:"assigned_date,omitempty" format:"date"`
	CompletionDate *string  `json:"completion_date,omitempty" format:"date"`
	Assignees      []string `json:"assignees,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// Ledger entry kinds.
const (
	LedgerIncome  = "income"
	LedgerExpense = "expense"
)

// LedgerEntry is a flat income/expense record, optionally linked to a
// task. The link may dangle after a task delete; readers resolve that
// to "no task", never an error.
type LedgerEntry struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Kind        string  `json:"kind" enum:"income,expense"`
	Label       string  `json:"label"`
	AmountCents int64   `json:"amount_cents"`
	EntryDate   string  `json:"entry_date" format:"date"`
	TaskID      *string `json:"task_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
