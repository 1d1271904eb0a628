package server

import (
	"workboard/internal/board"
	"workboard/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	Title        string   `json:"title"`
	Type         string   `json:"type,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	AssignedDate *string  `json:"assigned_date,omitempty" format:"date"`
	Assignees    []string `json:"assignees,omitempty"`
}

type UpdateTaskRequest struct {
	Title     *string   `json:"title,omitempty"`
	Type      *string   `json:"type,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	Assignees *[]string `json:"assignees,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"not_started,in_progress,on_hold,completed,cancelled"`
}

// ReassignRequest moves a task to a day; a null (or absent) target
// date drops it onto the backlog.
type ReassignRequest struct {
	TargetDate *string `json:"target_date,omitempty" format:"date"`
}

type CreateLedgerEntryRequest struct {
	Kind        string  `json:"kind" enum:"income,expense"`
	Label       string  `json:"label"`
	AmountCents int64   `json:"amount_cents"`
	EntryDate   string  `json:"entry_date,omitempty" format:"date"`
	TaskID      *string `json:"task_id,omitempty"`
}

// Response payloads

type BoardResponse struct {
	Week       int                     `json:"week"`
	Year       int                     `json:"year"`
	Dates      []string                `json:"dates"`
	Today      string                  `json:"today" format:"date"`
	Unassigned []board.Item            `json:"unassigned"`
	Days       map[string][]board.Item `json:"days"`
}

// LedgerEntryResponse includes the resolved task title when the link
// is live; a dangling link renders with no task, never an error.
type LedgerEntryResponse struct {
	domain.LedgerEntry
	TaskTitle string `json:"task_title,omitempty"`
}

type LedgerTotalResponse struct {
	TotalCents int64 `json:"total_cents"`
}

func boardResponse(week, year int, dates []string, today string, b board.Buckets) BoardResponse {
	if b.Unassigned == nil {
		b.Unassigned = []board.Item{}
	}
	return BoardResponse{
		Week:       week,
		Year:       year,
		Dates:      dates,
		Today:      today,
		Unassigned: b.Unassigned,
		Days:       b.Days,
	}
}
