package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"workboard/internal/config"
	"workboard/internal/domain"
	"workboard/internal/events"
	"workboard/internal/repo"
	"workboard/internal/store"
	"workboard/internal/week"
)

// ErrValidation marks input rejected before any store call.
var ErrValidation = errors.New("validation failed")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Store  *store.Store
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Store:  store.New(r),
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Today returns the current civil date from the injected clock.
func (e Engine) Today() string {
	return week.Format(week.Normalize(e.now()))
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	OwnerID      string
	Title        string
	Type         string
	Notes        string
	AssignedDate *string
	Assignees    []string
}

// CreateTask validates and inserts a new task. New tasks always start
// not_started with no completion date.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if opts.OwnerID == "" {
		return domain.Task{}, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if opts.AssignedDate != nil {
		if _, err := week.Parse(*opts.AssignedDate); err != nil {
			return domain.Task{}, fmt.Errorf("%w: assigned_date must be YYYY-MM-DD", ErrValidation)
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:           uuid.New().String(),
		OwnerID:      opts.OwnerID,
		Title:        strings.TrimSpace(opts.Title),
		Type:         opts.Type,
		Status:       domain.StatusNotStarted,
		Notes:        opts.Notes,
		AssignedDate: opts.AssignedDate,
		Assignees:    opts.Assignees,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, t.OwnerID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.publish(ctx, t.OwnerID)
	return t, nil
}

// UpdateTask applies a partial field update. It never touches status,
// completion date or assigned date; those have dedicated operations.
func (e Engine) UpdateTask(ctx context.Context, id string, patch repo.TaskPatch) (domain.Task, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTaskFields(ctx, tx, id, patch, e.now().UTC().Format(time.RFC3339)); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", "task", id, t.OwnerID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.publish(ctx, t.OwnerID)
	return e.Repo.GetTask(ctx, id)
}

// SetStatus moves a task to any status. Every ordered pair of statuses
// is a permitted transition. Entering completed or cancelled stamps the
// completion date with today's date; entering anything else clears it.
// Status and completion date are written in the same statement.
func (e Engine) SetStatus(ctx context.Context, id, status string) (domain.Task, error) {
	if !domain.ValidStatus(status) {
		return domain.Task{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	var completion *string
	if domain.Terminal(status) {
		today := e.Today()
		completion = &today
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTaskStatus(ctx, tx, id, status, completion, e.now().UTC().Format(time.RFC3339)); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.status", "task", id, t.OwnerID, events.EventPayload{
		"from": t.Status,
		"to":   status,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.publish(ctx, t.OwnerID)
	return e.Repo.GetTask(ctx, id)
}

// Reassign moves a task to a target date, or to the backlog when
// targetDate is nil. It mutates only the assigned date; rollover
// tagging is derived at read time and recomputed on the next snapshot.
// A missing task is a benign no-op: the repo's not-found is returned
// for logging but boards simply stay unchanged.
func (e Engine) Reassign(ctx context.Context, id string, targetDate *string) error {
	if targetDate != nil {
		if _, err := week.Parse(*targetDate); err != nil {
			return fmt.Errorf("%w: target_date must be YYYY-MM-DD", ErrValidation)
		}
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTaskAssignedDate(ctx, tx, id, targetDate, e.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	payload := events.EventPayload{"target_date": nil}
	if targetDate != nil {
		payload["target_date"] = *targetDate
	}
	if err := e.Events.Append(ctx, tx, "task.reassigned", "task", id, t.OwnerID, payload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, t.OwnerID)
	return nil
}

// DeleteTask removes a task. Ledger entries linked to it keep their
// reference; readers resolve the dangling link to "no task".
func (e Engine) DeleteTask(ctx context.Context, id string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", "task", id, t.OwnerID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, t.OwnerID)
	return nil
}

// LedgerEntryOptions are parameters for adding a ledger entry.
type LedgerEntryOptions struct {
	OwnerID     string
	Kind        string
	Label       string
	AmountCents int64
	EntryDate   string
	TaskID      *string
}

func (e Engine) AddLedgerEntry(ctx context.Context, opts LedgerEntryOptions) (domain.LedgerEntry, error) {
	if opts.Kind != domain.LedgerIncome && opts.Kind != domain.LedgerExpense {
		return domain.LedgerEntry{}, fmt.Errorf("%w: kind must be income or expense", ErrValidation)
	}
	if strings.TrimSpace(opts.Label) == "" {
		return domain.LedgerEntry{}, fmt.Errorf("%w: label is required", ErrValidation)
	}
	if opts.AmountCents <= 0 {
		return domain.LedgerEntry{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	entryDate := opts.EntryDate
	if entryDate == "" {
		entryDate = e.Today()
	} else if _, err := week.Parse(entryDate); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("%w: entry_date must be YYYY-MM-DD", ErrValidation)
	}
	entry := domain.LedgerEntry{
		ID:          uuid.New().String(),
		OwnerID:     opts.OwnerID,
		Kind:        opts.Kind,
		Label:       strings.TrimSpace(opts.Label),
		AmountCents: opts.AmountCents,
		EntryDate:   entryDate,
		TaskID:      opts.TaskID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertLedgerEntry(ctx, tx, entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, "ledger.added", "ledger", entry.ID, entry.OwnerID, events.EventPayload{
		"kind":         entry.Kind,
		"amount_cents": entry.AmountCents,
	}); err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func (e Engine) DeleteLedgerEntry(ctx context.Context, id string) error {
	entry, err := e.Repo.GetLedgerEntry(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteLedgerEntry(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "ledger.deleted", "ledger", id, entry.OwnerID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// publish pushes a fresh snapshot to subscribers. Failures here leave
// boards stale until the next snapshot; they never fail the mutation.
func (e Engine) publish(ctx context.Context, ownerID string) {
	if e.Store == nil {
		return
	}
	_ = e.Store.Publish(ctx, ownerID)
}
