package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"workboard/internal/config"
	"workboard/internal/db"
	"workboard/internal/engine"
	"workboard/internal/migrate"
	"workboard/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("tester"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 16, 10, 30, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func strptr(s string) *string { return &s }

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OwnerID: "tester",
		Title:   "  Buy milk  ",
		Type:    "errand",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == "" {
		t.Fatalf("expected generated id")
	}
	if task.Title != "Buy milk" {
		t.Fatalf("expected trimmed title, got %q", task.Title)
	}
	if task.Status != "not_started" {
		t.Fatalf("expected not_started, got %s", task.Status)
	}
	if task.CompletionDate != nil {
		t.Fatalf("new task must not have a completion date")
	}
}

func TestCreateTaskRejectsEmptyTitle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "tester", Title: "   "})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// Nothing must have reached the store.
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("rejected task was persisted")
	}
}

func TestStatusStampsCompletionDate(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "tester", Title: "finish me"})
	if err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.SetStatus(env.Ctx, task.ID, "completed")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.CompletionDate == nil || *task.CompletionDate != "2024-01-16" {
		t.Fatalf("completion date not stamped with today: %v", task.CompletionDate)
	}
	// Reopening clears the date in the same mutation.
	task, err = env.Engine.SetStatus(env.Ctx, task.ID, "in_progress")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if task.CompletionDate != nil {
		t.Fatalf("completion date must be cleared on reopen")
	}
	task, err = env.Engine.SetStatus(env.Ctx, task.ID, "cancelled")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if task.CompletionDate == nil || *task.CompletionDate != "2024-01-16" {
		t.Fatalf("cancelled task missing completion date: %v", task.CompletionDate)
	}
}

func TestAllStatusPairsPermitted(t *testing.T) {
	env := newTestEnv(t)
	statuses := []string{"not_started", "in_progress", "on_hold", "completed", "cancelled"}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "tester", Title: "anywhere"})
	if err != nil {
		t.Fatal(err)
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if from == to {
				continue
			}
			if _, err := env.Engine.SetStatus(env.Ctx, task.ID, from); err != nil {
				t.Fatalf("enter %s: %v", from, err)
			}
			got, err := env.Engine.SetStatus(env.Ctx, task.ID, to)
			if err != nil {
				t.Fatalf("%s -> %s: %v", from, to, err)
			}
			terminal := to == "completed" || to == "cancelled"
			if terminal != (got.CompletionDate != nil) {
				t.Fatalf("%s -> %s: completion date invariant broken: %v", from, to, got.CompletionDate)
			}
		}
	}
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "tester", Title: "x"})
	if _, err := env.Engine.SetStatus(env.Ctx, task.ID, "done"); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReassignOnlyMovesDate(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OwnerID:      "tester",
		Title:        "movable",
		Notes:        "keep me",
		AssignedDate: strptr("2024-01-15"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Reassign(env.Ctx, task.ID, strptr("2024-01-18")); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedDate == nil || *got.AssignedDate != "2024-01-18" {
		t.Fatalf("assigned date not moved: %v", got.AssignedDate)
	}
	if got.Status != "not_started" || got.Notes != "keep me" {
		t.Fatalf("reassign touched unrelated fields: %+v", got)
	}
	// Dropping onto the backlog clears the date.
	if err := env.Engine.Reassign(env.Ctx, task.ID, nil); err != nil {
		t.Fatalf("reassign to backlog: %v", err)
	}
	got, _ = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if got.AssignedDate != nil {
		t.Fatalf("expected backlog, got %v", got.AssignedDate)
	}
}

func TestReassignMissingTaskIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.Reassign(env.Ctx, "never-existed", strptr("2024-01-18"))
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTaskLeavesLedgerLinkDangling(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "tester", Title: "paid work"})
	if err != nil {
		t.Fatal(err)
	}
	entry, err := env.Engine.AddLedgerEntry(env.Ctx, engine.LedgerEntryOptions{
		OwnerID:     "tester",
		Kind:        "income",
		Label:       "invoice",
		AmountCents: 12500,
		TaskID:      &task.ID,
	})
	if err != nil {
		t.Fatalf("ledger add: %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := env.Engine.Repo.GetLedgerEntry(env.Ctx, entry.ID)
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if got.TaskID == nil || *got.TaskID != task.ID {
		t.Fatalf("ledger link must survive the delete: %v", got.TaskID)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("dangling link must resolve to not found, got %v", err)
	}
}

func TestLedgerTotal(t *testing.T) {
	env := newTestEnv(t)
	add := func(kind string, cents int64) {
		t.Helper()
		_, err := env.Engine.AddLedgerEntry(env.Ctx, engine.LedgerEntryOptions{
			OwnerID: "tester", Kind: kind, Label: kind, AmountCents: cents,
		})
		if err != nil {
			t.Fatalf("add %s: %v", kind, err)
		}
	}
	add("income", 10000)
	add("income", 2500)
	add("expense", 4000)
	total, err := env.Engine.Repo.LedgerTotal(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 8500 {
		t.Fatalf("expected 8500, got %d", total)
	}
}

func TestMutationsAppendEvents(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "tester", Title: "evented"})
	_, _ = env.Engine.SetStatus(env.Ctx, task.ID, "in_progress")
	_ = env.Engine.Reassign(env.Ctx, task.ID, strptr("2024-01-17"))
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "task", task.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evts))
	}
	if evts[0].Type != "task.reassigned" {
		t.Fatalf("expected newest first, got %s", evts[0].Type)
	}
}
