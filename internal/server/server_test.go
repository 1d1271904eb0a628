package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"workboard/internal/config"
	"workboard/internal/db"
	"workboard/internal/domain"
	"workboard/internal/engine"
	"workboard/internal/migrate"
	"workboard/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// newTestServer runs the API against a temp workspace with a clock
// frozen on Tuesday 2024-01-16 so board weeks are deterministic.
func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("alice")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time {
		return time.Date(2024, 1, 16, 10, 30, 0, 0, time.UTC)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func signToken(t *testing.T, owner string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   owner,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHeaders(t *testing.T, owner string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, owner)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTask(t *testing.T, srv *testServer, owner string, body map[string]any) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", body, authHeaders(t, owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestBoardShowsAssignedAndRolledOverTasks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createTask(t, srv, "alice", map[string]any{
		"title":         "Write minutes",
		"assigned_date": "2024-01-18", // Thursday this week
	})
	createTask(t, srv, "alice", map[string]any{
		"title":         "Chase invoice",
		"assigned_date": "2024-01-02", // Tuesday two weeks ago
	})
	createTask(t, srv, "alice", map[string]any{"title": "Someday idea"})

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/board?columns=all", nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, string(data))
	}
	var b BoardResponse
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	if b.Week != 3 || b.Year != 2024 {
		t.Fatalf("expected week 3/2024, got %d/%d", b.Week, b.Year)
	}
	if b.Today != "2024-01-16" {
		t.Fatalf("today = %q", b.Today)
	}
	if len(b.Unassigned) != 1 || b.Unassigned[0].Title != "Someday idea" {
		t.Fatalf("unexpected backlog: %+v", b.Unassigned)
	}
	thursday := b.Days["2024-01-18"]
	if len(thursday) != 1 || thursday[0].Title != "Write minutes" || thursday[0].IsRollover {
		t.Fatalf("unexpected thursday column: %+v", thursday)
	}
	tuesday := b.Days["2024-01-16"]
	if len(tuesday) != 1 || tuesday[0].Title != "Chase invoice" {
		t.Fatalf("unexpected tuesday column: %+v", tuesday)
	}
	if !tuesday[0].IsRollover || tuesday[0].OriginalDate != "2024-01-02" {
		t.Fatalf("rollover not tagged: %+v", tuesday[0])
	}
}

func TestReassignMovesTaskAndNullTargetsBacklog(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	task := createTask(t, srv, "alice", map[string]any{
		"title":         "Pay rent",
		"assigned_date": "2024-01-15",
	})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/reassign",
		map[string]any{"target_date": "2024-01-19"}, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("reassign status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d: %s", res.StatusCode, string(data))
	}
	var moved domain.Task
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if moved.AssignedDate == nil || *moved.AssignedDate != "2024-01-19" {
		t.Fatalf("assigned date not moved: %+v", moved.AssignedDate)
	}
	if moved.Status != task.Status || moved.Title != task.Title {
		t.Fatalf("reassign touched more than the date: %+v", moved)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/reassign",
		map[string]any{"target_date": nil}, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("reassign to backlog status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/board", nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, string(data))
	}
	var b BoardResponse
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	if len(b.Unassigned) != 1 || b.Unassigned[0].ID != task.ID {
		t.Fatalf("task not on backlog: %+v", b.Unassigned)
	}
}

func TestReassignMissingTaskIsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+uuid.New().String()+"/reassign",
		map[string]any{"target_date": "2024-01-19"}, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestCompletionStampedAndHistoryOrdered(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	task := createTask(t, srv, "alice", map[string]any{
		"title":         "File taxes",
		"assigned_date": "2024-01-16",
	})
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/status",
		map[string]any{"status": "completed"}, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status %d: %s", res.StatusCode, string(data))
	}
	var done domain.Task
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if done.CompletionDate == nil || *done.CompletionDate != "2024-01-16" {
		t.Fatalf("completion date = %+v", done.CompletionDate)
	}

	// A completed task leaves the board and appears in history.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/board", nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, string(data))
	}
	var b BoardResponse
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	for date, items := range b.Days {
		if len(items) != 0 {
			t.Fatalf("completed task still on board at %s: %+v", date, items)
		}
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/history", nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var history []domain.Task
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 1 || history[0].ID != task.ID {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestValidationRejectedBeforeStore(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks",
		map[string]any{"title": "   "}, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestAuthRequiredAndAPIKeyAccepted(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/board", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}

	rawKey := "wk_" + uuid.New().String()
	ctx := context.Background()
	tx, err := srv.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	err = srv.Engine.Repo.InsertAPIKey(ctx, tx, domainAPIKey("alice", rawKey))
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/board", nil, map[string]string{"X-Api-Key": rawKey})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board with api key status %d: %s", res.StatusCode, string(data))
	}
}

func TestBoardScopedToOwner(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createTask(t, srv, "alice", map[string]any{"title": "Alice only"})

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/board", nil, authHeaders(t, "bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, string(data))
	}
	var b BoardResponse
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	if len(b.Unassigned) != 0 {
		t.Fatalf("bob sees alice's tasks: %+v", b.Unassigned)
	}
}

func TestTaskAccessScopedToOwner(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	task := createTask(t, srv, "alice", map[string]any{"title": "Private"})

	// Another owner's task is indistinguishable from a missing one.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, authHeaders(t, "bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("bob read alice's task: %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/status",
		map[string]any{"status": "cancelled"}, authHeaders(t, "bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("bob mutated alice's task: %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/reassign",
		map[string]any{"target_date": "2024-01-19"}, authHeaders(t, "bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("bob reassigned alice's task: %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, authHeaders(t, "bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("bob deleted alice's task: %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alice lost access to her task: %d: %s", res.StatusCode, string(data))
	}
	var got domain.Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if got.Status != "not_started" {
		t.Fatalf("bob's rejected mutation took effect: %+v", got)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/ledger", map[string]any{
		"kind": "income", "label": "Consulting", "amount_cents": 100,
	}, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add entry status %d: %s", res.StatusCode, string(data))
	}
	var entry domain.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/ledger/"+entry.ID, nil, authHeaders(t, "bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("bob deleted alice's ledger entry: %d: %s", res.StatusCode, string(data))
	}
}

func TestLedgerTotalAndDanglingTaskLink(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	task := createTask(t, srv, "alice", map[string]any{"title": "Paint fence"})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/ledger", map[string]any{
		"kind":         "income",
		"label":        "Fence job",
		"amount_cents": 12000,
		"task_id":      task.ID,
	}, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add entry status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/ledger", map[string]any{
		"kind":         "expense",
		"label":        "Paint",
		"amount_cents": 3500,
	}, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add entry status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/ledger/total", nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("total status %d: %s", res.StatusCode, string(data))
	}
	var total LedgerTotalResponse
	if err := json.Unmarshal(data, &total); err != nil {
		t.Fatalf("unmarshal total: %v", err)
	}
	if total.TotalCents != 8500 {
		t.Fatalf("total = %d", total.TotalCents)
	}

	// Deleting the linked task leaves the entry with no resolved title.
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("delete task status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/ledger", nil, authHeaders(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list ledger status %d: %s", res.StatusCode, string(data))
	}
	var entries []LedgerEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	for _, entry := range entries {
		if entry.TaskTitle != "" {
			t.Fatalf("dangling link resolved to %q", entry.TaskTitle)
		}
	}
}

func domainAPIKey(owner, rawKey string) domain.APIKey {
	return domain.APIKey{
		ID:        uuid.New().String(),
		OwnerID:   owner,
		Name:      "test",
		KeyHash:   repo.HashAPIKey(rawKey),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
