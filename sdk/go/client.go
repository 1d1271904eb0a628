package workboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Workboard HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"owner_id"`
	Title          string   `json:"title"`
	Type           string   `json:"type"`
	Status         string   `json:"status"`
	Notes          string   `json:"notes,omitempty"`
	AssignedDate   *string  `json:"assigned_date,omitempty"`
	CompletionDate *string  `json:"completion_date,omitempty"`
	Assignees      []string `json:"assignees,omitempty"`
}

// BoardItem is a task as placed on the board; rolled-over tasks carry
// the date they were originally assigned to.
type BoardItem struct {
	Task
	IsRollover   bool   `json:"is_rollover,omitempty"`
	OriginalDate string `json:"original_date,omitempty"`
}

// Board is the organized weekly view.
type Board struct {
	Week       int                    `json:"week"`
	Year       int                    `json:"year"`
	Dates      []string               `json:"dates"`
	Today      string                 `json:"today"`
	Unassigned []BoardItem            `json:"unassigned"`
	Days       map[string][]BoardItem `json:"days"`
}

// LedgerEntry represents an income or expense entry.
type LedgerEntry struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Label       string  `json:"label"`
	AmountCents int64   `json:"amount_cents"`
	EntryDate   string  `json:"entry_date"`
	TaskID      *string `json:"task_id,omitempty"`
	TaskTitle   string  `json:"task_title,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task; assignedDate may be nil for the backlog.
func (c *Client) CreateTask(ctx context.Context, title, taskType string, assignedDate *string) (Task, error) {
	body := map[string]any{
		"title": title,
		"type":  taskType,
	}
	if assignedDate != nil {
		body["assigned_date"] = *assignedDate
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.path("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.path("tasks/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListTasks fetches all tasks of the authenticated owner.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.path("tasks"), nil, &resp)
	return resp, err
}

// SetStatus moves a task to the given status.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Task, error) {
	var resp Task
	endpoint := c.path(fmt.Sprintf("tasks/%s/status", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Reassign moves a task to a day; a nil targetDate moves it to the
// backlog.
func (c *Client) Reassign(ctx context.Context, id string, targetDate *string) error {
	body := map[string]any{"target_date": nil}
	if targetDate != nil {
		body["target_date"] = *targetDate
	}
	endpoint := c.path(fmt.Sprintf("tasks/%s/reassign", url.PathEscape(id)))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.path("tasks/"+url.PathEscape(id)), nil, nil)
}

// Board fetches the weekly board. Pass zero week and year for the
// current week.
func (c *Client) Board(ctx context.Context, week, year int) (Board, error) {
	endpoint := c.path("board")
	if week != 0 && year != 0 {
		endpoint += fmt.Sprintf("?week=%d&year=%d", week, year)
	}
	var resp Board
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History fetches completed and cancelled tasks, newest first.
func (c *Client) History(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.path("history"), nil, &resp)
	return resp, err
}

// AddLedgerEntry records an income or expense.
func (c *Client) AddLedgerEntry(ctx context.Context, kind, label string, amountCents int64, taskID *string) (LedgerEntry, error) {
	body := map[string]any{
		"kind":         kind,
		"label":        label,
		"amount_cents": amountCents,
	}
	if taskID != nil {
		body["task_id"] = *taskID
	}
	var resp LedgerEntry
	err := c.do(ctx, http.MethodPost, c.path("ledger"), body, &resp)
	return resp, err
}

// LedgerTotal returns income minus expense in cents.
func (c *Client) LedgerTotal(ctx context.Context) (int64, error) {
	var resp struct {
		TotalCents int64 `json:"total_cents"`
	}
	err := c.do(ctx, http.MethodGet, c.path("ledger/total"), nil, &resp)
	return resp.TotalCents, err
}

// Events tails the audit log.
func (c *Client) Events(ctx context.Context, n int) ([]Event, error) {
	var resp []Event
	endpoint := c.path(fmt.Sprintf("events?n=%d", n))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(p string) string {
	return "v1/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
