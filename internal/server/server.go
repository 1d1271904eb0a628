package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"workboard/internal/board"
	"workboard/internal/domain"
	"workboard/internal/engine"
	"workboard/internal/repo"
	"workboard/internal/week"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Workboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Workboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerBoard(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerBoardStream(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)
	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain failures onto the envelope. There is no
// fatal class here: not-found is benign, validation is rejected at the
// input site, and everything else leaves the board stale.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrValidation) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	}
	return newAPIError(http.StatusServiceUnavailable, "store_unavailable", "store unavailable; change not applied", map[string]any{"error": err.Error()})
}

// ownerTask fetches a task for one principal. Another owner's task is
// indistinguishable from a missing one.
func ownerTask(ctx context.Context, e engine.Engine, ownerID, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.OwnerID != ownerID {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func ownerLedgerEntry(ctx context.Context, e engine.Engine, ownerID, id string) (domain.LedgerEntry, error) {
	entry, err := e.Repo.GetLedgerEntry(ctx, id)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if entry.OwnerID != ownerID {
		return domain.LedgerEntry{}, repo.ErrNotFound
	}
	return entry, nil
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// boardView resolves the requested week and its visible columns.
type boardView struct {
	Week  int
	Year  int
	Dates []time.Time
}

func resolveBoardView(e engine.Engine, dateParam string, weekParam, yearParam int, columns string) (boardView, error) {
	var anchor time.Time
	switch {
	case weekParam != 0 && yearParam != 0:
		days := week.Dates(weekParam, yearParam)
		anchor = days[0]
	case dateParam != "":
		d, err := week.Parse(dateParam)
		if err != nil {
			return boardView{}, fmt.Errorf("%w: date must be YYYY-MM-DD", engine.ErrValidation)
		}
		anchor = d
	default:
		anchor = week.Normalize(e.Now())
	}
	w, y := week.Of(anchor)
	days := week.Dates(w, y)
	visible := days[:]
	weekdaysOnly := columns == "weekdays"
	if columns == "" && e.Config != nil && !e.Config.Board.Weekend {
		weekdaysOnly = true
	}
	if weekdaysOnly {
		visible = days[:5]
	}
	return boardView{Week: w, Year: y, Dates: visible}, nil
}

func organizeBoard(ctx context.Context, e engine.Engine, ownerID string, view boardView, f board.Filters) (BoardResponse, error) {
	snapshot, err := e.Repo.ListTasks(ctx, ownerID)
	if err != nil {
		return BoardResponse{}, err
	}
	b := board.Organize(snapshot, view.Dates, f)
	dates := make([]string, len(view.Dates))
	for i, d := range view.Dates {
		dates[i] = week.Format(d)
	}
	return boardResponse(view.Week, view.Year, dates, e.Today(), b), nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type boardQuery struct {
	Date    string `query:"date" doc:"any date inside the week to view (defaults to today)"`
	Week    int    `query:"week" doc:"ISO week number (with year)"`
	Year    int    `query:"year" doc:"ISO week year (with week)"`
	Search  string `query:"q" doc:"case-insensitive title substring"`
	Status  string `query:"status" enum:",not_started,in_progress,on_hold,completed,cancelled"`
	Columns string `query:"columns" enum:",all,weekdays"`
}

func registerBoard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Weekly board",
		Description: "Tasks of the viewed ISO week plus the backlog; unfinished tasks from past weeks roll over onto the matching weekday.",
	}, func(ctx context.Context, input *boardQuery) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := resolveBoardView(e, input.Date, input.Week, input.Year, input.Columns)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := organizeBoard(ctx, e, ownerID, view, board.Filters{Search: input.Search, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			OwnerID:      ownerID,
			Title:        input.Body.Title,
			Type:         input.Body.Type,
			Notes:        input.Body.Notes,
			AssignedDate: input.Body.AssignedDate,
			Assignees:    input.Body.Assignees,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTasks(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := ownerTask(ctx, e, ownerID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownerTask(ctx, e, ownerID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		t, err := e.UpdateTask(ctx, input.TaskID, repo.TaskPatch{
			Title:     input.Body.Title,
			Type:      input.Body.Type,
			Notes:     input.Body.Notes,
			Assignees: input.Body.Assignees,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Set task status",
		Description: "Any status may move to any other. Completed and cancelled stamp the completion date; other statuses clear it.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Body   SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownerTask(ctx, e, ownerID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		t, err := e.SetStatus(ctx, input.TaskID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reassign-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/reassign",
		Summary:       "Reassign task to a day",
		Description:   "Single-field mutation of assigned_date. A null target date drops the task onto the backlog. The board reflects the move on the next snapshot.",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   ReassignRequest `json:"body"`
	}) (*struct{}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownerTask(ctx, e, ownerID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Reassign(ctx, input.TaskID, input.Body.TargetDate); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownerTask(ctx, e, ownerID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTask(ctx, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Completed and cancelled tasks, newest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snapshot, err := e.Repo.ListTasks(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: board.History(snapshot)}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-ledger-entry",
		Method:        http.MethodPost,
		Path:          "/ledger",
		Summary:       "Add ledger entry",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateLedgerEntryRequest `json:"body"`
	}) (*struct {
		Body domain.LedgerEntry `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.AddLedgerEntry(ctx, engine.LedgerEntryOptions{
			OwnerID:     ownerID,
			Kind:        input.Body.Kind,
			Label:       input.Body.Label,
			AmountCents: input.Body.AmountCents,
			EntryDate:   input.Body.EntryDate,
			TaskID:      input.Body.TaskID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LedgerEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ledger",
		Method:      http.MethodGet,
		Path:        "/ledger",
		Summary:     "List ledger entries",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []LedgerEntryResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.Repo.ListLedgerEntries(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]LedgerEntryResponse, 0, len(entries))
		for _, entry := range entries {
			resp := LedgerEntryResponse{LedgerEntry: entry}
			if entry.TaskID != nil {
				// A dangling link after a task delete resolves to no
				// task; it is never an error.
				if t, err := ownerTask(ctx, e, ownerID, *entry.TaskID); err == nil {
					resp.TaskTitle = t.Title
				}
			}
			out = append(out, resp)
		}
		return &struct {
			Body []LedgerEntryResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ledger-total",
		Method:      http.MethodGet,
		Path:        "/ledger/total",
		Summary:     "Ledger total (income minus expense, cents)",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body LedgerTotalResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		total, err := e.Repo.LedgerTotal(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerTotalResponse `json:"body"`
		}{Body: LedgerTotalResponse{TotalCents: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-ledger-entry",
		Method:      http.MethodDelete,
		Path:        "/ledger/{entry_id}",
		Summary:     "Delete ledger entry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntryID string `path:"entry_id"`
	}) (*struct{}, error) {
		ownerID, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownerLedgerEntry(ctx, e, ownerID, input.EntryID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteLedgerEntry(ctx, input.EntryID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail audit events",
	}, func(ctx context.Context, input *struct {
		N          int    `query:"n" default:"20"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := ownerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		evts, err := e.Repo.LatestEvents(ctx, input.N, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Workboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
