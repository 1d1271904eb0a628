package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workboard/internal/app"
	"workboard/internal/board"
	"workboard/internal/config"
	"workboard/internal/db"
	"workboard/internal/domain"
	"workboard/internal/engine"
	"workboard/internal/repo"
	"workboard/internal/server"
	"workboard/internal/week"
)

var rootCmd = &cobra.Command{
	Use:   "wb",
	Short: "Workboard CLI",
	Long: `Workboard is a personal weekly task board.
Tasks live either on the backlog or on a day of the week. Unfinished
tasks from past weeks roll over onto the matching weekday of the viewed
week, so Monday's leftovers greet you on Monday, not in a void.
Completing or cancelling a task stamps the date and moves it to history.
A small ledger tracks income and expenses, optionally linked to tasks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WORKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("owner", "", "owner identifier (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, _, err := app.OpenWorkspace(workspace, owner)
			if err != nil {
				return err
			}
			defer conn.Close()
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Printf("workspace ready (config exists at %s)\n", cfgPath)
				return nil
			}
			if owner == "" {
				owner = "local-user"
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(owner)), 0o644); err != nil {
				return err
			}
			fmt.Printf("workspace initialized, config written to %s\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "board owner id")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var title, taskType, notes, date string
	var assignees []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" && len(args) > 0 {
				title = strings.Join(args, " ")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					OwnerID:      ownerID(e),
					Title:        title,
					Type:         taskType,
					Notes:        notes,
					AssignedDate: optionalString(date),
					Assignees:    assignees,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&taskType, "type", "", "task type (free-form)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&date, "date", "", "assigned date YYYY-MM-DD (omit for backlog)")
	cmd.Flags().StringSliceVar(&assignees, "assignee", nil, "assignee (repeatable)")
	return cmd
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, ownerID(e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Date", "Done"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, deref(t.AssignedDate), deref(t.CompletionDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, taskType, notes string
	var assignees []string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := repo.TaskPatch{}
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("type") {
				patch.Type = &taskType
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			if cmd.Flags().Changed("assignee") {
				patch.Assignees = &assignees
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&taskType, "type", "", "task type")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringSliceVar(&assignees, "assignee", nil, "assignee (repeatable)")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Set task status",
		Long:  "Any status may move to any other. Entering completed or cancelled stamps today's date; leaving them clears it.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetStatus(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var date string
	var backlog bool
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Move a task to a day or the backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !backlog && date == "" {
				return fmt.Errorf("--date or --backlog required")
			}
			var target *string
			if !backlog {
				target = &date
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Reassign(ctx, args[0], target); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						// Moving a vanished task changes nothing.
						fmt.Println("task not found; nothing moved")
						return nil
					}
					return err
				}
				if backlog {
					fmt.Println("moved to backlog")
				} else {
					fmt.Printf("moved to %s\n", date)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD")
	cmd.Flags().BoolVar(&backlog, "backlog", false, "move to the backlog")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0])
			})
		},
	}
	return cmd
}

func boardCmd() *cobra.Command {
	var weekNo, yearNo int
	var date, search, status string
	var weekdays bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the weekly board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				anchor := week.Normalize(e.Now())
				switch {
				case weekNo != 0 && yearNo != 0:
					anchor = week.Dates(weekNo, yearNo)[0]
				case date != "":
					d, err := week.Parse(date)
					if err != nil {
						return fmt.Errorf("--date must be YYYY-MM-DD")
					}
					anchor = d
				}
				w, y := week.Of(anchor)
				days := week.Dates(w, y)
				visible := days[:]
				if weekdays || (e.Config != nil && !e.Config.Board.Weekend) {
					visible = days[:5]
				}
				tasks, err := e.Repo.ListTasks(ctx, ownerID(e))
				if err != nil {
					return err
				}
				b := board.Organize(tasks, visible, board.Filters{Search: search, Status: status})
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"week": w, "year": y,
						"unassigned": b.Unassigned, "days": b.Days,
					})
				}
				renderBoard(w, y, e.Today(), visible, b)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&weekNo, "week", 0, "ISO week number (with --year)")
	cmd.Flags().IntVar(&yearNo, "year", 0, "ISO week year (with --week)")
	cmd.Flags().StringVar(&date, "date", "", "any date inside the week to view")
	cmd.Flags().StringVar(&search, "search", "", "title substring filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().BoolVar(&weekdays, "weekdays", false, "hide weekend columns")
	return cmd
}

func renderBoard(w, y int, today string, dates []time.Time, b board.Buckets) {
	fmt.Printf("Week %d of %d\n", w, y)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Day", "Date", "Tasks"})
	for _, d := range dates {
		key := week.Format(d)
		label := d.Format("Mon")
		if key == today {
			label += " *"
		}
		tw.AppendRow(table.Row{label, key, formatItems(b.Days[key])})
	}
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"Backlog", "", formatItems(b.Unassigned)})
	tw.Render()
}

func formatItems(items []board.Item) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		line := fmt.Sprintf("%s [%s]", item.Title, item.Status)
		if item.IsRollover {
			line += fmt.Sprintf(" (from %s)", item.OriginalDate)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Completed and cancelled tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, ownerID(e))
				if err != nil {
					return err
				}
				done := board.History(tasks)
				if viper.GetBool("json") {
					return printJSON(done)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Done", "Title", "Status", "ID"})
				for _, t := range done {
					tw.AppendRow(table.Row{deref(t.CompletionDate), t.Title, t.Status, t.ID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func ledgerCmd() *cobra.Command {
	ledger := &cobra.Command{Use: "ledger", Short: "Income and expense ledger"}
	ledger.AddCommand(ledgerAddCmd())
	ledger.AddCommand(ledgerListCmd())
	ledger.AddCommand(ledgerTotalCmd())
	ledger.AddCommand(ledgerDeleteCmd())
	return ledger
}

func ledgerAddCmd() *cobra.Command {
	var kind, label, date, taskID string
	var cents int64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a ledger entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.AddLedgerEntry(ctx, engine.LedgerEntryOptions{
					OwnerID:     ownerID(e),
					Kind:        kind,
					Label:       label,
					AmountCents: cents,
					EntryDate:   date,
					TaskID:      optionalString(taskID),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "income or expense")
	cmd.Flags().StringVar(&label, "label", "", "entry label")
	cmd.Flags().Int64Var(&cents, "cents", 0, "amount in cents")
	cmd.Flags().StringVar(&date, "date", "", "entry date YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&taskID, "task", "", "linked task id")
	return cmd
}

func ledgerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListLedgerEntries(ctx, ownerID(e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Kind", "Label", "Cents", "Task"})
				for _, entry := range entries {
					taskCol := ""
					if entry.TaskID != nil {
						// Dangling links after a task delete render empty.
						if t, err := e.Repo.GetTask(ctx, *entry.TaskID); err == nil {
							taskCol = t.Title
						}
					}
					tw.AppendRow(table.Row{entry.EntryDate, entry.Kind, entry.Label, entry.AmountCents, taskCol})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func ledgerTotalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "total",
		Short: "Income minus expense, in cents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				total, err := e.Repo.LedgerTotal(ctx, ownerID(e))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int64{"total_cents": total})
			})
		},
	}
	return cmd
}

func ledgerDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete a ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteLedgerEntry(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "API keys"}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyRevokeCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := "wb_" + uuid.New().String()
				apiKey := domain.APIKey{
					ID:        uuid.New().String(),
					OwnerID:   ownerID(e),
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.InsertAPIKey(ctx, tx, apiKey); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("api key %s created\nsecret (store it now, it is not retrievable): %s\n", apiKey.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, ownerID(e))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.OpenWorkspace(workspace, viper.GetString("owner"))
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("WORKBOARD_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("WORKBOARD_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Workboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, cfg, err := app.OpenWorkspace(workspace, viper.GetString("owner"))
	if err != nil {
		return err
	}
	defer conn.Close()
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func ownerID(e engine.Engine) string {
	if owner := viper.GetString("owner"); owner != "" {
		return owner
	}
	if e.Config != nil && e.Config.Owner != "" {
		return e.Config.Owner
	}
	return "local-user"
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
