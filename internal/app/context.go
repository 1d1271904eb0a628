package app

import (
	"database/sql"
	"fmt"

	"workboard/internal/config"
	"workboard/internal/db"
	"workboard/internal/migrate"
)

// OpenWorkspace opens (and migrates) the workspace database and loads
// its config, seeding defaults when workboard.yml does not exist yet.
// Callers own the returned connection.
func OpenWorkspace(workspace, ownerOverride string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg == nil {
		owner := ownerOverride
		if owner == "" {
			owner = "local-user"
		}
		cfg = config.Default(owner)
	}
	if ownerOverride != "" {
		cfg.Owner = ownerOverride
	}
	return conn, cfg, nil
}
