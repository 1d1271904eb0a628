// Package db owns the workspace SQLite file. Everything a workspace
// persists lives in one database under its .workboard directory.
package db

import (
	"database/sql"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const workspaceDir = ".workboard"

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the workspace data directory if missing and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	dir := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, "workboard.db")
}

// Open opens the workspace database with foreign keys enforced and a
// busy timeout so concurrent CLI and server access does not surface
// SQLITE_BUSY to callers.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	opts := url.Values{}
	opts.Set("cache", "shared")
	opts.Add("_pragma", "foreign_keys(1)")
	opts.Add("_pragma", "busy_timeout(5000)")
	return sql.Open("sqlite", "file:"+Path(cfg.Workspace)+"?"+opts.Encode())
}
