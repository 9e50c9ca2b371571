package dbprep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SchemaTable is the bookkeeping table shared with the diesel CLI.
const SchemaTable = "__diesel_schema_migrations"

// Client defines the interface for native migration clients.
type Client interface {
	// EnsureDatabase creates the target database when it does not exist and
	// reports whether it did so.
	EnsureDatabase(ctx context.Context) (bool, error)
	HasVersionTable(ctx context.Context) (bool, error)
	EnsureTable(ctx context.Context) error
	AppliedVersions(ctx context.Context) (map[string]struct{}, error)
	Apply(ctx context.Context, m Migration) error
	Close() error
}

// NewClient creates a Client for databaseURL. Relative SQLite paths are
// resolved against baseDir, the directory the diesel CLI would run in.
func NewClient(databaseURL, baseDir string) (Client, error) {
	switch driverFor(databaseURL) {
	case "pg":
		c, err := NewPostgresClient(databaseURL)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "sqlite3":
		c, err := NewSqlite3Client(sqlitePath(databaseURL, baseDir))
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.New("database url scheme not supported. Must be one of: postgres, postgresql, sqlite or a file path")
	}
}

// driverFor picks the driver from the URL scheme.
func driverFor(databaseURL string) string {
	lower := strings.ToLower(databaseURL)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pg"
	case strings.HasPrefix(lower, "sqlite:"), strings.HasPrefix(lower, "file:"):
		return "sqlite3"
	case lower != "" && !strings.Contains(lower, "://"):
		return "sqlite3"
	default:
		return ""
	}
}

// baseClient provides the implementation shared by all dialects.
type baseClient struct {
	db *sql.DB

	// Dialect hooks, set by the concrete client constructor.
	getColumnsSqlFn       func() string
	getInsertVersionSqlFn func() string
}

// Close closes the underlying connection pool.
func (c *baseClient) Close() error {
	return c.db.Close()
}

// HasVersionTable checks for the existence of the version table by querying its columns.
func (c *baseClient) HasVersionTable(ctx context.Context) (bool, error) {
	rows, err := c.db.QueryContext(ctx, c.getColumnsSqlFn())
	if err != nil {
		return false, err
	}
	defer rows.Close()

	// if there is at least one row then we assume the table exists.
	if rows.Next() {
		return true, nil
	}
	return false, rows.Err()
}

// EnsureTable creates the version table if necessary.
func (c *baseClient) EnsureTable(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`
      CREATE TABLE IF NOT EXISTS %s (
        version VARCHAR(50) PRIMARY KEY NOT NULL,
        run_on TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
      );`, SchemaTable))
	return err
}

// AppliedVersions returns the set of recorded versions. A missing version
// table yields an empty set; the table is not created.
func (c *baseClient) AppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	applied := make(map[string]struct{})
	ok, err := c.HasVersionTable(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return applied, nil
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`SELECT version FROM %s;`, SchemaTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = struct{}{}
	}
	return applied, rows.Err()
}

// Apply runs the migration's up.sql and records its version in one transaction.
func (c *baseClient) Apply(ctx context.Context, m Migration) error {
	script, err := m.getSQL()
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if strings.TrimSpace(script) != "" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, c.getInsertVersionSqlFn(), m.Version); err != nil {
		return fmt.Errorf("recording migration %s: %w", m.Version, err)
	}
	return tx.Commit()
}
