package dbprep

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Sqlite3Client implements the Client interface for SQLite.
type Sqlite3Client struct {
	baseClient
	path string
}

// NewSqlite3Client creates a new Sqlite3Client for the database at path.
func NewSqlite3Client(path string) (*Sqlite3Client, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; keep one connection so transactions
	// and :memory: databases behave.
	db.SetMaxOpenConns(1)

	sqliteClient := &Sqlite3Client{
		baseClient: baseClient{db: db},
		path:       path,
	}
	// Set function pointers.
	sqliteClient.getColumnsSqlFn = sqliteClient.getColumnsSql
	sqliteClient.getInsertVersionSqlFn = sqliteClient.getInsertVersionSql
	return sqliteClient, nil
}

// sqlitePath strips the URL scheme and anchors relative paths at baseDir.
func sqlitePath(databaseURL, baseDir string) string {
	p := databaseURL
	if strings.HasPrefix(strings.ToLower(p), "file:") {
		return p
	}
	p = strings.TrimPrefix(p, "sqlite://")
	p = strings.TrimPrefix(p, "sqlite:")
	if p == ":memory:" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// EnsureDatabase creates the database file by connecting to it.
func (c *Sqlite3Client) EnsureDatabase(ctx context.Context) (bool, error) {
	if c.path == ":memory:" || strings.HasPrefix(c.path, "file:") {
		return false, c.db.PingContext(ctx)
	}
	_, statErr := os.Stat(c.path)
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return false, fmt.Errorf("creating database directory: %w", err)
	}
	if err := c.db.PingContext(ctx); err != nil {
		return false, err
	}
	// The driver creates the file lazily; force it onto disk.
	if _, err := c.db.ExecContext(ctx, "PRAGMA user_version;"); err != nil {
		return false, err
	}
	return os.IsNotExist(statErr), nil
}

func (c *Sqlite3Client) getColumnsSql() string {
	return fmt.Sprintf(`
      SELECT name AS column_name
      FROM pragma_table_info('%s');
    `, SchemaTable)
}

func (c *Sqlite3Client) getInsertVersionSql() string {
	return fmt.Sprintf(`INSERT INTO %s (version) VALUES (?);`, SchemaTable)
}
