package dbprep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// maintenanceDB is the database connected to when creating the target.
const maintenanceDB = "postgres"

// PostgresClient implements Client for PostgreSQL and embeds baseClient.
type PostgresClient struct {
	baseClient
	cfg *pgx.ConnConfig
}

// NewPostgresClient creates a new PostgresClient. The connection pool is
// opened lazily so the database need not exist yet.
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database url does not name a database")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	pgClient := &PostgresClient{
		baseClient: baseClient{db: db},
		cfg:        cfg,
	}
	pgClient.getColumnsSqlFn = pgClient.getColumnsSql
	pgClient.getInsertVersionSqlFn = pgClient.getInsertVersionSql
	return pgClient, nil
}

// EnsureDatabase connects to the maintenance database and creates the
// target database if pg_database has no row for it.
func (c *PostgresClient) EnsureDatabase(ctx context.Context) (bool, error) {
	maint := c.cfg.Copy()
	maint.Database = maintenanceDB
	conn, err := pgx.ConnectConfig(ctx, maint)
	if err != nil {
		return false, fmt.Errorf("connecting to %s database: %w", maintenanceDB, err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, c.cfg.Database).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{c.cfg.Database}.Sanitize())
	if err != nil {
		var pgErr *pgconn.PgError
		// duplicate_database: created concurrently by someone else.
		if errors.As(err, &pgErr) && pgErr.Code == "42P04" {
			return false, nil
		}
		return false, fmt.Errorf("creating database %s: %w", c.cfg.Database, err)
	}
	return true, nil
}

// getColumnsSql returns SQL to list columns for the version table in Postgres.
func (c *PostgresClient) getColumnsSql() string {
	return fmt.Sprintf(`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = '%s';`, SchemaTable)
}

func (c *PostgresClient) getInsertVersionSql() string {
	return fmt.Sprintf(`INSERT INTO %s (version) VALUES ($1);`, SchemaTable)
}
