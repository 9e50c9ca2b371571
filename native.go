package dbprep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Native is an in-process Migrator that reads diesel's migration layout and
// records progress in diesel's bookkeeping table, so it can be swapped with
// the diesel CLI on the same database.
type Native struct {
	// MigrationsDir is relative to Config.WorkDir.
	MigrationsDir string

	// Open creates the database client; defaults to NewClient.
	Open func(databaseURL, baseDir string) (Client, error)

	Logger *slog.Logger
}

// MigrationStatus pairs a migration with whether it has been applied.
type MigrationStatus struct {
	Migration
	Applied bool
}

// Setup creates the database and migrations directory if absent, then
// applies pending migrations.
func (n *Native) Setup(ctx context.Context, cfg Config) error {
	client, err := n.open(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	created, err := client.EnsureDatabase(ctx)
	if err != nil {
		return err
	}
	if created {
		n.logger().Info("created database", "url", RedactURL(cfg.DatabaseURL))
	}
	if err := os.MkdirAll(n.dir(cfg), 0755); err != nil {
		return fmt.Errorf("creating migrations directory: %w", err)
	}
	_, err = n.apply(ctx, cfg, client)
	return err
}

// Migrate applies pending migrations in version order, stopping at the
// first failure. Already applied migrations stay applied.
func (n *Native) Migrate(ctx context.Context, cfg Config) error {
	client, err := n.open(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = n.apply(ctx, cfg, client)
	return err
}

// Status lists known migrations without modifying the database.
func (n *Native) Status(ctx context.Context, cfg Config) ([]MigrationStatus, error) {
	migs, err := GetMigrations(n.dir(cfg))
	if err != nil {
		return nil, err
	}
	client, err := n.open(cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	applied, err := client.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(migs))
	for _, m := range migs {
		_, ok := applied[m.Version]
		statuses = append(statuses, MigrationStatus{Migration: m, Applied: ok})
	}
	return statuses, nil
}

func (n *Native) apply(ctx context.Context, cfg Config, client Client) ([]Migration, error) {
	if err := client.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("creating %s: %w", SchemaTable, err)
	}
	migs, err := GetMigrations(n.dir(cfg))
	if err != nil {
		return nil, err
	}
	applied, err := client.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var done []Migration
	for _, m := range pendingMigrations(migs, applied) {
		if err := client.Apply(ctx, m); err != nil {
			return done, err
		}
		n.logger().Info("applied migration", "version", m.Version, "name", m.Name)
		done = append(done, m)
	}
	return done, nil
}

func (n *Native) open(cfg Config) (Client, error) {
	open := n.Open
	if open == nil {
		open = NewClient
	}
	return open(cfg.DatabaseURL, cfg.WorkDir)
}

func (n *Native) dir(cfg Config) string {
	dir := orDefault(n.MigrationsDir, "migrations")
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(cfg.WorkDir, dir)
}

func (n *Native) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}
