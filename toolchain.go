package dbprep

import "context"

// Migrator prepares the database schema.
type Migrator interface {
	// Setup creates the target database if absent. It must be safe to re-run.
	Setup(ctx context.Context, cfg Config) error
	// Migrate applies all pending migrations in order.
	Migrate(ctx context.Context, cfg Config) error
}

// Binder validates and regenerates the cached query bindings.
type Binder interface {
	// CheckBindings reports whether the cached bindings match the current
	// schema and queries. A stale cache is not an error; err is reserved
	// for failures to perform the check at all.
	CheckBindings(ctx context.Context, cfg Config) (fresh bool, err error)
	// RegenerateBindings rewrites the binding cache unconditionally.
	RegenerateBindings(ctx context.Context, cfg Config) error
}
