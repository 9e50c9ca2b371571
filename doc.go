// SPDX-License-Identifier: MIT

// Package dbprep prepares a storage crate's database and keeps its
// compile-time-checked query bindings fresh.  It loads the project's
// environment, creates and migrates the database, removes the stale
// generated schema file and validates the sqlx query cache, regenerating it
// when the check fails.
//
// Every step runs in order and the first failure stops the run; the only
// handled failure is a stale binding check, which triggers exactly one
// regeneration.  The CLI lives under cmd/dbprep; the core logic is here.
//
// # Quick start
//
//	import (
//	    "context"
//	    "os"
//
//	    "github.com/bcomnes/dbprep"
//	)
//
//	func main() {
//	    p, _ := dbprep.DefaultSettings().NewPipeline(nil)
//	    _, err := p.Run(context.Background())
//	    os.Exit(dbprep.ExitCode(err))
//	}
//
// # Configuration
//
// Settings come from an optional TOML file (dbprep.toml):
//
//   - root                     repository root (default ".")
//   - env.loader               "script", "envdir" or "none"
//   - env.script               shell file sourced for the environment (default ".setup_env")
//   - env.env_dir              directory of <name>.env dotenv files (default "etc/env")
//   - env.override_var         variable cleared before loading (default "ZKSYNC_ENV")
//   - storage.dir              storage crate, relative to root (default "core/lib/storage")
//   - storage.artifact         generated file removed before the check (default "src/schema.rs.generated")
//   - storage.missing_artifact "ignore" or "fail" when that file is absent
//   - tools.backend            "cli" (diesel) or "native" (built-in migrator)
//   - tools.diesel, tools.sqlx argv of the external tools
//
// # Tools
//
// Migrator and Binder abstract the external tools.  CLI shells out to
// `diesel database setup`, `diesel migration run`, `cargo sqlx prepare
// --check` and `cargo sqlx prepare`, passing the loaded environment and the
// storage directory explicitly.  Native implements Migrator in-process for
// PostgreSQL (pgx) and SQLite, reading diesel's migrations/<version>_<name>/
// layout and recording applied versions in __diesel_schema_migrations.
//
// # Exit codes
//
// ExitCode maps a pipeline error to a process status: a failing tool's own
// exit status is propagated, 127 means a tool was not found, 126 that it
// could not be executed, and anything else is 1.
//
// Generated documentation; update whenever public API or CLI flags change.
package dbprep
