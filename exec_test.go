package dbprep

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realDir(t *testing.T, dir string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return resolved
}

// TestCLIPassesEnvAndDir verifies that every tool invocation sees the loaded
// DATABASE_URL and runs inside the storage directory.
func TestCLIPassesEnvAndDir(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	work := realDir(t, t.TempDir())
	env, logPath := fakeToolEnv(t, tmp, "postgres://u:p@h/db", "")
	cfg := Config{DatabaseURL: "postgres://u:p@h/db", Env: env, WorkDir: work}
	cli := fakeCLI()

	require.NoError(t, cli.Setup(ctx, cfg))
	require.NoError(t, cli.Migrate(ctx, cfg))
	fresh, err := cli.CheckBindings(ctx, cfg)
	require.NoError(t, err)
	assert.True(t, fresh)
	require.NoError(t, cli.RegenerateBindings(ctx, cfg))

	assert.Equal(t, []string{
		"database setup|postgres://u:p@h/db|" + work,
		"migration run|postgres://u:p@h/db|" + work,
		"sqlx prepare --check|postgres://u:p@h/db|" + work,
		"sqlx prepare|postgres://u:p@h/db|" + work,
	}, toolCalls(t, logPath))
}

// TestCLICheckBindingsStale verifies that a non-zero check is reported as
// stale rather than as an error.
func TestCLICheckBindingsStale(t *testing.T) {
	tmp := t.TempDir()
	env, _ := fakeToolEnv(t, tmp, "postgres://h/db", "sqlx prepare --check=1")
	cfg := Config{Env: env, WorkDir: tmp}

	fresh, err := fakeCLI().CheckBindings(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, fresh)
}

// TestCLIExitCodePropagates verifies that the tool's own status surfaces.
func TestCLIExitCodePropagates(t *testing.T) {
	tmp := t.TempDir()
	env, _ := fakeToolEnv(t, tmp, "postgres://h/db", "migration run=2")
	cfg := Config{Env: env, WorkDir: tmp}

	err := fakeCLI().Migrate(context.Background(), cfg)
	require.Error(t, err)

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Exited())
	assert.Equal(t, 2, ExitCode(err))
	assert.Equal(t, []string{"migration", "run"}, te.Args)
}

// TestCLIToolNotFound verifies exit code 127 and that a check which cannot
// start is an error, not a stale result.
func TestCLIToolNotFound(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{Env: []string{"PATH=" + tmp}, WorkDir: tmp}
	cli := &CLI{Diesel: []string{"no-such-diesel"}, Sqlx: []string{"no-such-cargo", "sqlx"}}

	err := cli.Setup(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exec.ErrNotFound))
	assert.Equal(t, 127, ExitCode(err))

	fresh, err := cli.CheckBindings(context.Background(), cfg)
	assert.False(t, fresh)
	assert.Error(t, err)
}

// TestLookPathUsesLoadedPath verifies tools are resolved against the PATH of
// the loaded environment, not the current process.
func TestLookPathUsesLoadedPath(t *testing.T) {
	bin := t.TempDir()
	tool := filepath.Join(bin, "fakediesel")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\nexit 0\n"), 0755))

	got, err := lookPath("fakediesel", []string{"PATH=" + bin}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, tool, got)

	_, err = lookPath("fakediesel", []string{"PATH=/nonexistent"}, t.TempDir())
	assert.ErrorIs(t, err, exec.ErrNotFound)

	cfg := Config{Env: []string{"PATH=" + bin}, WorkDir: t.TempDir()}
	assert.NoError(t, (&CLI{Diesel: []string{"fakediesel"}}).Setup(context.Background(), cfg))
}

func TestLookPathNotExecutable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain"), []byte("x"), 0644))

	_, err := lookPath("./plain", nil, dir)
	require.Error(t, err)
	assert.Equal(t, 126, (&ToolError{Tool: "./plain", Err: err}).ExitCode())
}

func TestCLINoCommand(t *testing.T) {
	err := (&CLI{}).Setup(context.Background(), Config{})
	assert.Error(t, err)
}
