package dbprep

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	env := []string{"A=1", "B=2", "A=3"}
	assert.Equal(t, "3", lookupEnv(env, "A"))
	assert.Equal(t, "", lookupEnv(env, "C"))
	assert.Equal(t, "", lookupEnv(env, ""))

	set := setEnv(env, "A", "")
	assert.Equal(t, []string{"B=2", "A="}, set)
	assert.Equal(t, []string{"A=1", "B=2", "A=3"}, env, "setEnv must not modify its input")

	merged := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "20", "C": "30"})
	assert.Equal(t, []string{"A=1", "B=20", "C=30"}, merged)
}

func TestParseEnvDump(t *testing.T) {
	out := []byte("A=1\x00MULTI=line one\nline two\x00\x00garbage\x00")
	assert.Equal(t, []string{"A=1", "MULTI=line one\nline two"}, parseEnvDump(out))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// TestScriptLoader sources a setup file and checks that plain assignments are
// exported and that the override variable arrives empty.
func TestScriptLoader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".setup_env"), `
echo "loading environment"
SEEN_OVERRIDE="[$ZKSYNC_ENV]"
DATABASE_URL=postgres://u:p@h/db
ZKSYNC_ENV=dev
`)
	var stderr bytes.Buffer
	l := &ScriptLoader{Path: filepath.Join(root, ".setup_env"), Dir: root, Stderr: &stderr}

	env, err := l.Load(context.Background(), []string{"PATH=" + os.Getenv("PATH"), "ZKSYNC_ENV=", "KEEP=me"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h/db", lookupEnv(env, "DATABASE_URL"))
	assert.Equal(t, "[]", lookupEnv(env, "SEEN_OVERRIDE"))
	assert.Equal(t, "dev", lookupEnv(env, "ZKSYNC_ENV"))
	assert.Equal(t, "me", lookupEnv(env, "KEEP"))
	assert.Contains(t, stderr.String(), "loading environment")
}

func TestScriptLoaderErrors(t *testing.T) {
	root := t.TempDir()
	_, err := (&ScriptLoader{Path: filepath.Join(root, "missing")}).Load(context.Background(), nil)
	assert.Error(t, err)

	writeFile(t, filepath.Join(root, "bad"), "exit 3\n")
	_, err = (&ScriptLoader{Path: filepath.Join(root, "bad"), Dir: root, Stderr: &bytes.Buffer{}}).
		Load(context.Background(), []string{"PATH=" + os.Getenv("PATH")})
	assert.Error(t, err)
}

func TestEnvDirLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dev.env"), "DATABASE_URL=postgres://dev/db\n")
	writeFile(t, filepath.Join(dir, "stage.env"), "# stage\nDATABASE_URL=\"postgres://stage/db\"\nEXTRA=1\n")
	l := &EnvDirLoader{Dir: dir, OverrideVar: "ZKSYNC_ENV"}
	ctx := context.Background()

	t.Run("defaults to dev", func(t *testing.T) {
		env, err := l.Load(ctx, []string{"ZKSYNC_ENV="})
		require.NoError(t, err)
		assert.Equal(t, "postgres://dev/db", lookupEnv(env, "DATABASE_URL"))
		assert.Equal(t, "dev", lookupEnv(env, "ZKSYNC_ENV"))
	})

	t.Run("current file", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "current"), "stage\n")
		defer os.Remove(filepath.Join(dir, "current"))

		env, err := l.Load(ctx, []string{"ZKSYNC_ENV="})
		require.NoError(t, err)
		assert.Equal(t, "postgres://stage/db", lookupEnv(env, "DATABASE_URL"))
		assert.Equal(t, "1", lookupEnv(env, "EXTRA"))
		assert.Equal(t, "stage", lookupEnv(env, "ZKSYNC_ENV"))
	})

	t.Run("override wins over current", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "current"), "stage\n")
		defer os.Remove(filepath.Join(dir, "current"))

		env, err := l.Load(ctx, []string{"ZKSYNC_ENV=dev"})
		require.NoError(t, err)
		assert.Equal(t, "postgres://dev/db", lookupEnv(env, "DATABASE_URL"))
	})

	t.Run("missing env file", func(t *testing.T) {
		_, err := l.Load(ctx, []string{"ZKSYNC_ENV=prod"})
		assert.Error(t, err)
	})
}

func TestEnvironLoader(t *testing.T) {
	in := []string{"DATABASE_URL=postgres://h/db"}
	out, err := EnvironLoader{}.Load(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
