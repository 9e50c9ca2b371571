package dbprep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Loader produces the environment the tools run with. env is the caller's
// environment with the override variable already reset; the returned slice
// is the complete environment, in os.Environ form.
type Loader interface {
	Load(ctx context.Context, env []string) ([]string, error)
}

// EnvironLoader returns env unchanged. Useful when DATABASE_URL is already
// exported, e.g. in CI.
type EnvironLoader struct{}

func (EnvironLoader) Load(_ context.Context, env []string) ([]string, error) {
	return append([]string(nil), env...), nil
}

// sourceScript exports every assignment made by the sourced file and dumps
// the resulting environment NUL-separated. The script's own output goes to
// stderr so it cannot corrupt the dump.
const sourceScript = `set -a; . "$1" 1>&2; set +a; exec env -0`

// ScriptLoader sources a shell file with /bin/sh and captures the
// environment it leaves behind.
type ScriptLoader struct {
	Path   string
	Dir    string    // working directory for the shell
	Shell  string    // defaults to /bin/sh
	Stderr io.Writer // defaults to os.Stderr
}

func (l *ScriptLoader) Load(ctx context.Context, env []string) ([]string, error) {
	path, err := filepath.Abs(l.Path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("setup script: %w", err)
	}

	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", sourceScript, "dbprep-env", path)
	cmd.Dir = l.Dir
	cmd.Env = env
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("sourcing %s: %w", path, err)
	}
	return parseEnvDump(out), nil
}

// parseEnvDump splits `env -0` output into KEY=VALUE entries.
func parseEnvDump(out []byte) []string {
	var env []string
	for _, kv := range bytes.Split(out, []byte{0}) {
		if len(kv) == 0 || !bytes.ContainsRune(kv, '=') {
			continue
		}
		env = append(env, string(kv))
	}
	return env
}

// DefaultEnvName is used when neither the override variable nor the
// `current` file names an environment.
const DefaultEnvName = "dev"

// EnvDirLoader reads <Dir>/<name>.env as a dotenv file. The name comes from
// the override variable or, when that is empty, from <Dir>/current.
type EnvDirLoader struct {
	Dir         string
	OverrideVar string
}

func (l *EnvDirLoader) Load(_ context.Context, env []string) ([]string, error) {
	name := lookupEnv(env, l.OverrideVar)
	if name == "" {
		current, err := os.ReadFile(filepath.Join(l.Dir, "current"))
		switch {
		case err == nil:
			name = strings.TrimSpace(string(current))
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading current environment: %w", err)
		}
	}
	if name == "" {
		name = DefaultEnvName
	}

	file := filepath.Join(l.Dir, name+".env")
	vals, err := godotenv.Read(file)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", file, err)
	}
	out := mergeEnv(env, vals)
	if l.OverrideVar != "" {
		out = setEnv(out, l.OverrideVar, name)
	}
	return out, nil
}

// lookupEnv returns the value of key in env, or "" if absent.
func lookupEnv(env []string, key string) string {
	if key == "" {
		return ""
	}
	prefix := key + "="
	// Later entries win, as with exec.Cmd.Env.
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):]
		}
	}
	return ""
}

// setEnv returns a copy of env with key set to val.
func setEnv(env []string, key, val string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+val)
}

// mergeEnv returns a copy of env with vals applied in key order.
func mergeEnv(env []string, vals map[string]string) []string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := append([]string(nil), env...)
	for _, k := range keys {
		out = setEnv(out, k, vals[k])
	}
	return out
}
