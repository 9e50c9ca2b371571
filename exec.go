package dbprep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CLI runs the diesel and sqlx command-line tools. Each command is given as
// argv, e.g. []string{"cargo", "sqlx"}; subcommand arguments are appended.
// Children run in cfg.WorkDir with exactly cfg.Env as their environment.
type CLI struct {
	Diesel []string
	Sqlx   []string
	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
	Logger *slog.Logger
}

// Setup runs `diesel database setup`.
func (c *CLI) Setup(ctx context.Context, cfg Config) error {
	return c.run(ctx, cfg, c.Diesel, "database", "setup")
}

// Migrate runs `diesel migration run`.
func (c *CLI) Migrate(ctx context.Context, cfg Config) error {
	return c.run(ctx, cfg, c.Diesel, "migration", "run")
}

// CheckBindings runs `sqlx prepare --check`. A non-zero exit means the
// bindings are stale.
func (c *CLI) CheckBindings(ctx context.Context, cfg Config) (bool, error) {
	err := c.run(ctx, cfg, c.Sqlx, "prepare", "--check")
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, err
	}
	var te *ToolError
	if errors.As(err, &te) && te.Exited() {
		return false, nil
	}
	return false, err
}

// RegenerateBindings runs `sqlx prepare`.
func (c *CLI) RegenerateBindings(ctx context.Context, cfg Config) error {
	return c.run(ctx, cfg, c.Sqlx, "prepare")
}

func (c *CLI) run(ctx context.Context, cfg Config, argv []string, args ...string) error {
	if len(argv) == 0 {
		return errors.New("no command configured")
	}
	full := append(append([]string(nil), argv[1:]...), args...)

	path, err := lookPath(argv[0], cfg.Env, cfg.WorkDir)
	if err != nil {
		return &ToolError{Tool: argv[0], Args: full, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, full...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = cfg.Env
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	c.logger().Debug("running tool", "tool", argv[0], "args", full, "dir", cfg.WorkDir)
	if err := cmd.Run(); err != nil {
		return &ToolError{Tool: argv[0], Args: full, Err: err}
	}
	return nil
}

func (c *CLI) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// lookPath resolves name against the PATH found in env rather than the
// current process's PATH, since the loaded environment may extend it.
// Names containing a separator are resolved against dir.
func lookPath(name string, env []string, dir string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		if err := isExecutable(name); err != nil {
			return "", err
		}
		return name, nil
	}
	for _, p := range filepath.SplitList(lookupEnv(env, "PATH")) {
		if p == "" {
			p = "."
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		candidate := filepath.Join(p, name)
		if isExecutable(candidate) == nil {
			return candidate, nil
		}
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

func isExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() || fi.Mode()&0111 == 0 {
		return fs.ErrPermission
	}
	return nil
}

// ToolError reports a failed external tool invocation.
type ToolError struct {
	Tool string
	Args []string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Exited reports whether the tool ran and exited with a non-zero status, as
// opposed to failing to start.
func (e *ToolError) Exited() bool {
	var ee *exec.ExitError
	return errors.As(e.Err, &ee)
}

// ExitCode returns the exit status to propagate: the tool's own status when
// it exited, 127 when it could not be found, 126 when it could not be
// executed and 1 otherwise.
func (e *ToolError) ExitCode() int {
	var ee *exec.ExitError
	switch {
	case errors.As(e.Err, &ee):
		if code := ee.ExitCode(); code > 0 {
			return code
		}
		return 1
	case errors.Is(e.Err, exec.ErrNotFound), errors.Is(e.Err, fs.ErrNotExist):
		return 127
	case errors.Is(e.Err, fs.ErrPermission):
		return 126
	default:
		return 1
	}
}
