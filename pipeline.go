package dbprep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DatabaseURLVar names the connection string variable the tools consume.
const DatabaseURLVar = "DATABASE_URL"

// ErrNoDatabaseURL is returned when the loaded environment lacks DATABASE_URL.
var ErrNoDatabaseURL = errors.New(DatabaseURLVar + " is not set by the loaded environment")

// Config is the resolved, immutable input to every tool invocation.
type Config struct {
	DatabaseURL     string
	Env             []string // complete child environment
	Root            string   // absolute repository root
	WorkDir         string   // absolute storage crate directory
	Artifact        string   // relative to WorkDir
	MissingArtifact ArtifactPolicy
}

// ArtifactPath returns the absolute path of the generated artifact.
func (c Config) ArtifactPath() string {
	if filepath.IsAbs(c.Artifact) {
		return c.Artifact
	}
	return filepath.Join(c.WorkDir, c.Artifact)
}

// Step names a pipeline stage.
type Step string

const (
	StepLoadConfig         Step = "load-config"
	StepScopeDir           Step = "scope-dir"
	StepMigrateSetup       Step = "migrate-setup"
	StepMigrateRun         Step = "migrate-run"
	StepDeleteArtifact     Step = "delete-artifact"
	StepCheckBindings      Step = "check-bindings"
	StepRegenerateBindings Step = "regenerate-bindings"
)

// StepError wraps the failure of a single step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by the pipeline to a process exit status.
// A failing tool's own status is propagated.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te.ExitCode()
	}
	return 1
}

// StepResult records one executed step.
type StepResult struct {
	Step     Step
	Duration time.Duration
	Err      error
}

// Report describes a pipeline run.
type Report struct {
	RunID           string
	Steps           []StepResult
	ArtifactRemoved bool
	Regenerated     bool
}

// Executed returns the names of the steps that ran, in order.
func (r *Report) Executed() []Step {
	steps := make([]Step, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, s.Step)
	}
	return steps
}

// Pipeline prepares the storage crate: load environment, scope the working
// directory, set up and migrate the database, delete the stale generated
// schema, then check the query bindings and regenerate them if stale.
// It stops at the first failure, except that a stale binding check triggers
// regeneration.
type Pipeline struct {
	Loader   Loader
	Migrator Migrator
	Binder   Binder

	Root            string // repository root, default "."
	StorageDir      string // relative to Root
	Artifact        string // relative to StorageDir
	MissingArtifact ArtifactPolicy

	// OverrideVar is reset to empty before Loader runs.
	OverrideVar string
	// BaseEnv is the caller's environment; nil means os.Environ().
	BaseEnv []string

	Logger *slog.Logger
}

// Prepare runs the load-config and scope-dir steps only and returns the
// resulting Config.
func (p *Pipeline) Prepare(ctx context.Context) (Config, error) {
	rep := &Report{RunID: uuid.NewString()}
	return p.prepare(ctx, p.logger().With("run", rep.RunID), rep)
}

// Run executes the full pipeline.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: uuid.NewString()}
	log := p.logger().With("run", rep.RunID)

	cfg, err := p.prepare(ctx, log, rep)
	if err != nil {
		return rep, err
	}

	if err := p.step(ctx, log, rep, StepMigrateSetup, func() error {
		return p.Migrator.Setup(ctx, cfg)
	}); err != nil {
		return rep, err
	}
	if err := p.step(ctx, log, rep, StepMigrateRun, func() error {
		return p.Migrator.Migrate(ctx, cfg)
	}); err != nil {
		return rep, err
	}
	if err := p.step(ctx, log, rep, StepDeleteArtifact, func() error {
		removed, err := RemoveArtifact(cfg.ArtifactPath(), cfg.MissingArtifact)
		rep.ArtifactRemoved = removed
		if err == nil && !removed {
			log.Debug("generated artifact already absent", "path", cfg.ArtifactPath())
		}
		return err
	}); err != nil {
		return rep, err
	}

	var fresh bool
	if err := p.step(ctx, log, rep, StepCheckBindings, func() error {
		var err error
		fresh, err = p.Binder.CheckBindings(ctx, cfg)
		return err
	}); err != nil {
		return rep, err
	}
	if fresh {
		log.Info("query bindings are up to date")
		return rep, nil
	}

	log.Warn("query bindings are stale or invalid, regenerating")
	rep.Regenerated = true
	if err := p.step(ctx, log, rep, StepRegenerateBindings, func() error {
		return p.Binder.RegenerateBindings(ctx, cfg)
	}); err != nil {
		return rep, err
	}
	return rep, nil
}

func (p *Pipeline) prepare(ctx context.Context, log *slog.Logger, rep *Report) (Config, error) {
	var env []string
	if err := p.step(ctx, log, rep, StepLoadConfig, func() error {
		base := p.BaseEnv
		if base == nil {
			base = os.Environ()
		}
		if p.OverrideVar != "" {
			base = setEnv(base, p.OverrideVar, "")
		}
		loaded, err := p.Loader.Load(ctx, base)
		if err != nil {
			return err
		}
		if lookupEnv(loaded, DatabaseURLVar) == "" {
			return ErrNoDatabaseURL
		}
		env = loaded
		return nil
	}); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := p.step(ctx, log, rep, StepScopeDir, func() error {
		root, err := filepath.Abs(orDefault(p.Root, "."))
		if err != nil {
			return err
		}
		dir := p.StorageDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		fi, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		cfg = Config{
			DatabaseURL:     lookupEnv(env, DatabaseURLVar),
			Env:             env,
			Root:            root,
			WorkDir:         dir,
			Artifact:        p.Artifact,
			MissingArtifact: p.MissingArtifact,
		}
		return nil
	}); err != nil {
		return Config{}, err
	}

	log.Info("using database", "url", RedactURL(cfg.DatabaseURL), "dir", cfg.WorkDir)
	return cfg, nil
}

// step runs fn as the named step, recording it in rep.
func (p *Pipeline) step(ctx context.Context, log *slog.Logger, rep *Report, name Step, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &StepError{Step: name, Err: err}
	}
	log.Debug("step started", "step", name)
	start := time.Now()
	err := fn()
	res := StepResult{Step: name, Duration: time.Since(start), Err: err}
	rep.Steps = append(rep.Steps, res)
	if err != nil {
		log.Error("step failed", "step", name, "duration", res.Duration, "error", err)
		return &StepError{Step: name, Err: err}
	}
	log.Info("step finished", "step", name, "duration", res.Duration)
	return nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var dsnPassword = regexp.MustCompile(`(password=)('[^']*'|\S+)`)

// RedactURL hides the password in a URL or key=value connection string.
func RedactURL(s string) string {
	if u, err := url.Parse(s); err == nil && u.User != nil {
		return u.Redacted()
	}
	return dsnPassword.ReplaceAllString(s, "${1}xxxxx")
}
