package dbprep

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultSettingsFile is read from the current directory when no -config is given.
const DefaultSettingsFile = "dbprep.toml"

// Loader kinds.
const (
	LoaderScript = "script"
	LoaderEnvDir = "envdir"
	LoaderNone   = "none"
)

// Migration backends.
const (
	BackendCLI    = "cli"
	BackendNative = "native"
)

// Settings is the on-disk configuration.
type Settings struct {
	Root    string          `toml:"root"`
	Env     EnvSettings     `toml:"env"`
	Storage StorageSettings `toml:"storage"`
	Tools   ToolSettings    `toml:"tools"`
	Log     LogSettings     `toml:"log"`
}

type EnvSettings struct {
	Loader      string `toml:"loader"`       // "script" (default), "envdir" or "none"
	Script      string `toml:"script"`       // relative to root
	EnvDir      string `toml:"env_dir"`      // relative to root
	OverrideVar string `toml:"override_var"` // cleared before loading
}

type StorageSettings struct {
	Dir             string         `toml:"dir"`      // relative to root
	Artifact        string         `toml:"artifact"` // relative to dir
	MissingArtifact ArtifactPolicy `toml:"missing_artifact"`
	MigrationsDir   string         `toml:"migrations_dir"` // relative to dir, native backend only
}

type ToolSettings struct {
	Backend string   `toml:"backend"` // "cli" (default) or "native"
	Diesel  []string `toml:"diesel"`
	Sqlx    []string `toml:"sqlx"`
}

type LogSettings struct {
	Format string `toml:"format"` // pretty, json or text
	Level  string `toml:"level"`  // debug, info, warn or error
}

// DefaultSettings returns the layout of the storage crate this tool was
// written for.
func DefaultSettings() *Settings {
	return &Settings{
		Root: ".",
		Env: EnvSettings{
			Loader:      LoaderScript,
			Script:      ".setup_env",
			EnvDir:      filepath.Join("etc", "env"),
			OverrideVar: "ZKSYNC_ENV",
		},
		Storage: StorageSettings{
			Dir:             filepath.Join("core", "lib", "storage"),
			Artifact:        filepath.Join("src", "schema.rs.generated"),
			MissingArtifact: ArtifactIgnoreMissing,
			MigrationsDir:   "migrations",
		},
		Tools: ToolSettings{
			Backend: BackendCLI,
			Diesel:  []string{"diesel"},
			Sqlx:    []string{"cargo", "sqlx"},
		},
		Log: LogSettings{
			Format: string(LogFormatPretty),
			Level:  "info",
		},
	}
}

// Validate checks enumerated fields.
func (s *Settings) Validate() error {
	switch s.Env.Loader {
	case LoaderScript, LoaderEnvDir, LoaderNone:
	default:
		return fmt.Errorf("env.loader must be one of: script, envdir, none (got %q)", s.Env.Loader)
	}
	switch s.Tools.Backend {
	case BackendCLI, BackendNative:
	default:
		return fmt.Errorf("tools.backend must be one of: cli, native (got %q)", s.Tools.Backend)
	}
	if _, err := ParseArtifactPolicy(string(s.Storage.MissingArtifact)); err != nil {
		return err
	}
	if s.Tools.Backend == BackendCLI && len(s.Tools.Diesel) == 0 {
		return fmt.Errorf("tools.diesel must name a command")
	}
	if len(s.Tools.Sqlx) == 0 {
		return fmt.Errorf("tools.sqlx must name a command")
	}
	if s.Storage.Dir == "" {
		return fmt.Errorf("storage.dir must be set")
	}
	return nil
}

type Manager struct{}

// Read decodes settings on top of the defaults, so omitted keys keep their
// default values.
func (m *Manager) Read(r io.Reader) (*Settings, error) {
	s := DefaultSettings()
	if _, err := toml.NewDecoder(r).Decode(s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

func (m *Manager) Write(w io.Writer, s *Settings) error {
	if err := toml.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return nil
}

// ReadFromFile reads settings from path. When optional is set a missing file
// yields the defaults.
func ReadFromFile(path string, optional bool) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("failed to open settings file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	s, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading settings from %s: %w", path, err)
	}
	return s, nil
}

// Init writes s to path, refusing to overwrite an existing file.
func Init(path string, s *Settings) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("settings file already exists at %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, s); err != nil {
		return fmt.Errorf("writing settings to %s: %w", path, err)
	}
	return nil
}

// NewLoader builds the environment loader named by the settings.
func (s *Settings) NewLoader() Loader {
	switch s.Env.Loader {
	case LoaderEnvDir:
		return &EnvDirLoader{
			Dir:         filepath.Join(s.Root, s.Env.EnvDir),
			OverrideVar: s.Env.OverrideVar,
		}
	case LoaderNone:
		return EnvironLoader{}
	default:
		return &ScriptLoader{
			Path: filepath.Join(s.Root, s.Env.Script),
			Dir:  s.Root,
		}
	}
}

// NewPipeline wires loader, migrator and binder from the settings.
func (s *Settings) NewPipeline(logger *slog.Logger) (*Pipeline, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	cli := &CLI{
		Diesel: s.Tools.Diesel,
		Sqlx:   s.Tools.Sqlx,
		Logger: logger,
	}
	var migrator Migrator = cli
	if s.Tools.Backend == BackendNative {
		migrator = &Native{
			MigrationsDir: s.Storage.MigrationsDir,
			Logger:        logger,
		}
	}
	return &Pipeline{
		Loader:          s.NewLoader(),
		Migrator:        migrator,
		Binder:          cli,
		Root:            s.Root,
		StorageDir:      s.Storage.Dir,
		Artifact:        s.Storage.Artifact,
		MissingArtifact: s.Storage.MissingArtifact,
		OverrideVar:     s.Env.OverrideVar,
		Logger:          logger,
	}, nil
}
