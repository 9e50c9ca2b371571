// Package main implements dbprep, the command-line front end for preparing
// the storage crate's database and query bindings.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bcomnes/dbprep"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(dbprep.ExitCode(err))
	}
}

// Global flags.
var (
	configPath      string
	rootDir         string
	loader          string
	backend         string
	missingArtifact string
	logFormat       string
	logLevel        string
	mode            string
)

var errStale = errors.New("query bindings are stale; run `dbprep prepare`")

// loadSettings reads the settings file and applies flag overrides.
// Precedence: flags, then the settings file, then built-in defaults.
func loadSettings(cmd *cobra.Command) (*dbprep.Settings, error) {
	s, err := dbprep.ReadFromFile(configPath, !cmd.Flag("config").Changed)
	if err != nil {
		return nil, err
	}
	if cmd.Flag("root").Changed {
		s.Root = rootDir
	}
	if cmd.Flag("loader").Changed {
		s.Env.Loader = loader
	}
	if cmd.Flag("backend").Changed {
		s.Tools.Backend = backend
	}
	if cmd.Flag("missing-artifact").Changed {
		s.Storage.MissingArtifact = dbprep.ArtifactPolicy(missingArtifact)
	}
	if cmd.Flag("log-format").Changed {
		s.Log.Format = logFormat
	}
	if cmd.Flag("log-level").Changed {
		s.Log.Level = logLevel
	}
	return s, nil
}

// newPipeline loads settings, installs the logger and builds the pipeline.
func newPipeline(cmd *cobra.Command) (*dbprep.Pipeline, *dbprep.Settings, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := dbprep.NewLogger(os.Stderr, dbprep.ParseLogFormat(s.Log.Format), dbprep.ParseLogLevel(s.Log.Level))
	slog.SetDefault(logger)

	p, err := s.NewPipeline(logger)
	if err != nil {
		return nil, nil, err
	}
	return p, s, nil
}

// withConfig runs the load-config and scope-dir steps, then f.
func withConfig(cmd *cobra.Command, f func(ctx context.Context, p *dbprep.Pipeline, cfg dbprep.Config) error) error {
	p, _, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg, err := p.Prepare(ctx)
	if err != nil {
		return err
	}
	return f(ctx, p, cfg)
}

var rootCmd = &cobra.Command{
	Use:           "dbprep",
	Short:         "Prepare the storage database and query bindings",
	Version:       dbprep.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Set up and migrate the database, then check or regenerate query bindings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		report, err := p.Run(cmd.Context())
		if err != nil {
			return err
		}
		if report.Regenerated {
			fmt.Println("Database ready; query bindings regenerated.")
		} else {
			fmt.Println("Database ready; query bindings up to date.")
		}
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the database if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(cmd, func(ctx context.Context, p *dbprep.Pipeline, cfg dbprep.Config) error {
			return p.Migrator.Setup(ctx, cfg)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(cmd, func(ctx context.Context, p *dbprep.Pipeline, cfg dbprep.Config) error {
			return p.Migrator.Migrate(ctx, cfg)
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that cached query bindings are up to date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(cmd, func(ctx context.Context, p *dbprep.Pipeline, cfg dbprep.Config) error {
			fresh, err := p.Binder.CheckBindings(ctx, cfg)
			if err != nil {
				return err
			}
			if !fresh {
				return errStale
			}
			fmt.Println("Query bindings are up to date.")
			return nil
		})
	},
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Regenerate cached query bindings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(cmd, func(ctx context.Context, p *dbprep.Pipeline, cfg dbprep.Config) error {
			return p.Binder.RegenerateBindings(ctx, cfg)
		})
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the resolved configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(cmd, func(ctx context.Context, p *dbprep.Pipeline, cfg dbprep.Config) error {
			fmt.Printf("Database URL: %s\n", dbprep.RedactURL(cfg.DatabaseURL))
			fmt.Printf("Root:         %s\n", cfg.Root)
			fmt.Printf("Work dir:     %s\n", cfg.WorkDir)
			fmt.Printf("Artifact:     %s (missing: %s)\n", cfg.ArtifactPath(), cfg.MissingArtifact)
			fmt.Printf("Variables:    %d\n", len(cfg.Env))
			return nil
		})
	},
}

var newCmd = &cobra.Command{
	Use:   "new <description>",
	Short: "Create a new empty migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		dir := filepath.Join(s.Root, s.Storage.Dir, s.Storage.MigrationsDir)
		m, err := dbprep.CreateMigration(dir, args[0], mode)
		if err != nil {
			return fmt.Errorf("creating migration: %w", err)
		}
		fmt.Printf("Created migration %s\n", m.Dir)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List migrations and whether each has been applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, s, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cfg, err := p.Prepare(ctx)
		if err != nil {
			return err
		}
		n := &dbprep.Native{MigrationsDir: s.Storage.MigrationsDir, Logger: p.Logger}
		statuses, err := n.Status(ctx, cfg)
		if err != nil {
			return fmt.Errorf("listing migrations: %w", err)
		}
		fmt.Println("Migrations:")
		for _, st := range statuses {
			mark := "[ ]"
			if st.Applied {
				mark = "[x]"
			}
			fmt.Printf("  %s %s %s\n", mark, st.Version, st.Name)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage settings",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default settings file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dbprep.Init(configPath, dbprep.DefaultSettings()); err != nil {
			return fmt.Errorf("failed to initialize settings: %w", err)
		}
		fmt.Printf("Settings initialized at %s\n", configPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		return (&dbprep.Manager{}).Write(os.Stdout, s)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", dbprep.DefaultSettingsFile, "Path to the TOML settings file")
	pf.StringVar(&rootDir, "root", ".", "Repository root")
	pf.StringVar(&loader, "loader", dbprep.LoaderScript, "Environment loader: script, envdir or none")
	pf.StringVar(&backend, "backend", dbprep.BackendCLI, "Migration backend: cli or native")
	pf.StringVar(&missingArtifact, "missing-artifact", string(dbprep.ArtifactIgnoreMissing), "When the generated artifact is absent: ignore or fail")
	pf.StringVar(&logFormat, "log-format", string(dbprep.LogFormatPretty), "Log format: pretty, json or text")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	newCmd.Flags().StringVar(&mode, "mode", "timestamp", "Migration numbering mode: timestamp or int")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(runCmd, setupCmd, migrateCmd, checkCmd, prepareCmd, envCmd, newCmd, listCmd, configCmd)
}
