package dbprep

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	upFile   = "up.sql"
	downFile = "down.sql"
)

// Migration represents a single diesel-style migration directory.
type Migration struct {
	// Version is the directory prefix with dashes removed, e.g. "20240101120000".
	Version string

	// Name is the descriptive part of the directory name.
	Name string

	// Dir is the path to the migration directory.
	Dir string
}

// UpFile returns the path of the migration's apply script.
func (m Migration) UpFile() string {
	return filepath.Join(m.Dir, upFile)
}

// DownFile returns the path of the migration's revert script.
func (m Migration) DownFile() string {
	return filepath.Join(m.Dir, downFile)
}

// getSQL reads the migration's up.sql.
func (m Migration) getSQL() (string, error) {
	data, err := os.ReadFile(m.UpFile())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseMigrationDir splits a directory name such as
// "2024-01-01-120000_create_users" into its version and name.
func parseMigrationDir(base string) (version, name string) {
	prefix, rest, _ := strings.Cut(base, "_")
	return strings.ReplaceAll(prefix, "-", ""), rest
}

// sortMigrations sorts migrations in ascending version order.
func sortMigrations(migs []Migration) {
	sort.Slice(migs, func(i, j int) bool {
		return migs[i].Version < migs[j].Version
	})
}

// GetMigrations scans dir for migration directories and returns them in
// ascending version order. A missing dir yields no migrations.
func GetMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan migrations in %s: %w", dir, err)
	}

	var migrations []Migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		migDir := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(migDir, upFile)); err != nil {
			// Skip directories that are not migrations.
			continue
		}
		version, name := parseMigrationDir(entry.Name())
		if version == "" {
			continue
		}
		if prev, exists := seen[version]; exists {
			return nil, fmt.Errorf("duplicate migration version %s: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()
		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			Dir:     migDir,
		})
	}
	sortMigrations(migrations)
	return migrations, nil
}

// pendingMigrations returns the migrations whose version is not in applied,
// preserving order.
func pendingMigrations(all []Migration, applied map[string]struct{}) []Migration {
	var pending []Migration
	for _, m := range all {
		if _, ok := applied[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending
}
