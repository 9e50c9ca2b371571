package dbprep

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	upTemplate   = "-- Your SQL goes here\n"
	downTemplate = "-- This file should undo anything in `up.sql`\n"
)

var nonAlnum = regexp.MustCompile("[^a-z0-9]+")

// CreateMigration creates a new migration directory with empty up.sql and
// down.sql files under dir.
// description: a human-readable description that will be snake_cased for the directory name.
// mode: "timestamp" (default) for a diesel-style YYYY-MM-DD-HHMMSS prefix or
// "int" for the next zero-padded integer.
func CreateMigration(dir, description, mode string) (Migration, error) {
	name := snakeCase(description)
	if name == "" {
		return Migration{}, fmt.Errorf("migration description %q has no usable characters", description)
	}

	var prefix string
	switch strings.ToLower(mode) {
	case "", "timestamp":
		prefix = time.Now().UTC().Format("2006-01-02-150405")
	case "int":
		existing, err := GetMigrations(dir)
		if err != nil {
			return Migration{}, err
		}
		max := 0
		for _, m := range existing {
			num, err := strconv.Atoi(m.Version)
			if err != nil {
				continue
			}
			if num > max {
				max = num
			}
		}
		prefix = fmt.Sprintf("%03d", max+1)
	default:
		return Migration{}, fmt.Errorf("migration mode must be one of: timestamp, int")
	}

	migDir := filepath.Join(dir, prefix+"_"+name)
	if err := os.MkdirAll(migDir, 0755); err != nil {
		return Migration{}, fmt.Errorf("failed to create migration directory %s: %w", migDir, err)
	}

	m := Migration{Dir: migDir, Name: name}
	m.Version, _ = parseMigrationDir(filepath.Base(migDir))

	if err := os.WriteFile(m.UpFile(), []byte(upTemplate), 0644); err != nil {
		return Migration{}, fmt.Errorf("failed to create migration file %s: %w", m.UpFile(), err)
	}
	if err := os.WriteFile(m.DownFile(), []byte(downTemplate), 0644); err != nil {
		return Migration{}, fmt.Errorf("failed to create migration file %s: %w", m.DownFile(), err)
	}
	return m, nil
}

// snakeCase converts a string to snake_case.
func snakeCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
