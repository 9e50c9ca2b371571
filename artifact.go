package dbprep

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ArtifactPolicy decides what a missing generated artifact means.
type ArtifactPolicy string

const (
	// ArtifactIgnoreMissing treats an absent artifact as already removed.
	ArtifactIgnoreMissing ArtifactPolicy = "ignore"
	// ArtifactFailMissing makes an absent artifact a fatal error.
	ArtifactFailMissing ArtifactPolicy = "fail"
)

// ErrArtifactMissing is returned under ArtifactFailMissing.
var ErrArtifactMissing = errors.New("generated artifact is missing")

// ParseArtifactPolicy parses "ignore" or "fail". Empty means ignore.
func ParseArtifactPolicy(s string) (ArtifactPolicy, error) {
	switch ArtifactPolicy(s) {
	case "", ArtifactIgnoreMissing:
		return ArtifactIgnoreMissing, nil
	case ArtifactFailMissing:
		return ArtifactFailMissing, nil
	default:
		return "", fmt.Errorf("missing_artifact must be one of: ignore, fail (got %q)", s)
	}
}

// RemoveArtifact deletes the file at path and reports whether it existed.
// Errors other than absence are always fatal, including path naming a
// directory.
func RemoveArtifact(path string, policy ArtifactPolicy) (bool, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if policy == ArtifactFailMissing {
				return false, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
			}
			return false, nil
		}
		return false, err
	}
	if fi.IsDir() {
		return false, fmt.Errorf("generated artifact %s is a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}
