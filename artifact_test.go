package dbprep

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRemoveArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.rs.generated")
	if err := os.WriteFile(path, []byte("// generated"), 0644); err != nil {
		t.Fatal(err)
	}

	removed, err := RemoveArtifact(path, ArtifactFailMissing)
	if err != nil {
		t.Fatalf("RemoveArtifact failed: %v", err)
	}
	if !removed {
		t.Error("expected removed to be true")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be gone, stat err = %v", path, err)
	}
}

// TestRemoveArtifactMissing covers both policies for an absent file.
func TestRemoveArtifactMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.rs.generated")

	removed, err := RemoveArtifact(path, ArtifactIgnoreMissing)
	if err != nil || removed {
		t.Errorf("ignore policy: got (%v, %v), want (false, nil)", removed, err)
	}

	_, err = RemoveArtifact(path, ArtifactFailMissing)
	if !errors.Is(err, ErrArtifactMissing) {
		t.Errorf("fail policy: expected ErrArtifactMissing, got %v", err)
	}
}

func TestRemoveArtifactDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := RemoveArtifact(dir, ArtifactIgnoreMissing); err == nil {
		t.Fatal("expected an error removing a directory")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory should still exist: %v", err)
	}
}

func TestParseArtifactPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ArtifactPolicy
		wantErr bool
	}{
		{"", ArtifactIgnoreMissing, false},
		{"ignore", ArtifactIgnoreMissing, false},
		{"fail", ArtifactFailMissing, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		got, err := ParseArtifactPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseArtifactPolicy(%q) = (%q, %v)", tt.in, got, err)
		}
	}
}
