package fsutil

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		path     string
		data     []byte
		perm     os.FileMode
		existing bool
	}{
		{
			name: "private state file",
			path: filepath.Join(tmpDir, "state.json"),
			data: []byte(`{"status":"running"}`),
			perm: Private,
		},
		{
			name:     "overwrite notebook",
			path:     filepath.Join(tmpDir, "data_exploration.ipynb"),
			data:     []byte("updated content"),
			perm:     Shared,
			existing: true,
		},
		{
			name: "empty file",
			path: filepath.Join(tmpDir, "empty.txt"),
			data: []byte{},
			perm: Private,
		},
		{
			name: "nested directory",
			path: filepath.Join(tmpDir, "out", "runs", "nb.ipynb"),
			data: []byte("nested content"),
			perm: Shared,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.existing {
				if err := os.WriteFile(tt.path, []byte("original"), 0600); err != nil {
					t.Fatalf("failed to create initial file: %v", err)
				}
			}

			if err := AtomicWrite(tt.path, tt.data, tt.perm); err != nil {
				t.Fatalf("AtomicWrite() error = %v", err)
			}

			content, err := os.ReadFile(tt.path)
			if err != nil {
				t.Fatalf("failed to read written file: %v", err)
			}
			if string(content) != string(tt.data) {
				t.Errorf("file content = %q, want %q", string(content), string(tt.data))
			}

			info, err := os.Stat(tt.path)
			if err != nil {
				t.Fatalf("failed to stat file: %v", err)
			}
			if mode := info.Mode().Perm(); mode != tt.perm {
				t.Errorf("file permissions = %o, want %o", mode, tt.perm)
			}
		})
	}
}

func TestAtomicWriteJSON(t *testing.T) {
	tmpDir := t.TempDir()

	type state struct {
		Status string   `json:"status"`
		Steps  int      `json:"steps"`
		Stages []string `json:"stages"`
	}

	path := filepath.Join(tmpDir, "state.json")
	if err := AtomicWriteJSON(path, state{Status: "running", Steps: 2, Stages: []string{"planning"}}, Private); err != nil {
		t.Fatalf("AtomicWriteJSON() error = %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if content[len(content)-1] != '\n' {
		t.Error("JSON file should end with newline")
	}

	var got state
	if err := json.Unmarshal(content, &got); err != nil {
		t.Fatalf("written file is not valid JSON: %v", err)
	}
	if got.Steps != 2 || got.Status != "running" {
		t.Errorf("unexpected content: %+v", got)
	}

	if err := AtomicWriteJSON(filepath.Join(tmpDir, "nil.json"), nil, Private); err == nil {
		t.Error("writing nil should fail")
	}
}

func TestAtomicWriteNoTempFilesLeft(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")

	for i := 0; i < 5; i++ {
		if err := AtomicWrite(testFile, []byte("content"), Private); err != nil {
			t.Fatalf("AtomicWrite() failed: %v", err)
		}
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() != "test.txt" {
			t.Errorf("unexpected file left behind: %s", entry.Name())
		}
	}
}

func TestAtomicWriteConcurrency(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "concurrent.txt")

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			done <- AtomicWrite(testFile, []byte("concurrent write"), Private)
		}()
	}

	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent write failed: %v", err)
		}
	}

	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("failed to read final file: %v", err)
	}
	if string(content) != "concurrent write" {
		t.Errorf("unexpected final content: %q", string(content))
	}
}

func TestWriteArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.ipynb")
	content := []byte(`{"cells":[]}`)

	artifact, err := WriteArtifact(path, content, Shared)
	if err != nil {
		t.Fatalf("WriteArtifact() error = %v", err)
	}

	want := fmt.Sprintf("sha256:%x", sha256.Sum256(content))
	if artifact.SHA256 != want {
		t.Errorf("SHA256 = %s, want %s", artifact.SHA256, want)
	}
	if artifact.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", artifact.Size, len(content))
	}
	if artifact.Path != path {
		t.Errorf("Path = %s, want %s", artifact.Path, path)
	}
}
