package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directories under the state dir
const (
	StateDir  = "state"  // state/<session>.json, run progress
	EventsDir = "events" // events/<session>.ndjson, the append-only ledger
)

// RequiredDirectories returns the directories a datascout state dir holds
func RequiredDirectories() []string {
	return []string{StateDir, EventsDir}
}

// Initialize creates the state dir layout with owner-only permissions. Ledgers
// carry prompts and kernel output, so nothing here is world readable.
// Calling it again is a no-op.
func Initialize(root string) error {
	if root == "" {
		return fmt.Errorf("state directory is required")
	}

	for _, dir := range RequiredDirectories() {
		path := filepath.Join(root, dir)
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	return nil
}

// IsInitialized reports whether root holds every required directory
func IsInitialized(root string) (bool, error) {
	for _, dir := range RequiredDirectories() {
		path := filepath.Join(root, dir)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to check directory %s: %w", path, err)
		}

		if !info.IsDir() {
			return false, nil
		}
	}

	return true, nil
}
