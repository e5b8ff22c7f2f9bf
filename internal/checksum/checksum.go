package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Prefix tags every digest this package produces
const Prefix = "sha256:"

// SHA256Bytes computes the SHA256 hash of a byte slice and returns it as "sha256:hexstring"
func SHA256Bytes(data []byte) string {
	hash := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(hash[:])
}

// SHA256File computes the SHA256 hash of a file, streaming it so large
// datasets are not loaded into memory
func SHA256File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return Prefix + hex.EncodeToString(hasher.Sum(nil)), nil
}

// Fingerprint identifies the exact dataset a session explored
type Fingerprint struct {
	Path    string    `json:"path"`
	SHA256  string    `json:"sha256"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// FingerprintFile hashes the dataset at path
func FingerprintFile(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to stat dataset: %w", err)
	}
	if info.IsDir() {
		return Fingerprint{}, fmt.Errorf("dataset %s is a directory", path)
	}

	sum, err := SHA256File(path)
	if err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{
		Path:    path,
		SHA256:  sum,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}, nil
}

// VerifyFile checks if a file's SHA256 hash matches the expected value
// Expected format: "sha256:hexstring"
func VerifyFile(path string, expectedSum string) error {
	if !strings.HasPrefix(expectedSum, Prefix) {
		return fmt.Errorf("invalid checksum format: must start with '%s'", Prefix)
	}
	if len(expectedSum) != len(Prefix)+64 {
		return fmt.Errorf("invalid checksum format: expected %d characters, got %d", len(Prefix)+64, len(expectedSum))
	}

	actualSum, err := SHA256File(path)
	if err != nil {
		return fmt.Errorf("failed to compute checksum: %w", err)
	}

	if actualSum != expectedSum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedSum, actualSum)
	}

	return nil
}
