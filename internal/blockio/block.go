package blockio

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/corelake/lakehouse/internal/idgen"
)

// BlockID is a content-addressed identifier for a data block: the
// base36-encoded SHA-256 digest of its serialized contents.
func BlockID(data []byte) string {
	sum := sha256.Sum256(data)
	return idgen.ShortID(sum[:], 26)
}

// WriteBlock writes data to path atomically: it writes to a temp file in
// the same directory and renames over the destination, so a reader never
// observes a partially written block.
func WriteBlock(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blockio: create block dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("blockio: write block %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("blockio: finalize block %s: %w", path, err)
	}
	return nil
}

// ReadBlock reads and returns the full contents of a block file.
func ReadBlock(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blockio: read block %s: %w", path, err)
	}
	return data, nil
}

// DeleteBlock removes a block file. Missing files are not an error,
// since compaction may race with a concurrent cleanup pass.
func DeleteBlock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blockio: delete block %s: %w", path, err)
	}
	return nil
}
