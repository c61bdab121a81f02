// ABOUTME: Write-then-rename file replacement so readers never see a partial file
// ABOUTME: Used for gateway workspace documents and the routing map

package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write replaces path with data. The parent directory is created if needed.
// The temporary file lives next to path so the rename stays on one filesystem.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	temporaryPath := file.Name()

	// Write, sync, close. On any failure remove the temporary file and
	// report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file for %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file for %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file for %s: %w", path, err)
	}
	if err := os.Chmod(temporaryPath, perm); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
