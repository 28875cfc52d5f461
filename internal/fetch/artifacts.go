package fetch

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactWriter persists captured artifact bytes.
type ArtifactWriter interface {
	Save(path string, data []byte) error
}

// FileWriter writes artifacts to the local filesystem, creating parent
// directories as needed.
type FileWriter struct{}

// Save writes data to path.
func (FileWriter) Save(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("%w: empty artifact path", ErrArtifactWrite)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrArtifactWrite, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactWrite, err)
	}
	return nil
}
