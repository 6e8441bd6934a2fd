package reflowconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save persists cfg to path as indented JSON, creating parent directories
// as needed.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("reflowconfig: marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reflowconfig: creating directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("reflowconfig: writing config to %s: %w", path, err)
	}
	return nil
}
