package reflowconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Project config wins over global, global wins over DefaultConfig.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("reflowconfig: loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("reflowconfig: loading project config: %w", err)
		}
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths: a global file
// under the user's home directory and a project-local file under the
// current working directory.
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("reflowconfig: getting home directory: %w", err)
	}
	globalPath := filepath.Join(homeDir, ".reflow", "config.json")
	projectPath := filepath.Join(".reflow", "config.json")
	return Load(globalPath, projectPath)
}

// mergeConfigFile reads path as JSON and overlays it onto base. A missing
// file is silently skipped. Concurrency overlays when non-zero; Retry,
// Store and Server are replaced as whole sections, Retry when any of its
// fields is non-zero, Store when it names a driver, and Server when it
// names an address.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Concurrency != 0 {
		base.Concurrency = loaded.Concurrency
	}
	if loaded.Retry != (RetryConfig{}) {
		base.Retry = loaded.Retry
	}
	if loaded.Store.Driver != "" {
		base.Store = loaded.Store
	}
	if loaded.Server.Addr != "" {
		base.Server = loaded.Server
	}
	// ShutdownOnFailure has no unset sentinel distinct from false, so only
	// a true value overlays base; an explicit false in a file has no
	// effect, and since DefaultConfig sets it to true, a config file
	// cannot turn it off.
	if loaded.ShutdownOnFailure {
		base.ShutdownOnFailure = true
	}

	return nil
}
