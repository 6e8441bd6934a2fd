// Package reflowconfig loads and saves the JSON configuration file that
// controls the scheduler, snapshot store, and server the cmd binaries
// wire together -- the engine core itself (graph, target, execution)
// takes no configuration of its own (§6.6 of the design).
package reflowconfig

import "time"

// RetryConfig mirrors localscheduler.RetryConfig in a JSON-friendly form.
type RetryConfig struct {
	InitialInterval     time.Duration `json:"initial_interval"`
	MaxInterval         time.Duration `json:"max_interval"`
	MaxElapsedTime      time.Duration `json:"max_elapsed_time"`
	Multiplier          float64       `json:"multiplier"`
	RandomizationFactor float64       `json:"randomization_factor"`
}

// StoreConfig selects and configures a snapshot.FrozenExecution backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver"`
	// Path is the SQLite database file path, used when Driver is "sqlite".
	Path string `json:"path,omitempty"`
	// DSN is the Postgres connection string, used when Driver is "postgres".
	DSN string `json:"dsn,omitempty"`
}

// ServerConfig configures the optional HTTP server.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// Config is the top-level configuration document.
type Config struct {
	Concurrency       int          `json:"concurrency"`
	ShutdownOnFailure bool         `json:"shutdown_on_failure"`
	Retry             RetryConfig  `json:"retry"`
	Store             StoreConfig  `json:"store"`
	Server            ServerConfig `json:"server"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:       4,
		ShutdownOnFailure: true,
		Retry: RetryConfig{
			InitialInterval:     100 * time.Millisecond,
			MaxInterval:         10 * time.Second,
			MaxElapsedTime:      2 * time.Minute,
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   ".reflow/runs.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}
