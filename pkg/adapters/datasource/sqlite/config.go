package sqlite

import (
	"fmt"
	"net/url"
	"time"
)

// Config contains SQLite connection options.
type Config struct {
	// Path is the database file exported from the filing dataset.
	Path string
	// BusyTimeout bounds how long a reader waits on a locked file.
	BusyTimeout time.Duration
}

// DefaultBusyTimeout returns the default lock wait.
func DefaultBusyTimeout() time.Duration {
	return 5 * time.Second
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{BusyTimeout: DefaultBusyTimeout()}

	if path, ok := config["path"].(string); ok && path != "" {
		cfg.Path = path
	} else {
		return nil, fmt.Errorf("path is required")
	}

	if ms, ok := config["busy_timeout_ms"].(int); ok && ms > 0 {
		cfg.BusyTimeout = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}

// buildDSN opens the file read-only with query_only enforced on every connection.
func buildDSN(cfg *Config) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "query_only(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	return "file:" + cfg.Path + "?" + q.Encode()
}
