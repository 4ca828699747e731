package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

const (
	defaultPort         = 5432
	defaultSSLMode      = "require"
	defaultPoolMaxConns = 10
)

// Config contains PostgreSQL connection options.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string // disable, require, verify-ca, verify-full
	PoolMaxConns int32
}

// FromMap reads settings produced by config.StoreConfig.DatasourceMap.
// Numbers may arrive as int or, from JSON, float64.
func FromMap(settings map[string]any) (*Config, error) {
	cfg := &Config{
		Host:         stringSetting(settings, "host"),
		Port:         defaultPort,
		User:         stringSetting(settings, "user"),
		Password:     stringSetting(settings, "password"),
		Database:     stringSetting(settings, "database"),
		SSLMode:      defaultSSLMode,
		PoolMaxConns: defaultPoolMaxConns,
	}

	for _, required := range []struct{ key, value string }{
		{"host", cfg.Host},
		{"user", cfg.User},
		{"database", cfg.Database},
	} {
		if required.value == "" {
			return nil, fmt.Errorf("postgres %s is required", required.key)
		}
	}

	if port, ok := intSetting(settings, "port"); ok && port > 0 {
		cfg.Port = port
	}
	if mode := stringSetting(settings, "ssl_mode"); mode != "" {
		cfg.SSLMode = mode
	}
	if n, ok := intSetting(settings, "pool_max_conns"); ok && n > 0 {
		cfg.PoolMaxConns = int32(n)
	}
	return cfg, nil
}

// URL renders the connection URL with credentials escaped.
func (c *Config) URL() string {
	mode := c.SSLMode
	if mode == "" {
		mode = defaultSSLMode
	}
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {mode}}.Encode(),
	}
	return u.String()
}

func stringSetting(settings map[string]any, key string) string {
	s, _ := settings[key].(string)
	return s
}

func intSetting(settings map[string]any, key string) (int, bool) {
	switch n := settings[key].(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
