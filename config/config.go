// Package config builds the small set of environment-driven settings the
// ambient layer needs (cmd/diffgen, cache, verify). It follows the same
// env-var-first approach as cmd/repl/main.go's GOSBEE_ENGINE/DATABASE_URL
// rather than a flags or YAML framework, and the same functional-options
// construction idiom the teacher uses for its plugins.
package config

import (
	"os"
	"strconv"
)

// Config holds the settings every ambient component reads at startup.
type Config struct {
	// ChangeBufferSchema names the schema holding changes_<oid> tables,
	// mirrored into diff.Context.ChangeBufferSchema.
	ChangeBufferSchema string
	// TestDatabaseURL, when set, points the verify harness at a real
	// PostgreSQL instance; when empty, verify asserts SQL-text shape only.
	TestDatabaseURL string
	// CacheAddr is the redis address package cache dials; empty disables
	// the compiled-program cache.
	CacheAddr string
	// Pretty selects obslog's human-readable console encoding over JSON.
	Pretty bool
}

// Option configures a Config.
type Option func(*Config)

// WithChangeBufferSchema overrides the default change-buffer schema name.
func WithChangeBufferSchema(name string) Option {
	return func(c *Config) { c.ChangeBufferSchema = name }
}

// WithTestDatabaseURL sets the verify harness's target database.
func WithTestDatabaseURL(dsn string) Option {
	return func(c *Config) { c.TestDatabaseURL = dsn }
}

// WithCacheAddr sets the redis address package cache dials.
func WithCacheAddr(addr string) Option {
	return func(c *Config) { c.CacheAddr = addr }
}

// WithPretty toggles obslog's console encoding.
func WithPretty(pretty bool) Option {
	return func(c *Config) { c.Pretty = pretty }
}

// New builds a Config from PGDIFF_CHANGE_BUFFER_SCHEMA, PGDIFF_TEST_DATABASE_URL,
// PGDIFF_CACHE_ADDR, and PGDIFF_PRETTY (a strconv.ParseBool value; unset or
// unparsable leaves Pretty true). Options win: New reads the environment
// first and lets opts override it.
func New(opts ...Option) *Config {
	c := &Config{
		ChangeBufferSchema: envOr("PGDIFF_CHANGE_BUFFER_SCHEMA", "pgdiff"),
		TestDatabaseURL:    os.Getenv("PGDIFF_TEST_DATABASE_URL"),
		CacheAddr:          os.Getenv("PGDIFF_CACHE_ADDR"),
		Pretty:             true,
	}
	if v, err := strconv.ParseBool(os.Getenv("PGDIFF_PRETTY")); err == nil {
		c.Pretty = v
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
