package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	Dir             string `yaml:"dir"`
	JSON            bool   `yaml:"json"`
	LogLevel        string `yaml:"log_level"`
	DryRun          bool   `yaml:"dry_run"`
	Lock            bool   `yaml:"lock"`
	LockTimeoutSec  int    `yaml:"lock_timeout_sec"`
	MigrationsTable string `yaml:"migrations_table"`
}

var drivers = map[string]bool{"mysql": true, "postgres": true, "sqlite": true}

func Default() *Config {
	return &Config{
		Driver:          "postgres",
		Dir:             "./migrations",
		LogLevel:        "info",
		Lock:            true,
		LockTimeoutSec:  30,
		MigrationsTable: "schema_migrations",
	}
}

// LoadYAML reads path over the defaults. An empty path returns the defaults.
func LoadYAML(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

func MergeEnv(cfg *Config) *Config {
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("LOCK_TIMEOUT_SEC"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.LockTimeoutSec = i
		}
	}
	if v := os.Getenv("MIGRATIONS_TABLE"); v != "" {
		cfg.MigrationsTable = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// Validate checks the settings needed before touching a database.
func (c *Config) Validate() error {
	c.Driver = NormalizeDriver(c.Driver)
	if !drivers[c.Driver] {
		return errors.Errorf("unsupported driver %q (want mysql, postgres or sqlite)", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("dsn is required")
	}
	if strings.TrimSpace(c.MigrationsTable) == "" {
		return errors.New("migrations table is required")
	}
	return nil
}

// NormalizeDriver folds common aliases onto the supported driver names.
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "pg", "pgx", "postgresql", "postgres":
		return "postgres"
	case "sqlite3", "sqlite":
		return "sqlite"
	case "mysql", "mariadb":
		return "mysql"
	default:
		return strings.ToLower(strings.TrimSpace(d))
	}
}

func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTimeoutSec) * time.Second
}
