package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rodriguezartav/xtuple/internal/build"
	"github.com/rodriguezartav/xtuple/internal/build/installer"
	"github.com/rodriguezartav/xtuple/internal/build/script"
	"github.com/rodriguezartav/xtuple/internal/datastore"
	"github.com/rodriguezartav/xtuple/internal/restore"
)

// FileName is the base name of the config file looked up in the working directory.
const FileName = "xtbuild"

// EnvPrefix prefixes every environment override, e.g. XTBUILD_DATABASE_PASSWORD.
const EnvPrefix = "XTBUILD"

// Config represents the xtbuild configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Builds   []build.Spec   `mapstructure:"builds"`
	Build    BuildConfig    `mapstructure:"build"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Restore  RestoreConfig  `mapstructure:"restore"`
	Lock     LockConfig     `mapstructure:"lock"`
}

// DatabaseConfig represents the server every build connects to
type DatabaseConfig struct {
	datastore.Credentials `mapstructure:",squash"`
	Driver                string `mapstructure:"driver"`
	MaintenanceDatabase   string `mapstructure:"maintenance_database"`
	Template              string `mapstructure:"template"`
}

// BuildConfig represents how aggregates are assembled
type BuildConfig struct {
	Concurrency    int    `mapstructure:"concurrency"`
	OrmPlacement   string `mapstructure:"orm_placement"`
	NoticeLanguage string `mapstructure:"notice_language"`
}

// TimeoutConfig bounds every external call
type TimeoutConfig struct {
	Query   time.Duration `mapstructure:"query"`
	Exec    time.Duration `mapstructure:"exec"`
	Restore time.Duration `mapstructure:"restore"`
}

// RestoreConfig represents the pg_restore invocation
type RestoreConfig struct {
	Command string `mapstructure:"command"`
}

// LockConfig represents the optional Redis build lock
type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load reads xtbuild.yml (or .yaml/.json) from the working directory, or
// path when it is not empty. A missing default file is not an error; a
// missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.hostname", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "admin")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.driver", datastore.DriverPGX)
	v.SetDefault("database.maintenance_database", "postgres")
	v.SetDefault("database.template", "template1")

	v.SetDefault("build.concurrency", 0)
	v.SetDefault("build.orm_placement", string(installer.PlacementExtension))
	v.SetDefault("build.notice_language", string(script.NoticePLpgSQL))

	v.SetDefault("timeouts.query", 30*time.Second)
	v.SetDefault("timeouts.exec", 30*time.Minute)
	v.SetDefault("timeouts.restore", time.Hour)

	v.SetDefault("restore.command", restore.DefaultCommand)

	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.ttl", 0)
}

// Names returns the database names of every configured build, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Builds))
	for _, b := range c.Builds {
		names = append(names, b.Database)
	}
	sort.Strings(names)
	return names
}

// Select returns the builds named in only, in configuration order. An empty
// only selects every build. Unknown names are returned in unknown.
func (c *Config) Select(only []string) (specs []build.Spec, unknown []string) {
	if len(only) == 0 {
		return append([]build.Spec(nil), c.Builds...), nil
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}
	for _, b := range c.Builds {
		if wanted[b.Database] {
			specs = append(specs, b)
			delete(wanted, b.Database)
		}
	}
	for _, name := range only {
		if wanted[name] {
			unknown = append(unknown, name)
			delete(wanted, name)
		}
	}
	return specs, unknown
}

// InProject checks if the current directory holds an xtbuild config file
func InProject() bool {
	for _, ext := range []string{".yml", ".yaml", ".json"} {
		if _, err := os.Stat(FileName + ext); err == nil {
			return true
		}
	}
	return false
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Build.Concurrency < 0 {
		return fmt.Errorf("build.concurrency must not be negative, got: %d", cfg.Build.Concurrency)
	}
	if _, err := installer.ParsePlacement(cfg.Build.OrmPlacement); err != nil {
		return fmt.Errorf("build.orm_placement: %w", err)
	}
	switch script.NoticeLanguage(cfg.Build.NoticeLanguage) {
	case script.NoticePLpgSQL, script.NoticePLV8, script.NoticeNone:
	default:
		return fmt.Errorf("build.notice_language must be one of plpgsql, plv8 or none, got: %s", cfg.Build.NoticeLanguage)
	}
	if cfg.Database.Driver != datastore.DriverPGX && cfg.Database.Driver != datastore.DriverPQ {
		return fmt.Errorf("database.driver must be %q or %q, got: %s", datastore.DriverPGX, datastore.DriverPQ, cfg.Database.Driver)
	}
	for i, b := range cfg.Builds {
		if b.Database == "" {
			return fmt.Errorf("builds[%d].database is required", i)
		}
		if len(b.Extensions) == 0 {
			return fmt.Errorf("builds[%d] (%s) lists no extensions", i, b.Database)
		}
	}
	return nil
}
