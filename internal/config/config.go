// Package config handles configuration loading for fraudlens.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/seenimoa/fraudlens/internal/analysis/mscore"
	"github.com/seenimoa/fraudlens/internal/datasource"
	"github.com/seenimoa/fraudlens/internal/report"
)

// EnvPrefix prefixes every environment override, e.g. FRAUDLENS_API_PORT.
const EnvPrefix = "FRAUDLENS"

// Config represents the complete application configuration.
type Config struct {
	Scoring   ScoringConfig   `mapstructure:"scoring"   yaml:"scoring"   json:"scoring"`
	Store     StoreConfig     `mapstructure:"store"     yaml:"store"     json:"store"`
	Screening ScreeningConfig `mapstructure:"screening" yaml:"screening" json:"screening"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"       json:"api"`
	Report    ReportConfig    `mapstructure:"report"    yaml:"report"    json:"report"`
	Filings   FilingsConfig   `mapstructure:"filings"   yaml:"filings"   json:"filings"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"   json:"logging"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-" yaml:"-" json:"file,omitempty"`
}

// ScoringConfig selects the M-Score variant.
type ScoringConfig struct {
	Formula    string `mapstructure:"formula"    yaml:"formula"    json:"formula"`    // "compatible" or "canonical"
	Permissive bool   `mapstructure:"permissive" yaml:"permissive" json:"permissive"` // pass NaN/Inf through instead of failing
}

// StoreConfig selects where analyses are persisted.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"` // "sqlite" or "memory"
	Path   string `mapstructure:"path"   yaml:"path"   json:"path"`
}

// ScreeningConfig holds batch settings.
type ScreeningConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"         json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	AuthToken   string   `mapstructure:"auth_token"   yaml:"auth_token"   json:"-"` // bearer token for /api/v1; empty disables auth
}

// Addr returns host:port for net/http.
func (a APIConfig) Addr() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// ReportConfig holds report rendering settings.
type ReportConfig struct {
	Author    string `mapstructure:"author"     yaml:"author"     json:"author"`
	PDFEngine string `mapstructure:"pdf_engine" yaml:"pdf_engine" json:"pdf_engine"` // "auto", "wkhtmltopdf", "chromium", "none"
}

// FilingsConfig holds EDGAR feed and watcher settings.
type FilingsConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
	BaseURL   string   `mapstructure:"base_url"   yaml:"base_url"   json:"base_url"`
	Watchlist []string `mapstructure:"watchlist"  yaml:"watchlist"  json:"watchlist"` // CIKs
	PollCron  string   `mapstructure:"poll_cron"  yaml:"poll_cron"  json:"poll_cron"` // cron with seconds field
	Form      string   `mapstructure:"form"       yaml:"form"       json:"form"`
	CacheTTL  int      `mapstructure:"cache_ttl"  yaml:"cache_ttl"  json:"cache_ttl"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  json:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.fraudlens/config.yaml (home directory)
//  3. /etc/fraudlens/config.yaml (system)
//
// Environment variables override config file values.
// Format: FRAUDLENS_<SECTION>_<KEY>, e.g., FRAUDLENS_API_AUTH_TOKEN
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".fraudlens"))
	v.AddConfigPath("/etc/fraudlens")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

// Default returns the configuration with every default applied and no file
// or environment input.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	overrideFromEnv(&cfg)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Scoring defaults
	v.SetDefault("scoring.formula", string(mscore.FormulaCompatible))
	v.SetDefault("scoring.permissive", false)

	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", filepath.Join(homeDir(), ".fraudlens", "fraudlens.db"))

	v.SetDefault("screening.workers", 4)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.auth_token", "")

	// Report defaults
	v.SetDefault("report.author", "FraudLens")
	v.SetDefault("report.pdf_engine", string(report.EngineAuto))

	// Filing feed defaults
	v.SetDefault("filings.user_agent", datasource.DefaultUserAgent)
	v.SetDefault("filings.base_url", datasource.EDGARBaseURL)
	v.SetDefault("filings.watchlist", []string{})
	v.SetDefault("filings.poll_cron", "0 */30 * * * *")
	v.SetDefault("filings.form", "10-K")
	v.SetDefault("filings.cache_ttl", 300) // 5 minutes

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv(EnvPrefix + "_API_AUTH_TOKEN"); key != "" {
		cfg.API.AuthToken = key
	}
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	var errs []error
	if _, err := mscore.ParseFormula(c.Scoring.Formula); err != nil {
		errs = append(errs, fmt.Errorf("scoring.formula: %w", err))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path: required for the sqlite driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q (want sqlite or memory)", c.Store.Driver))
	}
	if c.Screening.Workers < 1 {
		errs = append(errs, fmt.Errorf("screening.workers: must be at least 1, got %d", c.Screening.Workers))
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port: %d out of range", c.API.Port))
	}
	if _, err := report.ParsePDFEngine(c.Report.PDFEngine); err != nil {
		errs = append(errs, fmt.Errorf("report.pdf_engine: %w", err))
	}
	if c.Filings.CacheTTL < 0 {
		errs = append(errs, errors.New("filings.cache_ttl: must not be negative"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q (want text or json)", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(homeDir(), rest)
	}
	return path
}
