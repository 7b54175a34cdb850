package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"card-exporter/internal/models"
)

// Output formats supported by the export writers.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// APIConfig holds the connection settings for one upstream API. Zero
// values fall back to the shared environment settings and then to the
// client's built-in defaults.
type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIVersion    string `mapstructure:"api_version"`
	ClientKey     string `mapstructure:"client_key"`
	ClientSecret  string `mapstructure:"client_secret"`
	TokenEndpoint string `mapstructure:"token_endpoint"`
	BearerToken   string `mapstructure:"bearer_token"`
	PageSize      int    `mapstructure:"page_size"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
	Timeout       int    `mapstructure:"timeout"`
}

// TokenCacheConfig enables the optional Redis-backed OAuth token cache.
// With no redis_addr the cache is process-local memory only.
type TokenCacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// Environment mirrors the `environment` config block: shared API settings
// at the top level with per-API override blocks.
type Environment struct {
	APIConfig  `mapstructure:",squash"`
	CardAPI    APIConfig        `mapstructure:"card_api"`
	StudentAPI APIConfig        `mapstructure:"university_student_api"`
	HRAPI      APIConfig        `mapstructure:"university_human_resources_api"`
	LegacyAPI  APIConfig        `mapstructure:"legacy_cardholder_api"`
	LookupAPI  APIConfig        `mapstructure:"lookup_api"`
	TokenCache TokenCacheConfig `mapstructure:"token_cache"`
}

// ForCardAPI returns the card API settings with shared environment values
// filled in where the card_api block is silent.
func (e Environment) ForCardAPI() APIConfig { return overlay(e.APIConfig, e.CardAPI) }

// ForStudentAPI is like ForCardAPI for the university student API.
func (e Environment) ForStudentAPI() APIConfig { return overlay(e.APIConfig, e.StudentAPI) }

// ForHRAPI is like ForCardAPI for the university HR API.
func (e Environment) ForHRAPI() APIConfig { return overlay(e.APIConfig, e.HRAPI) }

// ForLegacyAPI is like ForCardAPI for the legacy cardholder API.
func (e Environment) ForLegacyAPI() APIConfig { return overlay(e.APIConfig, e.LegacyAPI) }

// ForLookupAPI is like ForCardAPI for the Lookup web service.
func (e Environment) ForLookupAPI() APIConfig { return overlay(e.APIConfig, e.LookupAPI) }

func overlay(shared, specific APIConfig) APIConfig {
	merged := specific
	if merged.BaseURL == "" {
		merged.BaseURL = shared.BaseURL
	}
	if merged.APIVersion == "" {
		merged.APIVersion = shared.APIVersion
	}
	if merged.ClientKey == "" {
		merged.ClientKey = shared.ClientKey
	}
	if merged.ClientSecret == "" {
		merged.ClientSecret = shared.ClientSecret
	}
	if merged.TokenEndpoint == "" {
		merged.TokenEndpoint = shared.TokenEndpoint
	}
	if merged.BearerToken == "" {
		merged.BearerToken = shared.BearerToken
	}
	if merged.PageSize == 0 {
		merged.PageSize = shared.PageSize
	}
	if merged.RetryAttempts == 0 {
		merged.RetryAttempts = shared.RetryAttempts
	}
	if merged.Timeout == 0 {
		merged.Timeout = shared.Timeout
	}
	return merged
}

// LookupCredentials authenticate against the Lookup web service.
// Anonymous access works but returns a reduced directory.
type LookupCredentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Output configures the export destination.
type Output struct {
	File        string   `mapstructure:"file"`
	Format      string   `mapstructure:"format"`
	Fields      []string `mapstructure:"fields"`
	Deduplicate bool     `mapstructure:"deduplicate"`
}

// Log configures logging; the --quiet and --debug CLI flags override the
// level.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full exporter configuration, merged from one or more YAML
// files.
type Config struct {
	Environment       Environment        `mapstructure:"environment"`
	LookupCredentials LookupCredentials  `mapstructure:"lookup_credentials"`
	Queries           []models.QuerySpec `mapstructure:"queries"`
	Filter            map[string]string  `mapstructure:"filter"`
	// Params is the legacy name for Filter; honored when Filter is empty.
	Params map[string]string `mapstructure:"params"`
	Output Output            `mapstructure:"output"`
	Log    Log               `mapstructure:"log"`
}

// Load reads and deep-merges the given YAML files in order (later files
// win), applies environment variable overrides for credential fields, and
// fills defaults. Every listed file must exist.
func Load(paths []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("output.file", "export.csv")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Credentials can be kept out of config files entirely.
	bindings := map[string]string{
		"environment.client_key":                 "CARD_EXPORTER_CLIENT_KEY",
		"environment.client_secret":              "CARD_EXPORTER_CLIENT_SECRET",
		"environment.bearer_token":               "CARD_EXPORTER_BEARER_TOKEN",
		"environment.token_cache.redis_addr":     "CARD_EXPORTER_REDIS_ADDR",
		"environment.token_cache.redis_password": "CARD_EXPORTER_REDIS_PASSWORD",
		"lookup_credentials.username":            "CARD_EXPORTER_LOOKUP_USERNAME",
		"lookup_credentials.password":            "CARD_EXPORTER_LOOKUP_PASSWORD",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	for i, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
		}
		if i == 0 {
			err = v.ReadConfig(file)
		} else {
			err = v.MergeConfig(file)
		}
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Filter) == 0 && len(cfg.Params) > 0 {
		cfg.Filter = cfg.Params
	}
	if cfg.Output.Format == "" {
		if strings.EqualFold(filepath.Ext(cfg.Output.File), ".xlsx") {
			cfg.Output.Format = FormatXLSX
		} else {
			cfg.Output.Format = FormatCSV
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Output.Format != FormatCSV && c.Output.Format != FormatXLSX {
		return &models.ConfigError{
			Query:  -1,
			Reason: fmt.Sprintf("output.format must be %q or %q, got %q", FormatCSV, FormatXLSX, c.Output.Format),
		}
	}
	return nil
}

// ValidateQueries checks that the export has at least one query and that
// every query's shape matches its source kind. Runs before any fetch.
func (c *Config) ValidateQueries() error {
	if len(c.Queries) == 0 {
		return &models.ConfigError{Query: -1, Reason: "config.queries must be non-empty"}
	}
	for i, query := range c.Queries {
		if err := query.Validate(i); err != nil {
			return err
		}
	}
	return nil
}
