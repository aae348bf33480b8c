package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

// Config represents the complete esvacuum configuration.
type Config struct {
	Version       int                 `yaml:"version" json:"version"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Catalog       CatalogConfig       `yaml:"catalog" json:"catalog"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" json:"elasticsearch"`
	Vacuum        VacuumConfig        `yaml:"vacuum" json:"vacuum"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// DatabaseConfig points at the content database.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string. For sqlite it is a file path.
	DSN string `yaml:"dsn" json:"dsn"`
	// Name is the logical database name used in index names ("db").
	Name string `yaml:"name" json:"name"`
	// ObjectsTable is the table holding one row per content object.
	ObjectsTable string `yaml:"objects_table" json:"objects_table"`
}

// CatalogConfig selects and names the search catalog.
type CatalogConfig struct {
	// Backend is "bleve" (local, default) or "elasticsearch".
	Backend string `yaml:"backend" json:"backend"`
	// IndexPrefix prefixes every main index alias.
	IndexPrefix string `yaml:"index_prefix" json:"index_prefix"`
	// BlevePath is the directory holding bleve indexes. Empty keeps them in memory.
	BlevePath string `yaml:"bleve_path" json:"bleve_path"`
	// SubIndexTypes lists content types that get their own sub-index.
	SubIndexTypes []string `yaml:"sub_index_types" json:"sub_index_types"`
}

// ElasticsearchConfig configures the remote catalog backend.
type ElasticsearchConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Username  string   `yaml:"username" json:"username"`
	Password  string   `yaml:"password" json:"password"`
	// Version is the server major version. 6 needs a mapping type.
	Version int `yaml:"version" json:"version"`
	// DocType is the mapping type sent with document requests (ES 6 only).
	DocType    string `yaml:"doc_type" json:"doc_type"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// VacuumConfig tunes the reconciliation passes.
type VacuumConfig struct {
	PageSize  int `yaml:"page_size" json:"page_size"`
	BulkSize  int `yaml:"bulk_size" json:"bulk_size"`
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Workers bounds concurrent bulk flushes.
	Workers int `yaml:"workers" json:"workers"`
	// ScrollKeepAlive is the keep-alive of the first scroll page ("15m").
	ScrollKeepAlive string `yaml:"scroll_keepalive" json:"scroll_keepalive"`
	// ScrollContinue is the keep-alive of follow-up scroll pages ("5m").
	ScrollContinue string `yaml:"scroll_continue" json:"scroll_continue"`
	// Sleep is the pause between continuous passes ("10m").
	Sleep      string `yaml:"sleep" json:"sleep"`
	Continuous bool   `yaml:"continuous" json:"continuous"`
	// StateDir holds the resume state and the process lock.
	StateDir string `yaml:"state_dir" json:"state_dir"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File is the log file. Empty means ~/.esvacuum/logs/vacuum.log.
	File string `yaml:"file" json:"file"`
	// Quiet stops mirroring log records to stderr.
	Quiet bool `yaml:"quiet" json:"quiet"`
}

// NewConfig creates a new Config with defaults: 1000-row pages, bulks of
// 10 actions and a 200-object cache.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "guillotina.db",
			Name:         "db",
			ObjectsTable: "objects",
		},
		Catalog: CatalogConfig{
			Backend:       "bleve",
			IndexPrefix:   "guillotina-",
			BlevePath:     filepath.Join(defaultDataDir(), "catalog"),
			SubIndexTypes: []string{"UniqueIndexContent"},
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:  []string{"http://localhost:9200"},
			Version:    7,
			MaxRetries: 3,
		},
		Vacuum: VacuumConfig{
			PageSize:        1000,
			BulkSize:        10,
			CacheSize:       200,
			Workers:         runtime.NumCPU(),
			ScrollKeepAlive: "15m",
			ScrollContinue:  "5m",
			Sleep:           "10m",
			Continuous:      false,
			StateDir:        filepath.Join(defaultDataDir(), "state"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultDataDir returns ~/.esvacuum, falling back to the temp directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".esvacuum")
	}
	return filepath.Join(home, ".esvacuum")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/esvacuum/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/esvacuum/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "esvacuum", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "esvacuum", "config.yaml")
	}
	return filepath.Join(home, ".config", "esvacuum", "config.yaml")
}

// Load loads configuration for dir. Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/esvacuum/config.yaml)
//  3. Project config (explicit path, or .esvacuum.yaml in dir)
//  4. Environment variables (ESVACUUM_*, DATABASE, ES_VERSION)
func Load(dir, explicit string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if explicit != "" {
		if !fileExists(explicit) {
			return nil, vacerrors.New(vacerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", explicit), nil)
		}
		if err := cfg.loadYAML(explicit); err != nil {
			return nil, err
		}
	} else if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromDir loads .esvacuum.yaml or .esvacuum.yml when present.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{".esvacuum.yaml", ".esvacuum.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return vacerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeString(&c.Database.Driver, other.Database.Driver)
	mergeString(&c.Database.DSN, other.Database.DSN)
	mergeString(&c.Database.Name, other.Database.Name)
	mergeString(&c.Database.ObjectsTable, other.Database.ObjectsTable)

	mergeString(&c.Catalog.Backend, other.Catalog.Backend)
	mergeString(&c.Catalog.IndexPrefix, other.Catalog.IndexPrefix)
	mergeString(&c.Catalog.BlevePath, other.Catalog.BlevePath)
	if len(other.Catalog.SubIndexTypes) > 0 {
		c.Catalog.SubIndexTypes = other.Catalog.SubIndexTypes
	}

	if len(other.Elasticsearch.Addresses) > 0 {
		c.Elasticsearch.Addresses = other.Elasticsearch.Addresses
	}
	mergeString(&c.Elasticsearch.Username, other.Elasticsearch.Username)
	mergeString(&c.Elasticsearch.Password, other.Elasticsearch.Password)
	mergeString(&c.Elasticsearch.DocType, other.Elasticsearch.DocType)
	mergeInt(&c.Elasticsearch.Version, other.Elasticsearch.Version)
	mergeInt(&c.Elasticsearch.MaxRetries, other.Elasticsearch.MaxRetries)

	mergeInt(&c.Vacuum.PageSize, other.Vacuum.PageSize)
	mergeInt(&c.Vacuum.BulkSize, other.Vacuum.BulkSize)
	mergeInt(&c.Vacuum.CacheSize, other.Vacuum.CacheSize)
	mergeInt(&c.Vacuum.Workers, other.Vacuum.Workers)
	mergeString(&c.Vacuum.ScrollKeepAlive, other.Vacuum.ScrollKeepAlive)
	mergeString(&c.Vacuum.ScrollContinue, other.Vacuum.ScrollContinue)
	mergeString(&c.Vacuum.Sleep, other.Vacuum.Sleep)
	mergeString(&c.Vacuum.StateDir, other.Vacuum.StateDir)
	// false is indistinguishable from unset, so only an explicit true sticks.
	if other.Vacuum.Continuous {
		c.Vacuum.Continuous = true
	}

	mergeString(&c.Logging.Level, other.Logging.Level)
	mergeString(&c.Logging.File, other.Logging.File)
	if other.Logging.Quiet {
		c.Logging.Quiet = true
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies environment variable overrides.
// DATABASE and ES_VERSION follow the CI matrix variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE"); v != "" {
		if driver := normalizeDriver(v); driver != "" {
			c.Database.Driver = driver
		}
	}
	if v := os.Getenv("ES_VERSION"); v != "" {
		if major, err := strconv.Atoi(strings.SplitN(v, ".", 2)[0]); err == nil && major > 0 {
			c.Catalog.Backend = "elasticsearch"
			c.Elasticsearch.Version = major
		}
	}

	if v := os.Getenv("ESVACUUM_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = normalizeDriver(v)
	}
	if v := os.Getenv("ESVACUUM_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ESVACUUM_DATABASE_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("ESVACUUM_CATALOG_BACKEND"); v != "" {
		c.Catalog.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("ESVACUUM_INDEX_PREFIX"); v != "" {
		c.Catalog.IndexPrefix = v
	}
	if v := os.Getenv("ESVACUUM_BLEVE_PATH"); v != "" {
		c.Catalog.BlevePath = v
	}
	if v := os.Getenv("ESVACUUM_ES_ADDRESSES"); v != "" {
		c.Elasticsearch.Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv("ESVACUUM_ES_USERNAME"); v != "" {
		c.Elasticsearch.Username = v
	}
	if v := os.Getenv("ESVACUUM_ES_PASSWORD"); v != "" {
		c.Elasticsearch.Password = v
	}
	if v := os.Getenv("ESVACUUM_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Vacuum.PageSize = n
		}
	}
	if v := os.Getenv("ESVACUUM_SLEEP"); v != "" {
		c.Vacuum.Sleep = v
	}
	if v := os.Getenv("ESVACUUM_STATE_DIR"); v != "" {
		c.Vacuum.StateDir = v
	}
	if v := os.Getenv("ESVACUUM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if c.Elasticsearch.Version == 6 && c.Elasticsearch.DocType == "" {
		c.Elasticsearch.DocType = "doc"
	}
}

// normalizeDriver maps driver aliases ("postgresql", "pg") to canonical names.
func normalizeDriver(v string) string {
	switch strings.ToLower(v) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return vacerrors.ConfigError(
			fmt.Sprintf("database.driver must be 'sqlite' or 'postgres', got %q", c.Database.Driver), nil).
			WithSuggestion("set DATABASE=postgresql or database.driver: sqlite")
	}
	if c.Database.DSN == "" {
		return vacerrors.ConfigError("database.dsn must not be empty", nil)
	}
	if !isIdentifier(c.Database.ObjectsTable) {
		return vacerrors.ConfigError(
			fmt.Sprintf("database.objects_table must be a plain identifier, got %q", c.Database.ObjectsTable), nil)
	}

	switch c.Catalog.Backend {
	case "bleve", "elasticsearch":
	default:
		return vacerrors.ConfigError(
			fmt.Sprintf("catalog.backend must be 'bleve' or 'elasticsearch', got %q", c.Catalog.Backend), nil)
	}
	if c.Catalog.Backend == "elasticsearch" && len(c.Elasticsearch.Addresses) == 0 {
		return vacerrors.ConfigError("elasticsearch.addresses must not be empty", nil)
	}

	if c.Vacuum.PageSize <= 0 {
		return vacerrors.ConfigError(fmt.Sprintf("vacuum.page_size must be positive, got %d", c.Vacuum.PageSize), nil)
	}
	if c.Vacuum.BulkSize <= 0 {
		return vacerrors.ConfigError(fmt.Sprintf("vacuum.bulk_size must be positive, got %d", c.Vacuum.BulkSize), nil)
	}
	if c.Vacuum.CacheSize <= 0 {
		return vacerrors.ConfigError(fmt.Sprintf("vacuum.cache_size must be positive, got %d", c.Vacuum.CacheSize), nil)
	}
	if c.Vacuum.Workers <= 0 {
		return vacerrors.ConfigError(fmt.Sprintf("vacuum.workers must be positive, got %d", c.Vacuum.Workers), nil)
	}
	for name, v := range map[string]string{
		"vacuum.scroll_keepalive": c.Vacuum.ScrollKeepAlive,
		"vacuum.scroll_continue":  c.Vacuum.ScrollContinue,
		"vacuum.sleep":            c.Vacuum.Sleep,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return vacerrors.ConfigError(fmt.Sprintf("%s is not a duration: %q", name, v), err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return vacerrors.ConfigError(
			fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}

	return nil
}

// SleepDuration returns Vacuum.Sleep parsed. Validate guarantees it parses.
func (c *Config) SleepDuration() time.Duration {
	d, _ := time.ParseDuration(c.Vacuum.Sleep)
	return d
}

// ScrollDurations returns the first-page and follow-up scroll keep-alives.
func (c *Config) ScrollDurations() (time.Duration, time.Duration) {
	first, _ := time.ParseDuration(c.Vacuum.ScrollKeepAlive)
	next, _ := time.ParseDuration(c.Vacuum.ScrollContinue)
	return first, next
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
