package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	Port         int             `toml:"port"`
	DBPath       string          `toml:"db"`
	PollInterval time.Duration   `toml:"poll_interval"`
	MaxRetries   int             `toml:"max_retries"`
	Workers      int             `toml:"workers"`
	LogLevel     string          `toml:"log_level"`
	OutputDir    string          `toml:"output_dir"`
	Secret       string          `toml:"secret"`
	HTTP         HTTPConfig      `toml:"http"`
	Storage      StorageConfig   `toml:"storage"`
	Catalogs     []CatalogConfig `toml:"catalog"`

	// One-shot mode
	Catalog string `toml:"-"`
	Pages   int    `toml:"-"`

	ConfigPath string `toml:"-"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	Timeout    time.Duration `toml:"timeout"`
	RetryCount int           `toml:"retry_count"`
	UserAgent  string        `toml:"user_agent"`
}

// StorageConfig selects where assets are persisted.
type StorageConfig struct {
	Backend      string `toml:"backend"` // "fs" or "s3"
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// CatalogConfig describes one paginated catalog to crawl.
type CatalogConfig struct {
	Name             string `toml:"name"`
	BaseURL          string `toml:"base_url"`
	PagePath         string `toml:"page_path"` // %d is replaced with the page number
	Selector         string `toml:"selector"`
	Attribute        string `toml:"attribute"`
	UnavailableClass string `toml:"unavailable_class"`
	LowRes           string `toml:"low_res"`
	HighRes          string `toml:"high_res"`
	TargetDir        string `toml:"target_dir"`
	MaxPages         int    `toml:"max_pages"`
}

// CooperHewitt is the built-in catalog.
var CooperHewitt = CatalogConfig{
	Name:             "cooper-hewitt",
	BaseURL:          "https://collection.cooperhewitt.org",
	PagePath:         "/types/35251739/page%d",
	Selector:         ".object-image img",
	Attribute:        "src",
	UnavailableClass: "image-not-available",
	LowRes:           "_n.jpg",
	HighRes:          "_b.jpg",
	MaxPages:         5,
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "collector", "runs.db")
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "collector", "config.toml")
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:         8080,
		DBPath:       DefaultDBPath(),
		PollInterval: 5 * time.Second,
		MaxRetries:   3,
		Workers:      10,
		LogLevel:     "info",
		OutputDir:    "data",
		HTTP: HTTPConfig{
			Timeout:    30 * time.Second,
			RetryCount: 2,
			UserAgent:  "collector/1.0",
		},
		Storage: StorageConfig{
			Backend: "fs",
			Region:  "us-east-1",
		},
	}
}

// Load builds Config from defaults, the TOML file, environment and flags,
// in increasing order of precedence.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file path")
	port := fs.Int("port", cfg.Port, "HTTP server port")
	dbPath := fs.String("db", cfg.DBPath, "SQLite database path")
	pollInterval := fs.Duration("poll-interval", cfg.PollInterval, "Dispatcher poll interval")
	maxRetries := fs.Int("max-retries", cfg.MaxRetries, "Maximum attempts per run")
	workers := fs.Int("workers", cfg.Workers, "Number of concurrent batch workers")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	outputDir := fs.String("output-dir", cfg.OutputDir, "Directory assets are written to")
	storage := fs.String("storage", cfg.Storage.Backend, "Storage backend (fs or s3)")
	catalog := fs.String("catalog", CooperHewitt.Name, "Catalog to crawl (run command)")
	pages := fs.Int("pages", 0, "Number of catalog pages to crawl (run command, 0 = catalog default)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ConfigPath = *configPath
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = os.Getenv("COLLECTOR_CONFIG")
	}
	if err := cfg.loadFile(); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	// Flags set explicitly win over everything else
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "db":
			cfg.DBPath = *dbPath
		case "poll-interval":
			cfg.PollInterval = *pollInterval
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "workers":
			cfg.Workers = *workers
		case "log-level":
			cfg.LogLevel = *logLevel
		case "output-dir":
			cfg.OutputDir = *outputDir
		case "storage":
			cfg.Storage.Backend = *storage
		}
	})
	cfg.Catalog = *catalog
	cfg.Pages = *pages

	if len(cfg.Catalogs) == 0 {
		cfg.Catalogs = []CatalogConfig{CooperHewitt}
	}
	cfg.DBPath = ExpandPath(cfg.DBPath)
	cfg.OutputDir = ExpandPath(cfg.OutputDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes the TOML file over cfg. A missing default file is not an error.
func (c *Config) loadFile() error {
	path := c.ConfigPath
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	path = ExpandPath(path)

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config file: %w", err)
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	c.ConfigPath = path
	return nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("COLLECTOR_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if db := os.Getenv("COLLECTOR_DB"); db != "" {
		c.DBPath = db
	}
	if w := os.Getenv("COLLECTOR_WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil {
			c.Workers = n
		}
	}
	if level := os.Getenv("COLLECTOR_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if dir := os.Getenv("COLLECTOR_OUTPUT_DIR"); dir != "" {
		c.OutputDir = dir
	}
	if secret := os.Getenv("COLLECTOR_SECRET"); secret != "" {
		c.Secret = secret
	}
	if backend := os.Getenv("COLLECTOR_STORAGE"); backend != "" {
		c.Storage.Backend = backend
	}
	if bucket := os.Getenv("COLLECTOR_S3_BUCKET"); bucket != "" {
		c.Storage.Bucket = bucket
	}
	if endpoint := os.Getenv("COLLECTOR_S3_ENDPOINT"); endpoint != "" {
		c.Storage.Endpoint = endpoint
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		c.Storage.AccessKey = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		c.Storage.SecretKey = secret
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Storage.Region = region
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case "fs":
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	seen := make(map[string]bool)
	for i, cat := range c.Catalogs {
		if err := cat.Validate(); err != nil {
			return fmt.Errorf("catalog[%d]: %w", i, err)
		}
		if seen[cat.Name] {
			return fmt.Errorf("catalog[%d]: duplicate name %q", i, cat.Name)
		}
		seen[cat.Name] = true
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// FindCatalog returns the catalog named name.
func (c *Config) FindCatalog(name string) (CatalogConfig, bool) {
	for _, cat := range c.Catalogs {
		if cat.Name == name {
			return cat, true
		}
	}
	return CatalogConfig{}, false
}

// Validate checks a catalog definition.
func (cc CatalogConfig) Validate() error {
	switch {
	case cc.Name == "":
		return errors.New("name is required")
	case cc.BaseURL == "":
		return errors.New("base_url is required")
	case !strings.Contains(cc.PagePath, "%d"):
		return fmt.Errorf("page_path %q must contain %%d", cc.PagePath)
	case cc.Selector == "":
		return errors.New("selector is required")
	case cc.MaxPages < 0:
		return errors.New("max_pages must not be negative")
	}
	return nil
}

// Dir returns the directory assets of this catalog are written to.
func (cc CatalogConfig) Dir(outputDir string) string {
	if cc.TargetDir != "" {
		return ExpandPath(cc.TargetDir)
	}
	return filepath.Join(outputDir, cc.Name)
}

// AttributeOrDefault returns the attribute holding the asset reference.
func (cc CatalogConfig) AttributeOrDefault() string {
	if cc.Attribute == "" {
		return "src"
	}
	return cc.Attribute
}

// DefaultMaxPages is the page count of a catalog that sets no max_pages.
const DefaultMaxPages = 1

// PagesOrDefault returns how many pages a run crawls when none is requested.
func (cc CatalogConfig) PagesOrDefault() int {
	if cc.MaxPages < 1 {
		return DefaultMaxPages
	}
	return cc.MaxPages
}
