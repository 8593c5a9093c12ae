// config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// DefaultConfigFile is read when no --config path is given and the file exists.
const DefaultConfigFile = "lobbying.yaml"

// EnvPrefix is the prefix for configuration environment variables.
// LOBBYLOAD_LOAD__BATCH_SIZE maps to load.batch_size.
const EnvPrefix = "LOBBYLOAD_"

// Connection methods accepted by --method.
const (
	MethodAuto   = "auto"
	MethodLocal  = "local"
	MethodRemote = "remote"
	MethodRest   = "rest"
)

type SourceConfig struct {
	ArchiveURL            string        `koanf:"archive_url"`
	IndexURL              string        `koanf:"index_url"`
	LinkPattern           string        `koanf:"link_pattern"`
	DownloadTimeout       time.Duration `koanf:"download_timeout"`
	TempDir               string        `koanf:"temp_dir"`
	EncodingSampleBytes   int           `koanf:"encoding_sample_bytes"`
	EncodingMinConfidence int           `koanf:"encoding_min_confidence"`
}

type FilterConfig struct {
	RetentionDays int      `koanf:"retention_days"`
	DateColumn    string   `koanf:"date_column"`
	DateTerms     []string `koanf:"date_terms"`
	DateFormats   []string `koanf:"date_formats"`
}

type LoadConfig struct {
	Table         string   `koanf:"table"`
	BatchSize     int      `koanf:"batch_size"`
	RestBatchSize int      `koanf:"rest_batch_size"`
	ProgressEvery int      `koanf:"progress_every"`
	ProgressBar   bool     `koanf:"progress_bar"`
	IndexColumns  []string `koanf:"index_columns"`
	RecreateTable bool     `koanf:"recreate_table"`
	RecordRuns    bool     `koanf:"record_runs"`
	UseCopy       bool     `koanf:"use_copy"`
}

type ConnectionConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig describes one SQL endpoint. Ports are tried in order.
type DatabaseConfig struct {
	Driver   string `koanf:"driver"`
	Host     string `koanf:"host"`
	Ports    []int  `koanf:"ports"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`
	SSLMode  string `koanf:"sslmode"`
}

type RestConfig struct {
	URL        string        `koanf:"url"`
	ServiceKey string        `koanf:"service_key"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Config is built once at startup and passed to every component.
type Config struct {
	Method     string           `koanf:"method"`
	LogLevel   string           `koanf:"log_level"`
	Source     SourceConfig     `koanf:"source"`
	Filter     FilterConfig     `koanf:"filter"`
	Load       LoadConfig       `koanf:"load"`
	Connection ConnectionConfig `koanf:"connection"`
	Local      DatabaseConfig   `koanf:"local"`
	Remote     DatabaseConfig   `koanf:"remote"`
	Rest       RestConfig       `koanf:"rest"`

	// FileUsed is the config file that was read, if any.
	FileUsed string `koanf:"-"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"method":    MethodAuto,
		"log_level": "info",

		"source.archive_url":             "https://lobbycanada.gc.ca/media/zwcjycef/registrations_enregistrements_ocl_cal.zip",
		"source.index_url":               "",
		"source.link_pattern":            "registrations_enregistrements",
		"source.download_timeout":        5 * time.Minute,
		"source.temp_dir":                "",
		"source.encoding_sample_bytes":   64 * 1024,
		"source.encoding_min_confidence": 40,

		"filter.retention_days": 730,
		"filter.date_column":    "",
		"filter.date_terms":     []string{"date", "created", "registered", "filed"},
		"filter.date_formats":   []string{"2006-01-02", "2006/01/02", "01/02/2006", "02/01/2006"},

		"load.table":           "lobby_staging",
		"load.batch_size":      1000,
		"load.rest_batch_size": 500,
		"load.progress_every":  10,
		"load.progress_bar":    false,
		"load.index_columns":   []string{"reg_id_enr", "country_pays"},
		"load.recreate_table":  true,
		"load.record_runs":     true,
		"load.use_copy":        true,

		"connection.timeout": 5 * time.Second,

		"local.driver":   "postgres",
		"local.host":     "localhost",
		"local.ports":    []int{54322},
		"local.user":     "postgres",
		"local.password": "postgres",
		"local.dbname":   "postgres",
		"local.sslmode":  "disable",

		"remote.driver":   "postgres",
		"remote.host":     "",
		"remote.ports":    []int{6543, 5432},
		"remote.user":     "postgres",
		"remote.password": "",
		"remote.dbname":   "postgres",
		"remote.sslmode":  "require",

		"rest.url":         "",
		"rest.service_key": "",
		"rest.timeout":     60 * time.Second,
	}
}

// Load builds the configuration. Precedence, lowest to highest: defaults,
// config file, environment (a .env file is loaded into the environment first),
// explicitly set flags. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	fileUsed := cfgFile
	if fileUsed == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			fileUsed = DefaultConfigFile
		}
	}
	if fileUsed != "" {
		if err := k.Load(file.Provider(fileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", fileUsed, err)
		}
	}

	// .env is optional; variables already set in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Variable names used by the Supabase tooling.
	supabase := map[string]interface{}{}
	if v := os.Getenv("SUPABASE_URL"); v != "" && os.Getenv(EnvPrefix+"REST__URL") == "" {
		supabase["rest.url"] = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_KEY"); v != "" && os.Getenv(EnvPrefix+"REST__SERVICE_KEY") == "" {
		supabase["rest.service_key"] = v
	}
	if len(supabase) > 0 {
		if err := k.Load(confmap.Provider(supabase, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load supabase env vars: %w", err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.FileUsed = fileUsed
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDerived fills the remote endpoint from the REST settings, the way the
// Supabase project URL and service key double as database host and password.
func (c *Config) applyDerived() {
	c.Method = strings.ToLower(strings.TrimSpace(c.Method))
	if c.Remote.Host == "" && c.Rest.URL != "" {
		c.Remote.Host = hostFromURL(c.Rest.URL)
	}
	if c.Remote.Password == "" {
		c.Remote.Password = c.Rest.ServiceKey
	}
	c.Rest.URL = strings.TrimRight(c.Rest.URL, "/")
}

func hostFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	host := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	return strings.TrimRight(host, "/")
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	switch c.Method {
	case MethodAuto, MethodLocal, MethodRemote, MethodRest:
	default:
		return fmt.Errorf("invalid method %q: must be one of auto, local, remote, rest", c.Method)
	}
	if c.Source.ArchiveURL == "" && c.Source.IndexURL == "" {
		return fmt.Errorf("source.archive_url or source.index_url must be set")
	}
	if c.Filter.RetentionDays <= 0 {
		return fmt.Errorf("filter.retention_days must be positive, got %d", c.Filter.RetentionDays)
	}
	if len(c.Filter.DateFormats) == 0 {
		return fmt.Errorf("filter.date_formats must not be empty")
	}
	if c.Load.Table == "" {
		return fmt.Errorf("load.table must be set")
	}
	if c.Load.BatchSize <= 0 || c.Load.RestBatchSize <= 0 {
		return fmt.Errorf("load.batch_size and load.rest_batch_size must be positive")
	}
	if c.Connection.Timeout <= 0 {
		return fmt.Errorf("connection.timeout must be positive")
	}
	for name, db := range map[string]DatabaseConfig{"local": c.Local, "remote": c.Remote} {
		if db.Driver != "postgres" && db.Driver != "mysql" {
			return fmt.Errorf("%s.driver must be postgres or mysql, got %q", name, db.Driver)
		}
	}
	return nil
}

// BatchSizeFor returns the batch size used with the given strategy.
// The REST API takes smaller batches to keep request bodies small.
func (c *Config) BatchSizeFor(strategy string) int {
	if strategy == MethodRest {
		return c.Load.RestBatchSize
	}
	return c.Load.BatchSize
}
