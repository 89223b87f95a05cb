package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds every setting the conversion service needs. It is loaded once
// and handed to components by value; nothing reads configuration globally.
type Config struct {
	DBPath    string `mapstructure:"db_path" validate:"required"`
	HTTPPort  int    `mapstructure:"http_port" validate:"gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`

	MaxWorkers int    `mapstructure:"max_workers" validate:"gt=0"`
	QueueSize  int    `mapstructure:"queue_size" validate:"gt=0"`
	SpoolDir   string `mapstructure:"spool_dir"`

	// Housekeeping: finished live logs and task history older than the
	// retention are removed on MaintenanceSchedule (cron syntax).
	MaintenanceSchedule string        `mapstructure:"maintenance_schedule"`
	LiveLogRetention    time.Duration `mapstructure:"livelog_retention" validate:"gte=0"`
	HistoryRetention    time.Duration `mapstructure:"history_retention" validate:"gte=0"`

	// Library layout. With a split library the book files live in
	// CalibreSplitDir while metadata.db stays in CalibreDir.
	CalibreDir      string `mapstructure:"calibre_dir" validate:"required"`
	CalibreSplit    bool   `mapstructure:"calibre_split"`
	CalibreSplitDir string `mapstructure:"calibre_split_dir" validate:"required_if=CalibreSplit true"`

	ConverterPath  string        `mapstructure:"converter_path"`
	ConverterArgs  string        `mapstructure:"converter_args"`
	KepubifyPath   string        `mapstructure:"kepubify_path"`
	BinariesDir    string        `mapstructure:"binaries_dir"`
	EmbedMetadata  bool          `mapstructure:"embed_metadata"`
	ConvertTimeout time.Duration `mapstructure:"convert_timeout" validate:"gte=0"`
	TempDir        string        `mapstructure:"temp_dir"`

	RemoteStorage bool   `mapstructure:"remote_storage"`
	RemoteDir     string `mapstructure:"remote_dir" validate:"required_if=RemoteStorage true"`
}

var defaults = map[string]any{
	"db_path":     "/data/bookconv.db",
	"http_port":   8083,
	"log_level":   "info",
	"log_format":  "text",
	"max_workers": 2,
	"queue_size":  100,
	"spool_dir":   "",

	"maintenance_schedule": "@every 10m",
	"livelog_retention":    "1h",
	"history_retention":    "720h",

	"calibre_dir":       "/books",
	"calibre_split":     false,
	"calibre_split_dir": "",
	"converter_path":    "/usr/bin/ebook-convert",
	"converter_args":    "",
	"kepubify_path":     "",
	"binaries_dir":      "/usr/bin",
	"embed_metadata":    true,
	"convert_timeout":   "0s",
	"temp_dir":          "",
	"remote_storage":    false,
	"remote_dir":        "",
}

// Load reads configuration from defaults, an optional YAML file and
// BOOKCONV_* environment variables, in increasing order of precedence.
// An empty configFile searches ./bookconv.yaml and /etc/bookconv/bookconv.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("bookconv")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bookconv")
	}

	v.SetEnvPrefix("BOOKCONV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-level constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) HTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// BookPath is the root under which book directories are stored.
func (c *Config) BookPath() string {
	if c.CalibreSplit {
		return c.CalibreSplitDir
	}
	return c.CalibreDir
}

// MetadataDBPath is the location of the library's metadata.db.
func (c *Config) MetadataDBPath() string {
	return filepath.Join(c.CalibreDir, "metadata.db")
}

// CalibredbPath is the calibredb executable inside BinariesDir.
func (c *Config) CalibredbPath() string {
	return filepath.Join(c.BinariesDir, "calibredb")
}

// UseKepubify reports whether the dedicated EPUB to KEPUB converter applies
// to the given pair of formats.
func (c *Config) UseKepubify(oldFormat, newFormat string) bool {
	return c.KepubifyPath != "" &&
		strings.EqualFold(oldFormat, "epub") &&
		strings.EqualFold(newFormat, "kepub")
}
