// Package config loads adrenalset settings through viper.
//
// Values come from (highest priority first) command-line flags bound by
// the cmd package, ADRENALSET_* environment variables, the config file
// (adrenalset.yaml or --config) and the defaults registered here.
package config

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the default config file name, without extension.
const FileName = "adrenalset"

type Config struct {
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
	Data     DataConfig    `mapstructure:"data" yaml:"data"`
	Loader   LoaderConfig  `mapstructure:"loader" yaml:"loader"`
	Output   OutputConfig  `mapstructure:"output" yaml:"output"`
	QA       QAConfig      `mapstructure:"qa" yaml:"qa"`
	Catalog  CatalogConfig `mapstructure:"catalog" yaml:"catalog"`
}

type DataConfig struct {
	// Dir is the data root holding <side>/<class>/ directories.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type LoaderConfig struct {
	Frames     int        `mapstructure:"frames" yaml:"frames"`
	Width      int        `mapstructure:"width" yaml:"width"`
	Height     int        `mapstructure:"height" yaml:"height"`
	Crop       CropConfig `mapstructure:"crop" yaml:"crop"`
	Extensions []string   `mapstructure:"extensions" yaml:"extensions"`
	Workers    int        `mapstructure:"workers" yaml:"workers"`
}

// CropConfig is a rectangle in source frame pixels. A zero width or
// height means the whole frame.
type CropConfig struct {
	X      int `mapstructure:"x" yaml:"x"`
	Y      int `mapstructure:"y" yaml:"y"`
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type QAConfig struct {
	Columns             int     `mapstructure:"columns" yaml:"columns"`
	DuplicateThreshold  float64 `mapstructure:"duplicate_threshold" yaml:"duplicate_threshold"`
	FingerprintSize     int     `mapstructure:"fingerprint_size" yaml:"fingerprint_size"`
	ExtractIntervalSecs int     `mapstructure:"extract_interval" yaml:"extract_interval"`
}

type CatalogConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data.dir", "data")
	v.SetDefault("loader.frames", 32)
	v.SetDefault("loader.width", 128)
	v.SetDefault("loader.height", 128)
	v.SetDefault("loader.crop.x", 0)
	v.SetDefault("loader.crop.y", 0)
	v.SetDefault("loader.crop.width", 0)
	v.SetDefault("loader.crop.height", 0)
	v.SetDefault("loader.extensions", []string{".mp4", ".avi", ".mov", ".mkv"})
	v.SetDefault("loader.workers", 4)
	v.SetDefault("output.dir", "dataset")
	v.SetDefault("qa.columns", 8)
	v.SetDefault("qa.duplicate_threshold", 0.995)
	v.SetDefault("qa.fingerprint_size", 8)
	v.SetDefault("qa.extract_interval", 5)
	v.SetDefault("catalog.postgres.enabled", false)
	v.SetDefault("catalog.postgres.host", "localhost")
	v.SetDefault("catalog.postgres.port", "5432")
	v.SetDefault("catalog.postgres.user", "postgres")
	v.SetDefault("catalog.postgres.password", "")
	v.SetDefault("catalog.postgres.dbname", "adrenalset")
}

// Default returns the configuration made of defaults only.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		// defaults always unmarshal
		panic(err)
	}
	return cfg
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Loader.Frames <= 0 {
		errs = append(errs, fmt.Errorf("loader.frames must be positive, got %d", c.Loader.Frames))
	}
	if c.Loader.Width <= 0 || c.Loader.Height <= 0 {
		errs = append(errs, fmt.Errorf("loader.width and loader.height must be positive, got %dx%d", c.Loader.Width, c.Loader.Height))
	}
	if c.Loader.Crop.Width < 0 || c.Loader.Crop.Height < 0 {
		errs = append(errs, fmt.Errorf("loader.crop size must not be negative"))
	}
	if c.Loader.Workers <= 0 {
		errs = append(errs, fmt.Errorf("loader.workers must be positive, got %d", c.Loader.Workers))
	}
	if len(c.Loader.Extensions) == 0 {
		errs = append(errs, errors.New("loader.extensions must not be empty"))
	}
	if c.QA.Columns <= 0 {
		errs = append(errs, fmt.Errorf("qa.columns must be positive, got %d", c.QA.Columns))
	}
	if c.QA.FingerprintSize <= 0 {
		errs = append(errs, fmt.Errorf("qa.fingerprint_size must be positive, got %d", c.QA.FingerprintSize))
	} else if side := min(c.Loader.Width, c.Loader.Height); side > 0 && c.QA.FingerprintSize > side {
		errs = append(errs, fmt.Errorf("qa.fingerprint_size %d does not fit %dx%d frames", c.QA.FingerprintSize, c.Loader.Width, c.Loader.Height))
	}
	if c.QA.DuplicateThreshold <= 0 || c.QA.DuplicateThreshold > 1 {
		errs = append(errs, fmt.Errorf("qa.duplicate_threshold must be in (0, 1], got %g", c.QA.DuplicateThreshold))
	}
	return errors.Join(errs...)
}

// CropRect returns the crop as an image.Rectangle, or the zero rectangle
// when cropping is disabled.
func (c LoaderConfig) CropRect() image.Rectangle {
	if c.Crop.Width == 0 || c.Crop.Height == 0 {
		return image.Rectangle{}
	}
	return image.Rect(c.Crop.X, c.Crop.Y, c.Crop.X+c.Crop.Width, c.Crop.Y+c.Crop.Height)
}

// ConnString builds the postgres connection URL.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.DBName)
}

// WriteDefault writes the default configuration as YAML to path unless a
// file already exists there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write config file '%s': %w", path, err)
	}
	return true, nil
}
