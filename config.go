package reldb

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the file form of the options used to open a database.
type Config struct {
	Home     string        `mapstructure:"home"`
	InMemory bool          `mapstructure:"in_memory"`
	NoSync   bool          `mapstructure:"no_sync"`
	MmapSize int           `mapstructure:"mmap_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Verbose  bool          `mapstructure:"verbose"`
	LogLevel string        `mapstructure:"log_level"`
}

// LoadConfig reads a YAML, TOML or JSON config file; the format is taken
// from the file extension.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("log_level", "warning")
	v.SetDefault("timeout", 10*time.Second)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Home == "" && !cfg.InMemory {
		return nil, fmt.Errorf("config %s: home is required", path)
	}
	return &cfg, nil
}

// Options returns Options for Open, with a logger writing to stderr at the
// configured level.
func (cfg *Config) Options() (Options, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return Options{}, fmt.Errorf("log_level: %w", err)
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)

	return Options{
		Log:      log,
		Verbose:  cfg.Verbose,
		InMemory: cfg.InMemory,
		NoSync:   cfg.NoSync,
		MmapSize: cfg.MmapSize,
		Timeout:  cfg.Timeout,
	}, nil
}
