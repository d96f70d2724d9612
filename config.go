package indfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/i5heu/ouroboros-indfile/internal/envelope"
	"github.com/i5heu/ouroboros-indfile/pkg/spaceInformations"
	"github.com/i5heu/ouroboros-indfile/storage"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	DefaultMaxFileSize    = 64 << 20
	DefaultListen         = "127.0.0.1:8420"
	DefaultRequestTimeout = 30 * time.Second
	DefaultModule         = "indfile"

	sqliteFileName = "envelopes.db"
)

type Config struct {
	Paths            []string `yaml:"paths"`            // Data directories; the first one holds the store
	MinimumFreeSpace int      `yaml:"minimumFreeSpace"` // in GB
	Backend          string   `yaml:"backend"`          // badger, sqlite or memory
	Compression      string   `yaml:"compression"`      // zstd, xz or none
	RSDataSlices     uint8    `yaml:"rsDataSlices"`
	RSParitySlices   uint8    `yaml:"rsParitySlices"`
	// MaxFileSize limits create payloads in bytes. Zero or negative disables the limit.
	MaxFileSize    int64          `yaml:"maxFileSize"`
	Listen         string         `yaml:"listen"`
	RequestTimeout time.Duration  `yaml:"requestTimeout"`
	StatsInterval  time.Duration  `yaml:"statsInterval"`
	SeedFile       string         `yaml:"seedFile"`
	Module         string         `yaml:"module"` // Name the module seed is derived for
	Logger         *logrus.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig reads a YAML config file and applies defaults for missing keys.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendBadger
	}
	if c.Compression == "" {
		c.Compression = "zstd"
	}
	if c.RSDataSlices == 0 {
		c.RSDataSlices = storage.DefaultRSDataSlices
		if c.RSParitySlices == 0 {
			c.RSParitySlices = storage.DefaultRSParitySlices
		}
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Module == "" {
		c.Module = DefaultModule
	}
	if c.SeedFile == "" && len(c.Paths) > 0 {
		c.SeedFile = filepath.Join(c.Paths[0], "seed.hex")
	}
}

// checkConfig validates the config and creates missing data directories.
func (c *Config) checkConfig() error {
	if _, err := envelope.ParseCompression(c.Compression); err != nil {
		return err
	}

	switch strings.ToLower(c.Backend) {
	case BackendMemory:
		return nil
	case BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if len(c.Paths) == 0 {
		return fmt.Errorf("no path provided in configuration")
	}
	for _, path := range c.Paths {
		if err := spaceInformations.EnsureDirectory(path); err != nil {
			return err
		}
		if err := spaceInformations.CheckFreeSpace(path, c.MinimumFreeSpace); err != nil {
			return err
		}
	}
	return nil
}

// OpenStore opens the storage backend selected by c.Backend.
func OpenStore(c *Config) (storage.Store, error) {
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	if err := c.checkConfig(); err != nil {
		return nil, fmt.Errorf("error checking config: %w", err)
	}

	switch strings.ToLower(c.Backend) {
	case BackendMemory:
		return storage.NewMemoryStore(), nil
	case BackendSQLite:
		s, err := storage.OpenSQLiteStore(filepath.Join(c.Paths[0], sqliteFileName), c.Logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := storage.OpenBadgerStore(storage.BadgerConfig{
			Paths:            c.Paths,
			MinimumFreeSpace: c.MinimumFreeSpace,
			RSDataSlices:     c.RSDataSlices,
			RSParitySlices:   c.RSParitySlices,
			StatsInterval:    c.StatsInterval,
			Logger:           c.Logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
