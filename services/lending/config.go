package lending

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	nativelending "lendledger/native/lending"
)

// Config captures the runtime settings for the embedded lending service.
type Config struct {
	// DataDir holds the LevelDB state. Empty keeps all state in memory.
	DataDir     string `toml:"DataDir" yaml:"data_dir"`
	Environment string `toml:"Environment" yaml:"environment"`
	LogFile     string `toml:"LogFile" yaml:"log_file"`
	LogLevel    string `toml:"LogLevel" yaml:"log_level"`

	Lending nativelending.Config `toml:"Lending" yaml:"lending"`
}

// Load reads a TOML or YAML configuration from disk, chosen by file
// extension, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	cfg.LogLevel = strings.TrimSpace(cfg.LogLevel)
	cfg.Lending.StableToken = strings.TrimSpace(cfg.Lending.StableToken)
	cfg.Lending.CustodyAddress = strings.TrimSpace(cfg.Lending.CustodyAddress)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	return cfg.Lending.Validate()
}

// Level parses LogLevel. An empty level is INFO.
func (cfg Config) Level() (slog.Level, error) {
	var level slog.Level
	if cfg.LogLevel == "" {
		return level, nil
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return level, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
