package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"sudocast/internal/cast"
	"sudocast/pkg/bytesource"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "SUDOCAST_CONFIG"

type Config struct {
	Width       int     `toml:"width"`
	Height      int     `toml:"height"`
	Duration    float64 `toml:"duration"`
	Term        string  `toml:"term"`
	Shell       string  `toml:"shell"`
	Compression string  `toml:"compression"`
	Listen      string  `toml:"listen"`
	IdleLimit   float64 `toml:"idle_limit"` // seconds, 0 disables
}

// Default returns the built-in configuration.
func Default() *Config {
	h := cast.DefaultHeader()
	return &Config{
		Width:       h.Width,
		Height:      h.Height,
		Duration:    h.Duration,
		Term:        h.Term,
		Shell:       h.Shell,
		Compression: string(bytesource.None),
		Listen:      "127.0.0.1:22124",
		IdleLimit:   0,
	}
}

// DefaultPath returns $SUDOCAST_CONFIG, or config.toml below the user
// config directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sudocast", "config.toml"), nil
}

// Load reads the config file at path on top of the defaults. With an
// empty path the default location is used and a missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			// No home directory; defaults only.
			return cfg, nil
		}
		path = p
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("width and height must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Duration < 0 || math.IsNaN(c.Duration) || math.IsInf(c.Duration, 0) {
		return fmt.Errorf("duration must be a non-negative number, got %f", c.Duration)
	}
	if c.IdleLimit < 0 || math.IsNaN(c.IdleLimit) || math.IsInf(c.IdleLimit, 0) {
		return fmt.Errorf("idle_limit must be a non-negative number, got %f", c.IdleLimit)
	}
	if _, err := bytesource.ParseCompression(c.Compression); err != nil {
		return err
	}
	return nil
}

// Header returns the cast header values of the config.
func (c *Config) Header() cast.Header {
	return cast.Header{
		Width:    c.Width,
		Height:   c.Height,
		Duration: c.Duration,
		Term:     c.Term,
		Shell:    c.Shell,
	}
}

// CompressionMode returns the parsed compression setting.
func (c *Config) CompressionMode() bytesource.Compression {
	mode, err := bytesource.ParseCompression(c.Compression)
	if err != nil {
		return bytesource.None
	}
	return mode
}
