// Package config loads dicomcraft settings from YAML or TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/dicomcraft/internal/logging"
	"github.com/mrsinham/dicomcraft/internal/pixel"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server" toml:"server"`
	Client  ClientConfig   `yaml:"client" toml:"client"`
	Display DisplayConfig  `yaml:"display" toml:"display"`
	Export  ExportConfig   `yaml:"export" toml:"export"`
	Log     logging.Config `yaml:"log" toml:"log"`
}

// ServerConfig configures the reference analyze/generate service.
type ServerConfig struct {
	Address     string   `yaml:"address" toml:"address"`
	BasePath    string   `yaml:"base_path" toml:"base_path"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
	Gzip        bool     `yaml:"gzip" toml:"gzip"`
	// Pixel data larger than this is not inlined in analysis responses.
	MaxInlinePixelBytes int64 `yaml:"max_inline_pixel_bytes" toml:"max_inline_pixel_bytes"`
	// Attach a pre-rendered PNG to analysis responses.
	ConvertImage bool `yaml:"convert_image" toml:"convert_image"`
}

// ClientConfig configures calls to the service.
type ClientConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// Go duration string. Empty or "0" means no timeout.
	Timeout string `yaml:"timeout" toml:"timeout"`
}

// TimeoutDuration parses Timeout.
func (c ClientConfig) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid client timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// DisplayConfig configures rendering.
type DisplayConfig struct {
	Window  string `yaml:"window" toml:"window"`
	Format  string `yaml:"format" toml:"format"`
	Caption bool   `yaml:"caption" toml:"caption"`
	Width   int    `yaml:"width" toml:"width"`
	Height  int    `yaml:"height" toml:"height"`
}

// Policy parses Window.
func (d DisplayConfig) Policy() (pixel.Policy, error) { return pixel.ParsePolicy(d.Window) }

// RasterFormat parses Format.
func (d DisplayConfig) RasterFormat() (pixel.Format, error) { return pixel.ParseFormat(d.Format) }

// ExportConfig configures where generated files are written.
type ExportConfig struct {
	// Bucket URL such as "file:///var/dicom" or "mem://". Empty writes to
	// local paths directly.
	Bucket string `yaml:"bucket" toml:"bucket"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             ":8080",
			BasePath:            "/api/dicom",
			CORSOrigins:         []string{"*"},
			Gzip:                true,
			MaxInlinePixelBytes: 1024 * 1024,
			ConvertImage:        true,
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080/api/dicom",
		},
		Display: DisplayConfig{
			Window: "auto",
			Format: "png",
			Width:  512,
			Height: 512,
		},
		Log: logging.Config{
			Level: "info",
		},
	}
}

// Load reads path as YAML (.yaml, .yml) or TOML (.toml) on top of the
// defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("could not decode TOML config: %w", err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (valid: .yaml, .yml, .toml)", filepath.Ext(path))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = def.Server.BasePath
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = def.Client.BaseURL
	}
	if c.Display.Width <= 0 {
		c.Display.Width = def.Display.Width
	}
	if c.Display.Height <= 0 {
		c.Display.Height = def.Display.Height
	}
}

// Validate checks that every setting parses.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with '/', got %q", c.Server.BasePath)
	}
	if c.Server.MaxInlinePixelBytes < 0 {
		return fmt.Errorf("server.max_inline_pixel_bytes must be >= 0, got %d", c.Server.MaxInlinePixelBytes)
	}
	if _, err := c.Client.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Display.Policy(); err != nil {
		return fmt.Errorf("display.window: %w", err)
	}
	if _, err := c.Display.RasterFormat(); err != nil {
		return fmt.Errorf("display.format: %w", err)
	}
	if _, err := logging.ParseMode(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
