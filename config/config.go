// Package config resolves droidcap settings from defaults, an optional INI
// file and DROIDCAP_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mobile-next/droidcap/utils"
	"gopkg.in/ini.v1"
)

const DefaultPath = "~/.droidcap/config.ini"

type AdbConfig struct {
	Path   string `ini:"path"`
	Host   string `ini:"host"`
	Port   int    `ini:"port"`
	Serial string `ini:"serial"`
}

type MinicapConfig struct {
	// Dir holds the minicap binary and minicap.so on the device.
	Dir          string        `ini:"dir"`
	Socket       string        `ini:"socket"`
	LocalPort    int           `ini:"local_port"`
	Quality      int           `ini:"quality"`
	Scale        float64       `ini:"scale"`
	ReadyTimeout time.Duration `ini:"ready_timeout"`
	FrameTimeout time.Duration `ini:"frame_timeout"`
	MaxFrameSize int           `ini:"max_frame_size"`
}

type RotationConfig struct {
	Enabled bool   `ini:"enabled"`
	Package string `ini:"package"`
	// Initial is the rotation in degrees used when the watcher is unavailable.
	Initial int `ini:"initial"`
}

type ServerConfig struct {
	Listen          string        `ini:"listen"`
	CORS            bool          `ini:"cors"`
	ShutdownTimeout time.Duration `ini:"shutdown_timeout"`
}

type Config struct {
	Adb      AdbConfig
	Minicap  MinicapConfig
	Rotation RotationConfig
	Server   ServerConfig

	// Source is the file the configuration was read from, if any.
	Source string `ini:"-"`
}

func Default() Config {
	return Config{
		Adb: AdbConfig{
			Path: "adb",
		},
		Minicap: MinicapConfig{
			Dir:          "/data/local/tmp",
			Socket:       "minicap",
			ReadyTimeout: 10 * time.Second,
			FrameTimeout: 15 * time.Second,
			MaxFrameSize: 32 << 20,
		},
		Rotation: RotationConfig{
			Enabled: true,
			Package: "jp.co.cyberagent.stf.rotationwatcher",
		},
		Server: ServerConfig{
			Listen:          "localhost:12000",
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load builds the configuration. An empty path reads DefaultPath when that
// file exists; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	resolved, err := utils.ExpandHome(path)
	if err != nil {
		return cfg, err
	}

	if _, err := os.Stat(resolved); err == nil {
		if err := cfg.loadFile(resolved); err != nil {
			return cfg, err
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	sections := []struct {
		name string
		dst  interface{}
	}{
		{"adb", &c.Adb},
		{"minicap", &c.Minicap},
		{"rotation", &c.Rotation},
		{"server", &c.Server},
	}

	for _, s := range sections {
		if !file.HasSection(s.name) {
			continue
		}
		if err := file.Section(s.name).MapTo(s.dst); err != nil {
			return fmt.Errorf("invalid [%s] section in %s: %w", s.name, path, err)
		}
	}

	c.Source = filepath.Clean(path)
	utils.Verbose("Loaded configuration from %s", c.Source)
	return nil
}

func (c Config) Validate() error {
	if c.Adb.Path == "" {
		return errors.New("adb.path must not be empty")
	}
	if c.Adb.Port < 0 || c.Adb.Port > 65535 {
		return fmt.Errorf("adb.port %d is out of range", c.Adb.Port)
	}
	if c.Minicap.LocalPort < 0 || c.Minicap.LocalPort > 65535 {
		return fmt.Errorf("minicap.local_port %d is out of range", c.Minicap.LocalPort)
	}
	if c.Minicap.Quality < 0 || c.Minicap.Quality > 100 {
		return fmt.Errorf("minicap.quality %d must be between 0 and 100", c.Minicap.Quality)
	}
	if c.Minicap.Scale < 0 || c.Minicap.Scale > 1 {
		return fmt.Errorf("minicap.scale %g must be between 0 and 1", c.Minicap.Scale)
	}
	if c.Minicap.ReadyTimeout <= 0 {
		return errors.New("minicap.ready_timeout must be positive")
	}
	if c.Minicap.MaxFrameSize <= 0 {
		return errors.New("minicap.max_frame_size must be positive")
	}
	if c.Rotation.Initial%90 != 0 {
		return fmt.Errorf("rotation.initial %d is not a multiple of 90", c.Rotation.Initial)
	}
	return nil
}
