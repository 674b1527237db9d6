// Package config loads gifcast settings: defaults, then
// $XDG_CONFIG_HOME/gifcast/config.toml, then GIFCAST_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"go2tv.app/gifcast/artifact"
	"go2tv.app/gifcast/probe"
)

const (
	DefaultStopGrace = 5 * time.Second
	minStopGrace     = 500 * time.Millisecond
	maxStopGrace     = time.Minute
)

type Config struct {
	DownloadsDir string
	FFmpegPath   string
	FFprobePath  string
	ProbeTimeout time.Duration
	StopGrace    time.Duration
	Collision    artifact.Collision
	HistoryDB    string
	Notify       bool
	VNCAddress   string
	// Source is the config file that was read, empty if none.
	Source string
}

type fileConfig struct {
	DownloadsDir string `toml:"downloads_dir"`
	FFmpegPath   string `toml:"ffmpeg_path"`
	FFprobePath  string `toml:"ffprobe_path"`
	ProbeTimeout string `toml:"probe_timeout"`
	StopGrace    string `toml:"stop_grace"`
	Collision    string `toml:"collision"`
	HistoryDB    string `toml:"history_db"`
	Notify       *bool  `toml:"notify"`
	VNCAddress   string `toml:"vnc_address"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		ProbeTimeout: probe.DefaultTimeout,
		StopGrace:    DefaultStopGrace,
		Collision:    artifact.CollisionOverwrite,
		HistoryDB:    defaultHistoryDB(),
		Notify:       true,
	}
}

// Load reads the user config file, if any, and the environment.
func Load() (*Config, error) {
	return LoadFile(FilePath())
}

// LoadFile is Load with an explicit config file. A missing file is not an
// error; a malformed one is.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		var fc fileConfig
		_, err := toml.DecodeFile(path, &fc)
		switch {
		case err == nil:
			if err := cfg.apply(fc); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
			cfg.Source = path
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) apply(fc fileConfig) error {
	if fc.DownloadsDir != "" {
		c.DownloadsDir = fc.DownloadsDir
	}
	if fc.FFmpegPath != "" {
		c.FFmpegPath = fc.FFmpegPath
	}
	if fc.FFprobePath != "" {
		c.FFprobePath = fc.FFprobePath
	}
	if fc.ProbeTimeout != "" {
		d, ok := parseDuration(fc.ProbeTimeout)
		if !ok {
			return fmt.Errorf("probe_timeout: invalid duration %q", fc.ProbeTimeout)
		}
		c.ProbeTimeout = d
	}
	if fc.StopGrace != "" {
		d, ok := parseDuration(fc.StopGrace)
		if !ok {
			return fmt.Errorf("stop_grace: invalid duration %q", fc.StopGrace)
		}
		c.StopGrace = d
	}
	if fc.Collision != "" {
		col, err := artifact.ParseCollision(fc.Collision)
		if err != nil {
			return err
		}
		c.Collision = col
	}
	if fc.HistoryDB != "" {
		c.HistoryDB = fc.HistoryDB
	}
	if fc.Notify != nil {
		c.Notify = *fc.Notify
	}
	if fc.VNCAddress != "" {
		c.VNCAddress = fc.VNCAddress
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	cfg.DownloadsDir = StringEnv("GIFCAST_DOWNLOADS_DIR", cfg.DownloadsDir)
	cfg.FFmpegPath = StringEnv("GIFCAST_FFMPEG", cfg.FFmpegPath)
	cfg.FFprobePath = StringEnv("GIFCAST_FFPROBE", cfg.FFprobePath)
	cfg.HistoryDB = StringEnv("GIFCAST_HISTORY_DB", cfg.HistoryDB)
	cfg.VNCAddress = StringEnv("GIFCAST_VNC_ADDRESS", cfg.VNCAddress)
	cfg.Notify = BoolEnv("GIFCAST_NOTIFY", cfg.Notify)
	cfg.ProbeTimeout = DurationEnv("GIFCAST_PROBE_TIMEOUT", cfg.ProbeTimeout, probe.MinTimeout, probe.MaxTimeout)
	cfg.StopGrace = DurationEnv("GIFCAST_STOP_GRACE", cfg.StopGrace, minStopGrace, maxStopGrace)

	if v := StringEnv("GIFCAST_COLLISION", ""); v != "" {
		col, err := artifact.ParseCollision(v)
		if err != nil {
			return fmt.Errorf("GIFCAST_COLLISION: %w", err)
		}
		cfg.Collision = col
	}
	return nil
}

func (c *Config) normalize() {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = probe.DefaultTimeout
	}
	c.ProbeTimeout = clampDuration(c.ProbeTimeout, probe.MinTimeout, probe.MaxTimeout)
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	c.StopGrace = clampDuration(c.StopGrace, minStopGrace, maxStopGrace)
	if c.Collision == "" {
		c.Collision = artifact.CollisionOverwrite
	}
	c.DownloadsDir = ResolveDownloadsDir(c.DownloadsDir)
	c.HistoryDB = expandTilde(c.HistoryDB)
}

// FilePath returns where the config file is looked for.
func FilePath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gifcast", "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "gifcast", "config.toml")
	}
	return ""
}

func defaultHistoryDB() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gifcast", "history.db")
	}
	return filepath.Join(".gifcast", "history.db")
}
