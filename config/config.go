package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Account  AccountConfig  `toml:"account"`
	Platform PlatformConfig `toml:"platform"`
	Options  OptionsConfig  `toml:"options"`
	Points   PointsConfig   `toml:"points"`
}

type AccountConfig struct {
	Token     string `toml:"token"`
	UserAgent string `toml:"user_agent"`
}

type PlatformConfig struct {
	APIBase    string `toml:"api_base"`
	GatewayURL string `toml:"gateway_url"`
	GuildID    string `toml:"guild_id"`
}

type OptionsConfig struct {
	SaveLocation        string   `toml:"save_location"`
	Channels            []string `toml:"channels"`
	MediaExtensions     []string `toml:"media_extensions"`
	DownloadConcurrency int      `toml:"download_concurrency"`
	PageSize            int      `toml:"page_size"`
	MaxRetries          int      `toml:"max_retries"`
	BackoffBaseSeconds  int      `toml:"backoff_base_seconds"`
	BackoffCapSeconds   int      `toml:"backoff_cap_seconds"`
	WindowDays          int      `toml:"window_days"`
	LeaderboardSize     int      `toml:"leaderboard_size"`
}

type PointsConfig struct {
	EarnAmount          float64 `toml:"earn_amount"`
	EarnCooldownSeconds int     `toml:"earn_cooldown_seconds"`
	DecayAmount         float64 `toml:"decay_amount"`
	DecayIntervalHours  int     `toml:"decay_interval_hours"`
	LeaderboardChannel  string  `toml:"leaderboard_channel"`
}

// DefaultMediaExtensions is the recognized attachment extension allow-list.
var DefaultMediaExtensions = []string{
	"jpg", "jpeg", "png", "gif", "bmp", "webp", "mp4", "mov", "avi", "mkv",
}

func DefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			UserAgent: "chatvault",
		},
		Platform: PlatformConfig{
			APIBase: "https://discord.com/api/v10",
		},
		Options: OptionsConfig{
			SaveLocation:        defaultSaveLocation(),
			MediaExtensions:     DefaultMediaExtensions,
			DownloadConcurrency: 6,
			PageSize:            100,
			MaxRetries:          5,
			BackoffBaseSeconds:  1,
			BackoffCapSeconds:   16,
			WindowDays:          7,
			LeaderboardSize:     10,
		},
		Points: PointsConfig{
			EarnAmount:          5,
			EarnCooldownSeconds: 60,
			DecayAmount:         0.5,
			DecayIntervalHours:  24,
		},
	}
}

func defaultSaveLocation() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatvault-archive"
	}
	return filepath.Join(home, "chatvault-archive")
}

func GetConfigPath() string {
	currentDirConfig := "config.toml"
	if _, err := os.Stat(currentDirConfig); err == nil {
		return currentDirConfig
	}
	return filepath.Join(GetConfigDir(), "config.toml")
}

func GetConfigDir() string {
	var configDir string
	var err error

	if runtime.GOOS == "darwin" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatal(err)
		}
		configDir = filepath.Join(homeDir, ".config")
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			log.Fatal(err)
		}
	}

	return filepath.Join(configDir, "chatvault")
}

func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", configPath, err)
	}
	cfg.applyFallbacks()
	return cfg, nil
}

func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}
	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	return encoder.Encode(cfg)
}

// EnsureConfigExists writes a default config file when none is present yet.
func EnsureConfigExists(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return SaveConfig(DefaultConfig(), configPath)
}

func (c *Config) applyFallbacks() {
	def := DefaultConfig()
	if c.Options.SaveLocation == "" {
		c.Options.SaveLocation = def.Options.SaveLocation
	}
	if len(c.Options.MediaExtensions) == 0 {
		c.Options.MediaExtensions = def.Options.MediaExtensions
	}
	if c.Options.DownloadConcurrency <= 0 {
		c.Options.DownloadConcurrency = def.Options.DownloadConcurrency
	}
	if c.Options.PageSize <= 0 {
		c.Options.PageSize = def.Options.PageSize
	}
	if c.Options.MaxRetries <= 0 {
		c.Options.MaxRetries = def.Options.MaxRetries
	}
	if c.Options.BackoffBaseSeconds <= 0 {
		c.Options.BackoffBaseSeconds = def.Options.BackoffBaseSeconds
	}
	if c.Options.BackoffCapSeconds <= 0 {
		c.Options.BackoffCapSeconds = def.Options.BackoffCapSeconds
	}
	if c.Options.WindowDays <= 0 {
		c.Options.WindowDays = def.Options.WindowDays
	}
	if c.Options.LeaderboardSize <= 0 {
		c.Options.LeaderboardSize = def.Options.LeaderboardSize
	}
	// Zero is meaningful for the point knobs: it disables the mechanism.
	// Unset keys keep the defaults already in place before decoding, so
	// only negatives fall back here.
	if c.Points.EarnAmount < 0 {
		c.Points.EarnAmount = def.Points.EarnAmount
	}
	if c.Points.EarnCooldownSeconds < 0 {
		c.Points.EarnCooldownSeconds = def.Points.EarnCooldownSeconds
	}
	if c.Points.DecayAmount < 0 {
		c.Points.DecayAmount = def.Points.DecayAmount
	}
	if c.Points.DecayIntervalHours < 0 {
		c.Points.DecayIntervalHours = def.Points.DecayIntervalHours
	}
	if c.Platform.APIBase == "" {
		c.Platform.APIBase = def.Platform.APIBase
	}
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Options.BackoffBaseSeconds) * time.Second
}

func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.Options.BackoffCapSeconds) * time.Second
}

func (c *Config) Window() time.Duration {
	return time.Duration(c.Options.WindowDays) * 24 * time.Hour
}

func (c *Config) EarnCooldown() time.Duration {
	return time.Duration(c.Points.EarnCooldownSeconds) * time.Second
}

func (c *Config) DecayInterval() time.Duration {
	return time.Duration(c.Points.DecayIntervalHours) * time.Hour
}
