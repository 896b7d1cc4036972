// Package config loads storyshot settings from an optional config file, the
// environment (STORYSHOT_*) and built-in defaults, in that order of precedence
// after flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"storyshot/internal/browser"
	"storyshot/internal/snapshot"

	"github.com/spf13/viper"
)

// Config is the full set of run settings.
type Config struct {
	StorybookURL         string `mapstructure:"storybook_url"`
	ChromeExecutablePath string `mapstructure:"chrome_executable_path"`
	Driver               string `mapstructure:"driver"`
	Headless             bool   `mapstructure:"headless"`
	Framework            string `mapstructure:"framework"`
	Workspace            string `mapstructure:"workspace"`

	Viewport   ViewportConfig   `mapstructure:"viewport"`
	Goto       GotoConfig       `mapstructure:"goto"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Stories    StoriesConfig    `mapstructure:"stories"`
	Log        LogConfig        `mapstructure:"log"`
}

type ViewportConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type GotoConfig struct {
	WaitUntil string `mapstructure:"wait_until"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// ScreenshotConfig also carries the declarative before-screenshot steps, since
// hooks cannot be expressed in a config file.
type ScreenshotConfig struct {
	FullPage       bool   `mapstructure:"full_page"`
	OmitBackground bool   `mapstructure:"omit_background"`
	WaitSelector   string `mapstructure:"wait_selector"`
	DelayMs        int    `mapstructure:"delay_ms"`
}

type SnapshotConfig struct {
	Dir                    string  `mapstructure:"dir"`
	DiffDir                string  `mapstructure:"diff_dir"`
	Threshold              float64 `mapstructure:"threshold"`
	IncludeAA              bool    `mapstructure:"include_aa"`
	FailureThreshold       float64 `mapstructure:"failure_threshold"`
	FailureThresholdType   string  `mapstructure:"failure_threshold_type"`
	AllowSizeMismatch      bool    `mapstructure:"allow_size_mismatch"`
	DiffDirection          string  `mapstructure:"diff_direction"`
	StoreReceivedOnFailure bool    `mapstructure:"store_received_on_failure"`
	Update                 bool    `mapstructure:"update"`
	CI                     bool    `mapstructure:"ci"`
}

// StoriesConfig filters discovered stories by substring of their id.
type StoriesConfig struct {
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads path (any format viper understands) or, when path is empty, an
// optional storyshot.{yaml,toml,json} in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("storyshot")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STORYSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Most CI providers export CI=true; treat it like jest's --ci.
	if err := v.BindEnv("snapshot.ci", "STORYSHOT_SNAPSHOT_CI", "CI"); err != nil {
		return nil, fmt.Errorf("bind CI: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in settings without reading files or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storybook_url", "http://localhost:6006")
	v.SetDefault("chrome_executable_path", "")
	v.SetDefault("driver", browser.DriverPlaywright)
	v.SetDefault("headless", true)
	v.SetDefault("framework", "")
	v.SetDefault("workspace", ".")

	v.SetDefault("viewport.width", 800)
	v.SetDefault("viewport.height", 600)

	v.SetDefault("goto.wait_until", string(browser.WaitLoad))
	v.SetDefault("goto.timeout_ms", 30_000)

	v.SetDefault("screenshot.full_page", true)
	v.SetDefault("screenshot.omit_background", false)
	v.SetDefault("screenshot.wait_selector", "")
	v.SetDefault("screenshot.delay_ms", 0)

	v.SetDefault("snapshot.dir", "__image_snapshots__")
	v.SetDefault("snapshot.diff_dir", "")
	v.SetDefault("snapshot.threshold", snapshot.DefaultThreshold)
	v.SetDefault("snapshot.include_aa", false)
	v.SetDefault("snapshot.failure_threshold", 0)
	v.SetDefault("snapshot.failure_threshold_type", string(snapshot.ThresholdPixel))
	v.SetDefault("snapshot.allow_size_mismatch", false)
	v.SetDefault("snapshot.diff_direction", string(snapshot.Horizontal))
	v.SetDefault("snapshot.store_received_on_failure", false)
	v.SetDefault("snapshot.update", false)
	v.SetDefault("snapshot.ci", false)

	v.SetDefault("stories.include", []string{})
	v.SetDefault("stories.exclude", []string{})

	v.SetDefault("log.level", "info")
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	u, err := url.Parse(c.StorybookURL)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("storybook_url %q is not an absolute url", c.StorybookURL)
	}
	if _, err := browser.NewLauncher(c.Driver); err != nil {
		return err
	}
	if _, err := browser.ParseWaitUntil(c.Goto.WaitUntil); err != nil {
		return err
	}
	switch snapshot.ThresholdType(c.Snapshot.FailureThresholdType) {
	case snapshot.ThresholdPixel, snapshot.ThresholdPercent:
	default:
		return fmt.Errorf("failure_threshold_type %q (want pixel or percent)", c.Snapshot.FailureThresholdType)
	}
	switch snapshot.Direction(c.Snapshot.DiffDirection) {
	case snapshot.Horizontal, snapshot.Vertical:
	default:
		return fmt.Errorf("diff_direction %q (want horizontal or vertical)", c.Snapshot.DiffDirection)
	}
	if c.Viewport.Width < 0 || c.Viewport.Height < 0 {
		return errors.New("viewport dimensions must not be negative")
	}
	return nil
}
