package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gdamore/tcell/v2"
	"gopkg.in/yaml.v3"
)

const (
	AppName           = "streamcore"
	AppTagline        = "Network audio streaming engine"
	AppDescription    = "A terminal client driving the streamcore streaming engine"
	AppAuthor         = "Ilya Glebov"
	AppAuthorURL      = "https://ilyaglebov.dev"
	AppAuthorURLShort = "ilyaglebov.dev"
	AppProjectURL     = "https://github.com/glebovdev/streamcore"
	AppProjectShort   = "github.com/glebovdev/streamcore"

	ConfigDir      = ".config/streamcore"
	ConfigFileName = "config.yml"
	DefaultVolume  = 70
	MinVolume      = 0
	MaxVolume      = 100

	// MaxHistoryEntries bounds the most-recently-played URL list.
	MaxHistoryEntries = 20

	// Defaults for Streamer.start() parameters (spec §4.1), overridable
	// per-session but persisted here so a user's preferred tuning
	// survives restarts.
	DefaultBufferCount     = 16
	DefaultBufferSize      = 2048
	DefaultTimeoutInterval = 10
	DefaultPlaybackRate    = 1.0
)

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/glebovdev/streamcore/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

type Theme struct {
	Background       string `yaml:"background"`
	Foreground       string `yaml:"foreground"`
	Borders          string `yaml:"borders"`
	Highlight        string `yaml:"highlight"`
	MutedVolume      string `yaml:"muted_volume"`
	HeaderBackground string `yaml:"header_background"`
	StatusForeground string `yaml:"status_foreground"`
	HelpBackground   string `yaml:"help_background"`
	HelpForeground   string `yaml:"help_foreground"`
	HelpHotkey       string `yaml:"help_hotkey"`
	ModalBackground  string `yaml:"modal_background"`
}

// StreamDefaults holds the Streamer.start() tuning parameters a user can
// override and have persisted, mirroring spec §4.1's configuration set.
type StreamDefaults struct {
	BufferCount     int     `yaml:"buffer_count"`
	BufferSize      int     `yaml:"buffer_size"`
	TimeoutInterval int     `yaml:"timeout_interval"`
	PlaybackRate    float64 `yaml:"playback_rate"`
	BufferInfinite  bool    `yaml:"buffer_infinite"`
}

type Config struct {
	Volume    int            `yaml:"volume"`
	LastURL   string         `yaml:"last_url"`
	Autostart bool           `yaml:"autostart"`
	History   []string       `yaml:"history"`
	Streaming StreamDefaults `yaml:"streaming"`
	Theme     Theme          `yaml:"theme"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(home, ConfigDir, ConfigFileName)
	return configPath, nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Volume = ClampVolume(cfg.Volume)

	return cfg, nil
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:    DefaultVolume,
		LastURL:   "",
		Autostart: false,
		History:   []string{},
		Streaming: StreamDefaults{
			BufferCount:     DefaultBufferCount,
			BufferSize:      DefaultBufferSize,
			TimeoutInterval: DefaultTimeoutInterval,
			PlaybackRate:    DefaultPlaybackRate,
			BufferInfinite:  false,
		},
		Theme: Theme{
			Background:       "#1a1b25",
			Foreground:       "#a3aacb",
			Borders:          "#40445b",
			Highlight:        "#ff9d65",
			MutedVolume:      "#fe0702",
			HeaderBackground: "#473533",
			StatusForeground: "#c8d0e8",
			HelpBackground:   "#322f45",
			HelpForeground:   "#9aa3c6",
			HelpHotkey:       "#ff9d65",
			ModalBackground:  "#282a36",
		},
	}
}

// IsInHistory reports whether url was recently played.
func (c *Config) IsInHistory(url string) bool {
	for _, u := range c.History {
		if u == url {
			return true
		}
	}
	return false
}

// AddToHistory records url as the most recently played stream, moving it
// to the front if already present and trimming to MaxHistoryEntries.
func (c *Config) AddToHistory(url string) {
	for i, u := range c.History {
		if u == url {
			c.History = append(c.History[:i], c.History[i+1:]...)
			break
		}
	}
	c.History = append([]string{url}, c.History...)
	if len(c.History) > MaxHistoryEntries {
		c.History = c.History[:MaxHistoryEntries]
	}
}

func GetColor(colorStr string) tcell.Color {
	if colorStr == "" || colorStr == "default" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(colorStr)
}
