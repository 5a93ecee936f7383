package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Remote music server connection
	Server ServerConfig `koanf:"server"`

	// Streaming
	PreferredBitrate int  `koanf:"preferred_bitrate"` // kbps hint for transcoding (0 = server default)
	ForceOffline     bool `koanf:"force_offline"`     // never touch the network when true

	// Downloads
	DownloadsDir string `koanf:"downloads_dir"` // overrides the default data dir location

	// Last.fm scrobbling (enables scrobbling when configured)
	Lastfm LastfmConfig `koanf:"lastfm"`
}

// ServerConfig holds the remote server connection settings.
type ServerConfig struct {
	URL      string `koanf:"url"` // e.g., "https://music.example.com"
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// LastfmConfig holds Last.fm scrobbling configuration.
type LastfmConfig struct {
	APIKey     string `koanf:"api_key"`
	APISecret  string `koanf:"api_secret"`
	SessionKey string `koanf:"session_key"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	configPaths := getConfigPaths()

	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	// Normalize server URL (remove trailing slash)
	cfg.Server.URL = strings.TrimSuffix(cfg.Server.URL, "/")

	// Expand ~ in downloads_dir
	if cfg.DownloadsDir != "" {
		cfg.DownloadsDir = expandPath(cfg.DownloadsDir)
	}

	return cfg, nil
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/substream/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "substream", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HasServerConfig returns true if a remote server is configured.
func (c *Config) HasServerConfig() bool {
	return c.Server.URL != "" && c.Server.Username != ""
}

// HasLastfmConfig returns true if Last.fm scrobbling is configured.
func (c *Config) HasLastfmConfig() bool {
	return c.Lastfm.APIKey != "" && c.Lastfm.APISecret != "" && c.Lastfm.SessionKey != ""
}

// Bitrate returns the preferred bitrate with bounds applied.
// Values outside 32-320 kbps fall back to the server default (0).
func (c *Config) Bitrate() int {
	if c.PreferredBitrate < 32 || c.PreferredBitrate > 320 {
		return 0
	}
	return c.PreferredBitrate
}
