package config

import (
	"os"
	"path/filepath"
	"testing"
)

// writeConfig writes a config.toml in a temp dir and chdirs there so Load
// picks it up as the highest-priority file.
func writeConfig(t *testing.T, content string) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(dir)
	// Point HOME somewhere empty so a developer's real config is not picked up.
	t.Setenv("HOME", dir)
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HasServerConfig() {
		t.Error("HasServerConfig() = true for empty config")
	}
	if cfg.HasLastfmConfig() {
		t.Error("HasLastfmConfig() = true for empty config")
	}
	if cfg.ForceOffline {
		t.Error("ForceOffline should default to false")
	}
	if cfg.Bitrate() != 0 {
		t.Errorf("Bitrate() = %d, want 0 (server default)", cfg.Bitrate())
	}
}

func TestLoad_ServerSection(t *testing.T) {
	writeConfig(t, `
preferred_bitrate = 192
force_offline = true

[server]
url = "https://music.example.com/"
username = "alice"
password = "hunter2"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !cfg.HasServerConfig() {
		t.Error("HasServerConfig() = false, want true")
	}
	// Trailing slash must be trimmed
	if cfg.Server.URL != "https://music.example.com" {
		t.Errorf("Server.URL = %q, want trailing slash trimmed", cfg.Server.URL)
	}
	if cfg.Bitrate() != 192 {
		t.Errorf("Bitrate() = %d, want 192", cfg.Bitrate())
	}
	if !cfg.ForceOffline {
		t.Error("ForceOffline = false, want true")
	}
}

func TestBitrate_Bounds(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero means server default", 0, 0},
		{"below minimum falls back", 16, 0},
		{"above maximum falls back", 512, 0},
		{"valid value kept", 128, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{PreferredBitrate: tt.in}
			if got := cfg.Bitrate(); got != tt.want {
				t.Errorf("Bitrate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoad_DownloadsDirExpansion(t *testing.T) {
	writeConfig(t, `downloads_dir = "~/Music/offline"`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	home, _ := os.UserHomeDir()
	want := filepath.Join(home, "Music", "offline")
	if cfg.DownloadsDir != want {
		t.Errorf("DownloadsDir = %q, want %q", cfg.DownloadsDir, want)
	}
}
