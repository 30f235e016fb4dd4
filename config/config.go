// Package config loads tool configuration: defaults, then an optional TOML
// file, then COMMS_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// teamsDBRelPath is where the Teams v2 WebView2 profile keeps its IndexedDB
// cache, relative to the user home directory.
const teamsDBRelPath = "Library/Containers/com.microsoft.teams2/Data/Library/Application Support/" +
	"Microsoft/MSTeams/EBWebView/WV2Profile_tfw/IndexedDB/https_teams.microsoft.com_0.indexeddb.leveldb"

// Config is the resolved tool configuration.
type Config struct {
	Teams struct {
		DBPath        string  `koanf:"db_path"`
		LookbackHours float64 `koanf:"lookback_hours"`
	} `koanf:"teams"`

	Stores struct {
		Activities    int `koanf:"activities"`
		ReplyChains   int `koanf:"reply_chains"`
		Conversations int `koanf:"conversations"`
	} `koanf:"stores"`

	Relay struct {
		URL      string `koanf:"url"`
		ClientID string `koanf:"client_id"`
	} `koanf:"relay"`
}

// Load reads configuration from the given path, or from the default
// locations when path is empty. A missing config file is not an error;
// defaults and environment variables still apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	hostname, _ := os.Hostname()
	k.Load(confmap.Provider(map[string]interface{}{
		"teams.db_path":        DefaultDBPath(),
		"teams.lookback_hours": 1.0,
		"stores.activities":    25,
		"stores.reply_chains":  15,
		"stores.conversations": 14,
		"relay.url":            "http://localhost:8000",
		"relay.client_id":      hostname,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		home, _ := os.UserHomeDir()
		defaultPaths := []string{
			"./comms-assistant.toml",
			filepath.Join(home, ".comms-assistant.toml"),
		}
		for _, path := range defaultPaths {
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("COMMS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "COMMS_")), "_", ".", 1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// DefaultDBPath returns the platform-specific Teams v2 database location.
// Only the darwin layout is known; other platforms must configure the path
// explicitly.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, filepath.FromSlash(teamsDBRelPath))
	}
	return ""
}
