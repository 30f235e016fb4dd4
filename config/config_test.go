package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Teams.LookbackHours)
	assert.Equal(t, 25, cfg.Stores.Activities)
	assert.Equal(t, 15, cfg.Stores.ReplyChains)
	assert.Equal(t, 14, cfg.Stores.Conversations)
	assert.Equal(t, "http://localhost:8000", cfg.Relay.URL)

	hostname, _ := os.Hostname()
	assert.Equal(t, hostname, cfg.Relay.ClientID)
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comms-assistant.toml")
	content := `
[teams]
db_path = "/tmp/teams-db"
lookback_hours = 4.5

[stores]
activities = 26

[relay]
url = "http://relay.internal:9000"
client_id = "workstation-7"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/teams-db", cfg.Teams.DBPath)
	assert.Equal(t, 4.5, cfg.Teams.LookbackHours)
	assert.Equal(t, 26, cfg.Stores.Activities)
	// Unset keys keep their defaults.
	assert.Equal(t, 15, cfg.Stores.ReplyChains)
	assert.Equal(t, "http://relay.internal:9000", cfg.Relay.URL)
	assert.Equal(t, "workstation-7", cfg.Relay.ClientID)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("COMMS_TEAMS_DB_PATH", "/srv/db")
	t.Setenv("COMMS_RELAY_URL", "http://override:8000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/db", cfg.Teams.DBPath)
	assert.Equal(t, "http://override:8000", cfg.Relay.URL)
}

func TestEnvironmentBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comms-assistant.toml")
	require.NoError(t, os.WriteFile(path, []byte("[teams]\ndb_path = \"/from/file\"\n"), 0o644))
	t.Setenv("COMMS_TEAMS_DB_PATH", "/from/env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Teams.DBPath)
}
