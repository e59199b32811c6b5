package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().APIBaseURL, cfg.APIBaseURL)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, again.PollInterval.Std())
	assert.Equal(t, 5, again.MaxEvents)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
api_base_url: http://backend.local:3333/
poll_interval: 5s
image_dwell: 3s
on_poll_error: explode
location: 7
labels:
  header: LOBBY
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://backend.local:3333", cfg.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 3*time.Second, cfg.ImageDwell.Std())
	assert.Equal(t, 60*time.Second, cfg.EmbedDwell.Std())
	assert.Equal(t, OnPollErrorKeep, cfg.OnPollError)
	assert.Equal(t, 7, cfg.Location)
	assert.Equal(t, "LOBBY", cfg.Labels.Header)
	assert.Equal(t, DefaultConfig().Labels.NoEvents, cfg.Labels.NoEvents)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: soon\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTripsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.EmbedDwell = Duration(90 * time.Second)
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "embed_dwell: 1m30s")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SIGNAGE_API_BASE_URL", "http://10.0.0.2:3333/")
	t.Setenv("SIGNAGE_LOCATION", "12")
	t.Setenv("SIGNAGE_LISTEN", "")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "http://10.0.0.2:3333", cfg.APIBaseURL)
	assert.Equal(t, 12, cfg.Location)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
}

func TestDisplayLocation(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.DisplayLocation()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())

	cfg.Timezone = "Mars/Olympus"
	loc, err = cfg.DisplayLocation()
	assert.Error(t, err)
	assert.Equal(t, time.Local, loc)
}
