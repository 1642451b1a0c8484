package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefaults = `{
  "chrome": {
    "debug_port": 9222,
    "headless": false,
    "window_size": {"width": 1920, "height": 1080}
  },
  "paths": {
    "logs": "logs",
    "reports": "reports"
  },
  "automation": {
    "default_timeout": 30
  }
}`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := LoadFrom([]byte(testDefaults), filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	return s
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := LoadFrom([]byte(testDefaults), path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "load should seed the config file from defaults")
	assert.Equal(t, 9222, s.GetInt("chrome.debug_port", 0))
}

func TestUserValuesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	user := `{"chrome": {"debug_port": 9333}, "automation": {"retry_attempts": 5}}`
	require.NoError(t, os.WriteFile(path, []byte(user), 0o644))

	s, err := LoadFrom([]byte(testDefaults), path)
	require.NoError(t, err)

	// Overridden leaf wins, sibling defaults survive the merge.
	assert.Equal(t, 9333, s.GetInt("chrome.debug_port", 0))
	assert.Equal(t, false, s.GetBool("chrome.headless", true))
	assert.Equal(t, 1920, s.GetInt("chrome.window_size.width", 0))
	assert.Equal(t, 5, s.GetInt("automation.retry_attempts", 0))
	assert.Equal(t, 30, s.GetInt("automation.default_timeout", 0))
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := LoadFrom([]byte(testDefaults), path)
	require.NoError(t, err, "corrupt config must not fail the load")
	assert.Equal(t, 9222, s.GetInt("chrome.debug_port", 0))
}

func TestGetMissingPathReturnsDefault(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, "fallback", s.GetString("no.such.key", "fallback"))
	assert.Equal(t, 42, s.GetInt("no.such.key", 42))
	assert.Equal(t, true, s.GetBool("no.such.key", true))
	assert.Nil(t, s.Get("no.such.key", nil))
}

func TestSetPersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s, err := LoadFrom([]byte(testDefaults), path)
	require.NoError(t, err)

	require.NoError(t, s.Set("chrome.debug_port", 9444))
	require.NoError(t, s.Set("ocr.language", "eng"))

	reloaded, err := LoadFrom([]byte(testDefaults), path)
	require.NoError(t, err)
	assert.Equal(t, 9444, reloaded.GetInt("chrome.debug_port", 0))
	assert.Equal(t, "eng", reloaded.GetString("ocr.language", ""))
}

func TestPathCreatesDirectory(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.Path("reports")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(s.dataDir, "reports"), dir)
}

func TestPathUnknownNameDefaultsToName(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.Path("downloads")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.dataDir, "downloads"), dir)
}
