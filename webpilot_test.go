package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

// User config files merge over the embedded defaults, so every section
// a config file may carry must exist here with a sane default.
func TestEmbeddedDefaultsCarryAllSections(t *testing.T) {
	for _, path := range []string{
		"server.host",
		"server.port",
		"chrome.debug_port",
		"chrome.user_data_dir",
		"chrome.window_size.width",
		"paths.logs",
		"paths.chrome_profile",
		"logging.level",
		"automation.landing_url",
		"ocr.language",
		"ocr.config",
		"image_recognition.confidence_threshold",
		"image_recognition.model_path",
	} {
		assert.True(t, gjson.GetBytes(embeddedConfig, path).Exists(), "missing default for %s", path)
	}
	assert.Equal(t, "Chrome_UserData", gjson.GetBytes(embeddedConfig, "chrome.user_data_dir").String())
}
