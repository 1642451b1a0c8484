package web

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAsset(t *testing.T, name string) string {
	t.Helper()
	f, err := FileSystem().Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestIndexCarriesEveryControl(t *testing.T) {
	index := readAsset(t, "/index.html")
	for _, id := range []string{
		"btn-run", "btn-script2", "btn-script3", "btn-stop",
		"btn-refresh", "btn-launch", "btn-clear-log",
	} {
		assert.Contains(t, index, `id="`+id+`"`, "index.html must carry %s", id)
	}
}

func TestAppWiresPlaceholderAndClearLogButtons(t *testing.T) {
	app := readAsset(t, "/app.js")
	assert.Contains(t, app, "btn-script2")
	assert.Contains(t, app, "btn-script3")
	assert.Contains(t, app, "not implemented")
	assert.Contains(t, app, "btn-clear-log")
}
