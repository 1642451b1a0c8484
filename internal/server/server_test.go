package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot/webpilot/internal/config"
	"github.com/webpilot/webpilot/internal/events"
	"github.com/webpilot/webpilot/internal/task"
)

const testDefaults = `{
  "server": {"host": "127.0.0.1", "port": 28710},
  "chrome": {"debug_port": 9222, "headless": false},
  "paths": {"reports": "reports"},
  "automation": {"default_timeout": 30}
}`

func newTestServer(t *testing.T) (*Server, *config.Store) {
	t.Helper()
	cfg, err := config.LoadFrom([]byte(testDefaults), filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	bus := events.NewSubject(nil)
	t.Cleanup(bus.Close)

	s := New(Options{
		Cfg:    cfg,
		Bus:    bus,
		Runner: task.NewRunner(cfg, bus, nil),
	})
	return s, cfg
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["running"])
}

func TestInstancesEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.detect = func(candidates ...int) []int { return []int{9222, 9223} }

	rec := doRequest(t, s, http.MethodGet, "/api/instances", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Instances []instanceInfo `json:"instances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Instances, 2)
	assert.Equal(t, 9222, got.Instances[0].Port)
	// Nothing actually listens in the test, so reachability is false.
	assert.False(t, got.Instances[0].Reachable)
}

func TestReportListAndFetch(t *testing.T) {
	s, cfg := newTestServer(t)
	dir, err := cfg.Path("reports")
	require.NoError(t, err)

	older := "automation_report_20260101_090000.json"
	newer := "automation_report_20260102_090000.json"
	for _, name := range []string{older, newer} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"task_summary":{}}`), 0o644))
	}
	// Unrelated files must not be listed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	rec := doRequest(t, s, http.MethodGet, "/api/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Reports []string `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{newer, older}, got.Reports)

	rec = doRequest(t, s, http.MethodGet, "/api/reports/"+newer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"task_summary":{}}`, rec.Body.String())
}

func TestReportGetRejectsTraversal(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/reports/..%2Fconfig.json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/reports/automation_report_20990101_000000.json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigRoundTrip(t *testing.T) {
	s, cfg := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "debug_port")

	body := []byte(`{"chrome.debug_port": 9333}`)
	rec = doRequest(t, s, http.MethodPut, "/api/config", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 9333, cfg.GetInt("chrome.debug_port", 0))
}

func TestConfigPutNestedObjectKeepsSiblings(t *testing.T) {
	s, cfg := newTestServer(t)
	require.NoError(t, cfg.Set("chrome.headless", true))

	body := []byte(`{"chrome": {"debug_port": 9444}, "server": {"port": 29100}}`)
	rec := doRequest(t, s, http.MethodPut, "/api/config", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 9444, cfg.GetInt("chrome.debug_port", 0))
	assert.Equal(t, 29100, cfg.GetInt("server.port", 0))
	// Leaves outside the body stay untouched.
	assert.True(t, cfg.GetBool("chrome.headless", false))
	assert.Equal(t, "127.0.0.1", cfg.GetString("server.host", ""))
}

func TestStopWithoutActiveRunIsOK(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/tasks/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.runner.Running())
}

func TestServerAddrFromConfig(t *testing.T) {
	s, cfg := newTestServer(t)

	assert.Equal(t, "127.0.0.1:28710", s.Addr())
	require.NoError(t, cfg.Set("server.port", 29000))
	assert.Equal(t, "127.0.0.1:29000", s.Addr())
	assert.Equal(t, "http://127.0.0.1:29000", s.URL())
}
