package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/config"
	"github.com/webpilot/webpilot/internal/task"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.runner.Running(),
		"version": "1.0.0",
	})
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	// The run outlives the request, so it hangs off the server's
	// lifetime rather than the request context.
	err := s.runner.Start(context.WithoutCancel(r.Context()))
	if errors.Is(err, task.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleRunStop(w http.ResponseWriter, r *http.Request) {
	s.runner.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

type instanceInfo struct {
	Port      int    `json:"port"`
	Reachable bool   `json:"reachable"`
	Browser   string `json:"browser,omitempty"`
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	defaultPort := s.cfg.GetInt("chrome.debug_port", browser.DefaultDebugPort)
	ports := s.detect(defaultPort)

	infos := make([]instanceInfo, 0, len(ports))
	for _, port := range ports {
		info := instanceInfo{Port: port}
		if v, err := browser.FetchVersion(port, time.Second); err == nil {
			info.Reachable = true
			info.Browser = v.Browser
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": infos})
}

func (s *Server) handleChromeLaunch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	already := s.launched != nil
	s.mu.Unlock()
	if already {
		writeError(w, http.StatusConflict, "a launched chrome instance is already running")
		return
	}

	port := s.cfg.GetInt("chrome.debug_port", browser.DefaultDebugPort)

	// A configured profile dir wins; relative values live under the
	// data directory alongside the other app paths.
	userDataDir := s.cfg.GetString("chrome.user_data_dir", "")
	if userDataDir == "" {
		var err error
		userDataDir, err = s.cfg.Path("chrome_profile")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else if !filepath.IsAbs(userDataDir) {
		userDataDir = filepath.Join(config.DataDir(), userDataDir)
	}

	running, err := browser.LaunchChrome(browser.LaunchOptions{
		ExecutablePath: s.cfg.GetString("chrome.executable_path", ""),
		DebugPort:      port,
		UserDataDir:    userDataDir,
		Headless:       s.cfg.GetBool("chrome.headless", false),
		WindowWidth:    s.cfg.GetInt("chrome.window_size.width", 1920),
		WindowHeight:   s.cfg.GetInt("chrome.window_size.height", 1080),
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.mu.Lock()
	s.launched = running
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"pid":  running.PID,
		"port": running.DebugPort,
	})
}

func (s *Server) handleReportList(w http.ResponseWriter, r *http.Request) {
	dir, err := s.cfg.Path("reports")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "automation_report_") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	// Newest first; the timestamp in the name sorts lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	writeJSON(w, http.StatusOK, map[string]any{"reports": names})
}

func (s *Server) handleReportGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name != filepath.Base(name) || !strings.HasPrefix(name, "automation_report_") || !strings.HasSuffix(name, ".json") {
		writeError(w, http.StatusBadRequest, "invalid report name")
		return
	}

	dir, err := s.cfg.Path("reports")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.cfg.Document())
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	for key, value := range body {
		if err := setLeaves(s.cfg, key, value); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.cfg.Document())
}

// setLeaves flattens nested objects into dotted-path sets so a body
// like {"chrome":{"debug_port":9333}} updates only that leaf and the
// section's untouched siblings survive. Dotted keys pass through as-is.
func setLeaves(cfg *config.Store, path string, value any) error {
	if m, ok := value.(map[string]any); ok && len(m) > 0 {
		for k, v := range m {
			if err := setLeaves(cfg, path+"."+k, v); err != nil {
				return err
			}
		}
		return nil
	}
	return cfg.Set(path, value)
}
