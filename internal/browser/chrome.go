// Package browser drives Chromium instances over their remote debugging
// ports: discovering executables, launching instances, probing ports,
// and running page automation through a connected session.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// LaunchOptions configures a locally launched Chrome instance.
type LaunchOptions struct {
	ExecutablePath string // empty means auto-detect
	DebugPort      int
	UserDataDir    string
	Headless       bool
	WindowWidth    int
	WindowHeight   int
}

// RunningChrome is a Chrome process started by LaunchChrome.
type RunningChrome struct {
	PID         int
	Executable  string
	UserDataDir string
	DebugPort   int
	StartedAt   time.Time
	cmd         *exec.Cmd
}

// FindChromeExecutable locates a Chromium-family binary. A non-empty
// customPath short-circuits detection but must exist.
func FindChromeExecutable(customPath string) (string, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return "", fmt.Errorf("browser executable not found: %s", customPath)
		}
		return customPath, nil
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		home := os.Getenv("HOME")
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome"),
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "linux":
		candidates = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
			"/usr/bin/microsoft-edge",
			"/usr/bin/brave-browser",
		}
	case "windows":
		programFiles := os.Getenv("ProgramFiles")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		programFilesX86 := os.Getenv("ProgramFiles(x86)")
		if programFilesX86 == "" {
			programFilesX86 = `C:\Program Files (x86)`
		}
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			candidates = append(candidates,
				filepath.Join(localAppData, "Google", "Chrome", "Application", "chrome.exe"))
		}
		candidates = append(candidates,
			filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(programFilesX86, "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(programFiles, "Microsoft", "Edge", "Application", "msedge.exe"),
		)
	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	for _, c := range candidates {
		if fileExists(c) {
			return c, nil
		}
	}

	// Last resort: PATH lookup.
	for _, name := range []string{"google-chrome", "chromium", "chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no Chromium-based browser found")
}

// IsReachable reports whether a debug port answers the CDP version
// endpoint.
func IsReachable(port int, timeout time.Duration) bool {
	_, err := fetchVersion(port, timeout)
	return err == nil
}

// VersionInfo describes a reachable Chrome debug endpoint.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// FetchVersion queries /json/version on a local debug port.
func FetchVersion(port int, timeout time.Duration) (*VersionInfo, error) {
	return fetchVersion(port, timeout)
}

func fetchVersion(port int, timeout time.Duration) (*VersionInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("debug port %d returned %s", port, resp.Status)
	}
	var info VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LaunchChrome starts a Chrome process with remote debugging enabled
// and waits for the debug port to come up.
func LaunchChrome(opts LaunchOptions) (*RunningChrome, error) {
	exe, err := FindChromeExecutable(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	if opts.DebugPort == 0 {
		opts.DebugPort = DefaultDebugPort
	}
	if opts.UserDataDir == "" {
		opts.UserDataDir = filepath.Join(os.TempDir(), fmt.Sprintf("webpilot-chrome-%d", opts.DebugPort))
	}
	if err := os.MkdirAll(opts.UserDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create user data dir: %w", err)
	}

	cmd := exec.Command(exe, buildChromeArgs(opts)...)
	setChromeProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	running := &RunningChrome{
		PID:         cmd.Process.Pid,
		Executable:  exe,
		UserDataDir: opts.UserDataDir,
		DebugPort:   opts.DebugPort,
		StartedAt:   time.Now(),
		cmd:         cmd,
	}

	deadline := time.Now().Add(launchReadyTimeout)
	for time.Now().Before(deadline) {
		if IsReachable(opts.DebugPort, 500*time.Millisecond) {
			return running, nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	_ = killChromeProcessGroup(cmd)
	return nil, fmt.Errorf("chrome debug port %d did not come up within %s", opts.DebugPort, launchReadyTimeout)
}

// Stop shuts the instance down, gracefully first, then hard after
// timeout.
func (r *RunningChrome) Stop(timeout time.Duration) error {
	if r == nil || r.cmd == nil || r.cmd.Process == nil {
		return nil
	}

	_ = r.cmd.Process.Signal(os.Interrupt)

	done := make(chan error, 1)
	go func() { done <- r.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return killChromeProcessGroup(r.cmd)
	}
}

func buildChromeArgs(opts LaunchOptions) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", opts.DebugPort),
		fmt.Sprintf("--user-data-dir=%s", opts.UserDataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-popup-blocking",
		"--disable-session-crashed-bubble",
		"--hide-crash-restore-bubble",
		"--password-store=basic",
	}

	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", opts.WindowWidth, opts.WindowHeight))
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}

	// Open a blank tab so a page target always exists.
	args = append(args, "about:blank")
	return args
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
