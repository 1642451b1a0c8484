package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/config"
)

// DoctorCmd creates the doctor command for environment checks.
func DoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system health and diagnose issues",
		Long: `Run diagnostics on your WebPilot installation.

Checks:
  - Chrome/Chromium executable
  - Listening debug ports and CDP reachability
  - Data directory and config file

Examples:
  webpilot doctor`,
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

type checkResult struct {
	name    string
	status  string // "ok", "warn", "error"
	message string
}

func runDoctor() {
	fmt.Println("\033[1mWebPilot Doctor\033[0m")
	fmt.Println("===============")
	fmt.Println()

	var results []checkResult
	results = append(results, checkChrome())
	results = append(results, checkDebugPorts()...)
	results = append(results, checkDataDir())

	fmt.Println()
	errors := 0
	for _, r := range results {
		icon := "\033[32m✓\033[0m"
		switch r.status {
		case "warn":
			icon = "\033[33m!\033[0m"
		case "error":
			icon = "\033[31m✗\033[0m"
			errors++
		}
		fmt.Printf("  %s %-24s %s\n", icon, r.name, r.message)
	}
	fmt.Println()
	if errors > 0 {
		fmt.Printf("\033[31m%d check(s) failed\033[0m\n", errors)
	} else {
		fmt.Println("\033[32mAll checks passed\033[0m")
	}
}

func checkChrome() checkResult {
	custom := Cfg.GetString("chrome.executable_path", "")
	exe, err := browser.FindChromeExecutable(custom)
	if err != nil {
		return checkResult{"chrome executable", "error", err.Error()}
	}
	return checkResult{"chrome executable", "ok", exe}
}

func checkDebugPorts() []checkResult {
	defaultPort := Cfg.GetInt("chrome.debug_port", browser.DefaultDebugPort)
	ports := browser.NewPortScanner().Detect(defaultPort)

	var results []checkResult
	for _, port := range ports {
		name := fmt.Sprintf("debug port %d", port)
		if v, err := browser.FetchVersion(port, time.Second); err == nil {
			results = append(results, checkResult{name, "ok", v.Browser})
		} else {
			results = append(results, checkResult{name, "warn", "not answering CDP requests"})
		}
	}
	if len(results) == 0 {
		results = append(results, checkResult{"debug ports", "warn", "no chrome instances with debugging enabled"})
	}
	return results
}

func checkDataDir() checkResult {
	return checkResult{"data directory", "ok", config.DataDir()}
}
