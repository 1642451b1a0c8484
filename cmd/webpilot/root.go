package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webpilot/webpilot/internal/config"
	"github.com/webpilot/webpilot/internal/events"
	"github.com/webpilot/webpilot/internal/logging"
	"github.com/webpilot/webpilot/internal/server"
	"github.com/webpilot/webpilot/internal/task"
)

// appState bundles the wired application components.
type appState struct {
	Log    *slog.Logger
	Bus    *events.Subject
	Runner *task.Runner
	Server *server.Server
}

// buildApp wires logging, the event bus, the runner and the HTTP
// server from the loaded config.
func buildApp() (*appState, error) {
	logDir, err := Cfg.Path("logs")
	if err != nil {
		return nil, err
	}

	level := Cfg.GetString("logging.level", "info")
	if verbose {
		level = "debug"
	}
	log, err := logging.Setup(logging.Options{
		Level:       level,
		Dir:         logDir,
		MaxFileSize: Cfg.GetString("logging.max_file_size", "10MB"),
		Backups:     Cfg.GetInt("logging.backup_count", 5),
	})
	if err != nil {
		return nil, err
	}

	bus := events.NewSubject(log)
	runner := task.NewRunner(Cfg, bus, log)
	srv := server.New(server.Options{
		Cfg:    Cfg,
		Bus:    bus,
		Runner: runner,
		Log:    log,
	})
	return &appState{Log: log, Bus: bus, Runner: runner, Server: srv}, nil
}

// RunHeadless serves the control UI until interrupted.
func RunHeadless() {
	lockFile, err := acquireLock(config.DataDir())
	if err != nil {
		fmt.Printf("\033[31mError: %v\033[0m\n", err)
		fmt.Println("\033[33mWebPilot is already running. Only one instance allowed per computer.\033[0m")
		os.Exit(1)
	}
	defer releaseLock(lockFile)

	app, err := buildApp()
	if err != nil {
		fmt.Printf("\033[31mError: %v\033[0m\n", err)
		os.Exit(1)
	}
	defer app.Bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\n\033[33mReceived signal: %v - shutting down...\033[0m\n", sig)
		cancel()
	}()

	// Pick up config file edits while running.
	go func() {
		_ = Cfg.Watch(ctx, app.Log, nil)
	}()

	fmt.Printf("Control UI: \033[36m%s\033[0m\n", app.Server.URL())
	if err := app.Server.Run(ctx); err != nil {
		fmt.Printf("\033[31mServer error: %v\033[0m\n", err)
		os.Exit(1)
	}
	fmt.Println("\033[32mWebPilot stopped.\033[0m")
}

// ServeCmd runs the control server in the foreground, headless.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control server without a window",
		Run: func(cmd *cobra.Command, args []string) {
			RunHeadless()
		},
	}
}

// waitForServer polls the status endpoint until the server answers.
func waitForServer(url string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/api/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
