//go:build desktop

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/webpilot/webpilot/internal/config"
)

// RunDesktop serves the control UI and opens it in a native window.
func RunDesktop() {
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

	// The window points at the local server, so it must be up first.
	serverErr := make(chan error, 1)
	go func() {
		if err := app.Server.Run(ctx); err != nil {
			serverErr <- err
		}
	}()
	go func() {
		_ = Cfg.Watch(ctx, app.Log, nil)
	}()

	serverURL := app.Server.URL()
	if !waitForServer(serverURL, 10*time.Second) {
		select {
		case err := <-serverErr:
			fmt.Printf("\033[31mServer error: %v\033[0m\n", err)
		default:
			fmt.Println("\033[31mError: control server failed to start\033[0m")
		}
		os.Exit(1)
	}

	wailsApp := application.New(application.Options{
		Name: "WebPilot",
		OnShutdown: func() {
			cancel()
			fmt.Println("\n\033[32mWebPilot stopped.\033[0m")
		},
	})

	wailsApp.Window.NewWithOptions(application.WebviewWindowOptions{
		Name:      "main",
		Title:     "WebPilot",
		Width:     960,
		Height:    720,
		MinWidth:  720,
		MinHeight: 540,
		URL:       serverURL,
	})

	if err := wailsApp.Run(); err != nil {
		fmt.Printf("\033[31mDesktop error: %v\033[0m\n", err)
		os.Exit(1)
	}
}
