package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webpilot/webpilot/internal/events"
	"github.com/webpilot/webpilot/internal/logging"
	"github.com/webpilot/webpilot/internal/task"
)

// RunCmd executes one automation run from the terminal and exits with
// the run's outcome.
func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the automation flow once and exit",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runOnce(); err != nil {
				fmt.Fprintf(os.Stderr, "\033[31m%v\033[0m\n", err)
				os.Exit(1)
			}
		},
	}
}

func runOnce() error {
	logDir, err := Cfg.Path("logs")
	if err != nil {
		return err
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
		NoConsole:   true, // run output goes through the event stream
	})
	if err != nil {
		return err
	}

	bus := events.NewSubject(log)
	defer bus.Close()

	done := make(chan events.Finished, 1)
	events.Subscribe(bus, events.TopicRunLog, func(_ context.Context, e events.LogEntry) error {
		fmt.Printf("%s %s\n", e.Time.Format("15:04:05"), e.Message)
		return nil
	})
	events.Subscribe(bus, events.TopicRunProgress, func(_ context.Context, p events.Progress) error {
		fmt.Printf("         progress: %d%%\n", p.Percent)
		return nil
	})
	events.Subscribe(bus, events.TopicRunFinished, func(_ context.Context, f events.Finished) error {
		done <- f
		return nil
	})

	runner := task.NewRunner(Cfg, bus, log)
	if err := runner.Start(context.Background()); err != nil {
		return err
	}

	finished := <-done
	if !finished.Success {
		return fmt.Errorf("%s", finished.Message)
	}
	fmt.Printf("\033[32m%s\033[0m\n", finished.Message)
	return nil
}
