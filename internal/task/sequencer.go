// Package task runs the scripted automation flow across every
// detected Chrome instance and reports progress over the event bus.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/config"
	"github.com/webpilot/webpilot/internal/events"
)

// ErrRunInProgress is returned by Start while a previous run is still
// active.
var ErrRunInProgress = errors.New("automation run already in progress")

// Driver is the slice of the browser driver the sequencer needs. Tests
// substitute a fake.
type Driver interface {
	ConnectOverDebugPort(port int) bool
	Navigate(url string, timeout time.Duration) bool
	Search(query, selector string) bool
	Scroll(direction string, pixels int) bool
	Screenshot(path string, fullPage bool) string
	PageInfo() *browser.PageInfo
	Close()
}

// Runner executes automation runs in the background. At most one run is
// active at a time; Start while running returns ErrRunInProgress.
type Runner struct {
	cfg *config.Store
	bus *events.Subject
	log *slog.Logger

	newDriver func() Driver
	detect    func(candidates ...int) []int
	pause     func(ctx context.Context, d time.Duration)

	running atomic.Bool

	mu     sync.Mutex
	driver Driver
	cancel context.CancelFunc
}

// NewRunner wires a runner to the config store and event bus.
func NewRunner(cfg *config.Store, bus *events.Subject, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		cfg: cfg,
		bus: bus,
		log: log,
	}
	r.newDriver = func() Driver {
		timeout := time.Duration(cfg.GetInt("automation.default_timeout", 30)) * time.Second
		return browser.NewDriver(log, timeout)
	}
	r.detect = func(candidates ...int) []int {
		return browser.NewPortScanner().Detect(candidates...)
	}
	r.pause = func(ctx context.Context, d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return r
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Start launches a run in the background. The guard flips before the
// goroutine exists, so two concurrent Starts can never both win.
func (r *Runner) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(runCtx)
	return nil
}

// Stop cancels the active run, if any, and force-closes its driver so
// a step blocked on the browser fails immediately instead of running to
// its timeout. The run still finishes its cleanup and emits its
// completion event.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	d := r.driver
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if d != nil {
		d.Close()
	}
}

func (r *Runner) run(ctx context.Context) {
	startTime := time.Now()
	var results []Result
	success := false
	message := ""

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("automation run panicked", "panic", rec)
			success = false
			message = fmt.Sprintf("automation run failed: %v", rec)
		}
		r.cleanup()
		r.progress(100)
		if success {
			r.sendLog("info", message)
		} else {
			r.sendLog("error", message)
		}
		if err := events.Emit(r.bus, events.TopicRunFinished, events.Finished{
			Success: success,
			Message: message,
		}); err != nil {
			r.log.Warn("completion event dropped", "error", err)
		}
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		r.running.Store(false)
	}()

	r.sendLog("info", "starting automation run")
	r.progress(10)

	r.sendLog("info", "scanning for chrome debug ports")
	defaultPort := r.cfg.GetInt("chrome.debug_port", browser.DefaultDebugPort)
	ports := r.detect(defaultPort)
	r.sendLog("info", fmt.Sprintf("found %d chrome instance(s): %v", len(ports), ports))
	r.progress(20)

	d := r.newDriver()
	r.mu.Lock()
	r.driver = d
	r.mu.Unlock()

	for i, port := range ports {
		if ctx.Err() != nil {
			r.sendLog("warn", "run cancelled")
			break
		}

		r.sendLog("info", fmt.Sprintf("processing chrome instance on port %d", port))
		if !d.ConnectOverDebugPort(port) {
			r.sendLog("warn", fmt.Sprintf("port %d is not answering, skipping", port))
			continue
		}

		results = append(results, r.runInstance(ctx, d, port))

		// 20..80 covers the per-instance work.
		r.progress(20 + (i+1)*60/len(ports))
	}

	r.progress(90)
	r.sendLog("info", "writing run report")
	if dir, err := r.cfg.Path("reports"); err != nil {
		r.log.Error("resolve reports dir failed", "error", err)
		r.sendLog("error", fmt.Sprintf("report not written: %v", err))
	} else if path, err := WriteReport(dir, BuildReport(startTime, results)); err != nil {
		r.log.Error("write report failed", "error", err)
		r.sendLog("error", fmt.Sprintf("report not written: %v", err))
	} else {
		r.sendLog("info", fmt.Sprintf("report written to %s", path))
	}

	success = len(results) > 0
	if success {
		message = fmt.Sprintf("run complete: processed %d chrome instance(s)", len(results))
	} else {
		message = "run finished: no reachable chrome instances"
	}
}

// runInstance performs the scripted flow against one connected
// instance. The first failing step marks the result failed and skips
// the remaining steps.
func (r *Runner) runInstance(ctx context.Context, d Driver, port int) Result {
	res := Result{
		Port:        port,
		StartTime:   time.Now(),
		Status:      statusSuccess,
		Actions:     []ActionRecord{},
		Screenshots: []string{},
	}
	defer func() { res.EndTime = time.Now() }()

	fail := func(step string) Result {
		res.Status = statusFailed
		res.Error = step
		r.sendLog("error", fmt.Sprintf("port %d: %s", port, step))
		return res
	}

	landing := r.cfg.GetString("automation.landing_url", "https://duckduckgo.com")
	query := r.cfg.GetString("automation.search_query", "browser automation testing")
	selector := r.cfg.GetString("automation.search_selector", "input[name='q']")
	timeout := time.Duration(r.cfg.GetInt("automation.default_timeout", 30)) * time.Second

	if !d.Navigate(landing, timeout) {
		return fail(fmt.Sprintf("navigation to %s failed", landing))
	}
	r.pause(ctx, 2*time.Second)

	if !d.Search(query, selector) {
		return fail("search failed")
	}
	r.pause(ctx, 3*time.Second)

	shot := r.screenshot(d, port, "search")
	if shot != "" {
		res.Screenshots = append(res.Screenshots, shot)
	}
	res.Actions = append(res.Actions, ActionRecord{
		Action:     "search",
		Query:      query,
		Screenshot: shot,
	})

	pixels := r.cfg.GetInt("automation.scroll_pixels", 500)
	if !d.Scroll("down", pixels) {
		return fail("scroll failed")
	}
	r.pause(ctx, time.Second)

	res.PageInfo = d.PageInfo()
	return res
}

func (r *Runner) screenshot(d Driver, port int, label string) string {
	dir, err := r.cfg.Path("screenshots")
	if err != nil {
		r.log.Error("resolve screenshots dir failed", "error", err)
		return ""
	}
	name := fmt.Sprintf("screenshot_%d_%s_%s.png", port, label, time.Now().Format("20060102_150405"))
	return d.Screenshot(filepath.Join(dir, name), true)
}

// cleanup closes and drops the driver. Runs even when the flow
// panicked.
func (r *Runner) cleanup() {
	r.mu.Lock()
	d := r.driver
	r.driver = nil
	r.mu.Unlock()
	if d != nil {
		d.Close()
	}
}

func (r *Runner) progress(pct int) {
	if err := events.Emit(r.bus, events.TopicRunProgress, events.Progress{
		Percent: pct,
		Time:    time.Now(),
	}); err != nil {
		r.log.Debug("progress event dropped", "error", err)
	}
}

func (r *Runner) sendLog(level, msg string) {
	switch level {
	case "error":
		r.log.Error(msg)
	case "warn":
		r.log.Warn(msg)
	default:
		r.log.Info(msg)
	}
	if err := events.Emit(r.bus, events.TopicRunLog, events.LogEntry{
		Level:   level,
		Message: msg,
		Time:    time.Now(),
	}); err != nil {
		r.log.Debug("log event dropped", "error", err)
	}
}
