package task

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/config"
	"github.com/webpilot/webpilot/internal/events"
)

const testDefaults = `{
  "chrome": {"debug_port": 9222},
  "paths": {"reports": "reports", "screenshots": "screenshots"},
  "automation": {
    "default_timeout": 30,
    "landing_url": "https://duckduckgo.com",
    "search_query": "browser automation testing",
    "search_selector": "input[name='q']",
    "scroll_pixels": 500
  }
}`

// fakeDriver scripts connect outcomes per port and records calls.
type fakeDriver struct {
	mu        sync.Mutex
	reachable map[int]bool
	failStep  string // name of the step that should fail
	connects  []int
	calls     []string
	closed    bool
}

func (f *fakeDriver) ConnectOverDebugPort(port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, port)
	return f.reachable[port]
}

func (f *fakeDriver) step(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.failStep != name
}

func (f *fakeDriver) Navigate(url string, timeout time.Duration) bool {
	return f.step("navigate")
}

func (f *fakeDriver) Search(query, selector string) bool {
	return f.step("search")
}

func (f *fakeDriver) Scroll(direction string, pixels int) bool {
	return f.step("scroll")
}

func (f *fakeDriver) Screenshot(path string, fullPage bool) string {
	if !f.step("screenshot") {
		return ""
	}
	return path
}

func (f *fakeDriver) PageInfo() *browser.PageInfo {
	f.step("page_info")
	return &browser.PageInfo{URL: "https://example.com", Title: "example"}
}

func (f *fakeDriver) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// stallDriver wedges inside Navigate until the session is closed, the
// way a real page call hangs on a page that never finishes loading.
type stallDriver struct {
	*fakeDriver
	entered chan struct{}
	release chan struct{}

	enterOnce   sync.Once
	releaseOnce sync.Once
}

func newStallDriver(reachable map[int]bool) *stallDriver {
	return &stallDriver{
		fakeDriver: &fakeDriver{reachable: reachable},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (s *stallDriver) Navigate(url string, timeout time.Duration) bool {
	s.enterOnce.Do(func() { close(s.entered) })
	<-s.release
	return false
}

func (s *stallDriver) Close() {
	s.fakeDriver.Close()
	s.releaseOnce.Do(func() { close(s.release) })
}

func (s *stallDriver) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type runnerFixture struct {
	runner   *Runner
	driver   Driver
	bus      *events.Subject
	dataDir  string
	finished chan events.Finished
	progress chan events.Progress
}

func newFixture(t *testing.T, driver Driver, openPorts []int) *runnerFixture {
	t.Helper()

	dir := t.TempDir()
	cfg, err := config.LoadFrom([]byte(testDefaults), filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	bus := events.NewSubject(nil)
	t.Cleanup(bus.Close)

	r := NewRunner(cfg, bus, nil)
	r.newDriver = func() Driver { return driver }
	r.detect = func(candidates ...int) []int {
		if len(openPorts) == 0 {
			return []int{browser.DefaultDebugPort}
		}
		return openPorts
	}
	r.pause = func(ctx context.Context, d time.Duration) {}

	fx := &runnerFixture{
		runner:   r,
		driver:   driver,
		bus:      bus,
		dataDir:  dir,
		finished: make(chan events.Finished, 1),
		progress: make(chan events.Progress, 64),
	}
	events.Subscribe(bus, events.TopicRunFinished, func(_ context.Context, f events.Finished) error {
		fx.finished <- f
		return nil
	})
	events.Subscribe(bus, events.TopicRunProgress, func(_ context.Context, p events.Progress) error {
		fx.progress <- p
		return nil
	})
	return fx
}

func (fx *runnerFixture) waitFinished(t *testing.T) events.Finished {
	t.Helper()
	select {
	case f := <-fx.finished:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("run never finished")
		return events.Finished{}
	}
}

func (fx *runnerFixture) readReport(t *testing.T) Report {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(fx.dataDir, "reports"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "expected exactly one report file")
	assert.Regexp(t, `^automation_report_\d{8}_\d{6}\.json$`, entries[0].Name())

	data, err := os.ReadFile(filepath.Join(fx.dataDir, "reports", entries[0].Name()))
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func TestRunProcessesEveryInstance(t *testing.T) {
	driver := &fakeDriver{reachable: map[int]bool{9222: true, 9223: true}}
	fx := newFixture(t, driver, []int{9222, 9223})

	require.NoError(t, fx.runner.Start(context.Background()))
	finished := fx.waitFinished(t)

	assert.True(t, finished.Success)
	assert.NotEmpty(t, finished.Message)
	assert.Equal(t, []int{9222, 9223}, driver.connects)
	assert.True(t, driver.closed, "cleanup must close the driver")
	assert.False(t, fx.runner.Running())

	report := fx.readReport(t)
	assert.Equal(t, 2, report.TaskSummary.TotalInstances)
	assert.Equal(t, 2, report.TaskSummary.SuccessfulInstances)
	assert.Equal(t, 0, report.TaskSummary.FailedInstances)
	require.Len(t, report.DetailedResults, 2)
	assert.Equal(t, "success", report.DetailedResults[0].Status)
	require.Len(t, report.DetailedResults[0].Actions, 1)
	assert.Equal(t, "search", report.DetailedResults[0].Actions[0].Action)
	assert.NotNil(t, report.DetailedResults[0].PageInfo)
}

func TestUnreachableInstanceIsSkipped(t *testing.T) {
	driver := &fakeDriver{reachable: map[int]bool{9223: true}}
	fx := newFixture(t, driver, []int{9222, 9223})

	require.NoError(t, fx.runner.Start(context.Background()))
	finished := fx.waitFinished(t)

	// One instance refused the connection; the run still succeeds on
	// the other.
	assert.True(t, finished.Success)

	report := fx.readReport(t)
	assert.Equal(t, 1, report.TaskSummary.TotalInstances)
	assert.Equal(t, 1, report.TaskSummary.SuccessfulInstances)
	assert.Equal(t, 9223, report.DetailedResults[0].Port)
}

func TestNoReachableInstancesFailsRun(t *testing.T) {
	driver := &fakeDriver{reachable: map[int]bool{}}
	fx := newFixture(t, driver, []int{9222})

	require.NoError(t, fx.runner.Start(context.Background()))
	finished := fx.waitFinished(t)

	assert.False(t, finished.Success)
	assert.NotEmpty(t, finished.Message)
	assert.True(t, driver.closed)

	fx.runner.mu.Lock()
	assert.Nil(t, fx.runner.driver, "cleanup must drop the driver reference")
	fx.runner.mu.Unlock()

	// A report is still written, with zero counts.
	report := fx.readReport(t)
	assert.Equal(t, 0, report.TaskSummary.TotalInstances)
	assert.Equal(t, 0, report.TaskSummary.SuccessfulInstances)
	assert.Equal(t, 0, report.TaskSummary.FailedInstances)
	assert.Empty(t, report.DetailedResults)
}

func TestFailedStepAbortsRemainingActions(t *testing.T) {
	driver := &fakeDriver{
		reachable: map[int]bool{9222: true},
		failStep:  "search",
	}
	fx := newFixture(t, driver, []int{9222})

	require.NoError(t, fx.runner.Start(context.Background()))
	finished := fx.waitFinished(t)

	// The instance was reached, so the run counts as successful even
	// though its flow failed partway.
	assert.True(t, finished.Success)

	report := fx.readReport(t)
	require.Len(t, report.DetailedResults, 1)
	res := report.DetailedResults[0]
	assert.Equal(t, "failed", res.Status)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 1, report.TaskSummary.FailedInstances)

	// No step after the failing one may run.
	assert.Equal(t, []string{"navigate", "search"}, driver.calls)
}

func TestSecondStartWhileRunningIsRejected(t *testing.T) {
	driver := &fakeDriver{reachable: map[int]bool{9222: true}}
	fx := newFixture(t, driver, []int{9222})

	// Hold the run open so the second Start races against it.
	block := make(chan struct{})
	fx.runner.pause = func(ctx context.Context, d time.Duration) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	require.NoError(t, fx.runner.Start(context.Background()))
	assert.True(t, fx.runner.Running())
	assert.ErrorIs(t, fx.runner.Start(context.Background()), ErrRunInProgress)

	close(block)
	fx.waitFinished(t)
	assert.False(t, fx.runner.Running())

	// After the first run finishes a new one may start.
	require.NoError(t, fx.runner.Start(context.Background()))
	fx.waitFinished(t)
}

func TestProgressReachesHundred(t *testing.T) {
	driver := &fakeDriver{reachable: map[int]bool{9222: true}}
	fx := newFixture(t, driver, []int{9222})

	require.NoError(t, fx.runner.Start(context.Background()))
	fx.waitFinished(t)

	var last int
	for {
		select {
		case p := <-fx.progress:
			assert.GreaterOrEqual(t, p.Percent, last, "progress must not go backwards")
			last = p.Percent
			continue
		case <-time.After(200 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, 100, last)
}

func TestStopCancelsRun(t *testing.T) {
	driver := &fakeDriver{reachable: map[int]bool{9222: true, 9223: true}}
	fx := newFixture(t, driver, []int{9222, 9223})

	started := make(chan struct{})
	var once sync.Once
	fx.runner.pause = func(ctx context.Context, d time.Duration) {
		once.Do(func() { close(started) })
		<-ctx.Done()
	}

	require.NoError(t, fx.runner.Start(context.Background()))
	<-started
	fx.runner.Stop()

	finished := fx.waitFinished(t)
	assert.True(t, driver.closed, "stop must still run cleanup")
	// The first instance completed enough to count.
	assert.NotEmpty(t, finished.Message)
}

func TestStopForceClosesDriverMidStep(t *testing.T) {
	driver := newStallDriver(map[int]bool{9222: true})
	fx := newFixture(t, driver, []int{9222})

	require.NoError(t, fx.runner.Start(context.Background()))

	select {
	case <-driver.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("navigation never started")
	}

	fx.runner.Stop()

	// Stop must not wait behind the wedged navigation: the driver is
	// already closed when it returns, and closing is what fails the
	// blocked step.
	assert.True(t, driver.isClosed(), "driver must be closed while the step is still in flight")

	finished := fx.waitFinished(t)
	assert.NotEmpty(t, finished.Message)
	assert.False(t, fx.runner.Running())
}
