package browser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
)

// session bundles the handles for one CDP attachment so they can be
// swapped out and torn down as a unit.
type session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

// Driver runs page automation against a Chrome instance reached over
// its remote debugging port. Action methods never return errors:
// failures are logged and surfaced as false, empty strings or nils so a
// scripted sequence can note the failure and move on.
//
// mu serializes actions against the page. The session handles are held
// separately so Close can detach while an action is still in flight:
// closing the underlying connection makes the blocked call fail instead
// of making Close wait for it.
type Driver struct {
	mu      sync.Mutex
	log     *slog.Logger
	timeout time.Duration
	sess    atomic.Pointer[session]
}

// PageInfo is a snapshot of the current page.
type PageInfo struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Viewport  Viewport  `json:"viewport"`
	Timestamp time.Time `json:"timestamp"`
}

// Viewport is the page's inner window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Link is an anchor collected from the current page.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// NewDriver returns a disconnected driver. timeout is the default for
// navigation and element waits; zero means 30 seconds.
func NewDriver(log *slog.Logger, timeout time.Duration) *Driver {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Driver{log: log, timeout: timeout}
}

// Connected reports whether the driver holds a live session.
func (d *Driver) Connected() bool {
	return d.sess.Load() != nil
}

// ConnectOverDebugPort attaches to the Chrome instance listening on
// port. An existing context and page are reused when present so the
// session picks up whatever the instance is already showing; otherwise
// fresh ones are created. Any prior session is closed first.
func (d *Driver) ConnectOverDebugPort(port int) bool {
	d.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := playwright.Install(&playwright.RunOptions{SkipInstallBrowsers: true}); err != nil {
		d.log.Error("playwright driver install failed", "error", err)
		return false
	}

	pw, err := playwright.Run()
	if err != nil {
		d.log.Error("playwright start failed", "error", err)
		return false
	}

	endpoint := fmt.Sprintf("http://localhost:%d", port)
	browser, err := pw.Chromium.ConnectOverCDP(endpoint)
	if err != nil {
		d.log.Error("cdp connect failed", "port", port, "error", err)
		_ = pw.Stop()
		return false
	}

	var ctx playwright.BrowserContext
	if contexts := browser.Contexts(); len(contexts) > 0 {
		ctx = contexts[0]
	} else {
		ctx, err = browser.NewContext(playwright.BrowserNewContextOptions{
			Viewport: &playwright.Size{Width: 1920, Height: 1080},
		})
		if err != nil {
			d.log.Error("create browser context failed", "port", port, "error", err)
			_ = browser.Close()
			_ = pw.Stop()
			return false
		}
	}

	var page playwright.Page
	if pages := ctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = ctx.NewPage()
		if err != nil {
			d.log.Error("create page failed", "port", port, "error", err)
			_ = browser.Close()
			_ = pw.Stop()
			return false
		}
	}

	d.sess.Store(&session{pw: pw, browser: browser, context: ctx, page: page})
	d.log.Info("connected to chrome instance", "port", port)
	return true
}

// Navigate loads a URL and waits for the load event. A zero timeout
// uses the driver default.
func (d *Driver) Navigate(url string, timeout time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("navigate skipped, no active page", "url", url)
		return false
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		d.log.Error("navigation failed", "url", url, "error", err)
		return false
	}
	d.log.Info("navigated", "url", url)
	return true
}

// Search fills the search box named by selector, submits with Enter and
// waits for the network to go idle.
func (d *Driver) Search(query, selector string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("search skipped, no active page", "query", query)
		return false
	}

	if _, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(5000),
	}); err != nil {
		d.log.Error("search box not found", "selector", selector, "error", err)
		return false
	}

	box := s.page.Locator(selector)
	if err := box.Fill(query); err != nil {
		d.log.Error("fill search box failed", "selector", selector, "error", err)
		return false
	}
	if err := s.page.Keyboard().Press("Enter"); err != nil {
		d.log.Error("submit search failed", "error", err)
		return false
	}
	if err := s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(d.timeout.Milliseconds())),
	}); err != nil {
		// Results usually render before networkidle on busy pages.
		d.log.Warn("search results still loading", "query", query, "error", err)
	}
	d.log.Info("search submitted", "query", query)
	return true
}

// scrollDeltas maps a direction to a window.scrollBy displacement.
func scrollDeltas(direction string, pixels int) (int, int, bool) {
	switch direction {
	case "down":
		return 0, pixels, true
	case "up":
		return 0, -pixels, true
	case "right":
		return pixels, 0, true
	case "left":
		return -pixels, 0, true
	}
	return 0, 0, false
}

// Scroll moves the page window by pixels in the given direction
// ("up", "down", "left", "right"). Zero pixels means 500.
func (d *Driver) Scroll(direction string, pixels int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("scroll skipped, no active page")
		return false
	}
	if pixels <= 0 {
		pixels = 500
	}

	dx, dy, ok := scrollDeltas(direction, pixels)
	if !ok {
		d.log.Error("unknown scroll direction", "direction", direction)
		return false
	}
	if _, err := s.page.Evaluate(fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy)); err != nil {
		d.log.Error("scroll failed", "direction", direction, "error", err)
		return false
	}
	return true
}

// Click clicks the first element matching selector.
func (d *Driver) Click(selector string, timeout time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("click skipped, no active page", "selector", selector)
		return false
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	err := s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		d.log.Error("click failed", "selector", selector, "error", err)
		return false
	}
	return true
}

// ReadText returns the text content of the first element matching
// selector, or "" when absent.
func (d *Driver) ReadText(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("read text skipped, no active page", "selector", selector)
		return ""
	}

	loc := s.page.Locator(selector)
	count, err := loc.Count()
	if err != nil || count == 0 {
		return ""
	}
	text, err := loc.First().TextContent()
	if err != nil {
		d.log.Error("read text failed", "selector", selector, "error", err)
		return ""
	}
	return text
}

// PageInfo captures the current page's URL, title and viewport size.
// Returns nil when there is no active page or the page is unreadable.
func (d *Driver) PageInfo() *PageInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("page info skipped, no active page")
		return nil
	}

	title, err := s.page.Title()
	if err != nil {
		d.log.Error("read page title failed", "error", err)
		return nil
	}

	info := &PageInfo{
		URL:       s.page.URL(),
		Title:     title,
		Timestamp: time.Now(),
	}
	if w, err := s.page.Evaluate("window.innerWidth"); err == nil {
		info.Viewport.Width = asInt(w)
	}
	if h, err := s.page.Evaluate("window.innerHeight"); err == nil {
		info.Viewport.Height = asInt(h)
	}
	return info
}

// Screenshot captures the full page to path, creating the directory as
// needed. Returns the saved path, or "" on failure.
func (d *Driver) Screenshot(path string, fullPage bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("screenshot skipped, no active page")
		return ""
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		d.log.Error("create screenshot dir failed", "error", err)
		return ""
	}
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	if err != nil {
		d.log.Error("screenshot failed", "path", path, "error", err)
		return ""
	}
	d.log.Info("screenshot saved", "path", path)
	return path
}

// WaitForSelector waits until selector appears on the page.
func (d *Driver) WaitForSelector(selector string, timeout time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("wait skipped, no active page", "selector", selector)
		return false
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	_, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		d.log.Warn("selector did not appear", "selector", selector, "error", err)
		return false
	}
	return true
}

// ListLinks collects every anchor with an href from the current page.
// Returns nil on failure.
func (d *Driver) ListLinks() []Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sess.Load()
	if s == nil {
		d.log.Warn("list links skipped, no active page")
		return nil
	}

	anchors, err := s.page.Locator("a[href]").All()
	if err != nil {
		d.log.Error("list links failed", "error", err)
		return nil
	}

	links := make([]Link, 0, len(anchors))
	for _, a := range anchors {
		href, err := a.GetAttribute("href")
		if err != nil || href == "" {
			continue
		}
		text, _ := a.TextContent()
		links = append(links, Link{Text: text, Href: href})
	}
	return links
}

// Close detaches the current session and tears it down page first, then
// context, browser and the playwright runtime. It deliberately does not
// take the action mutex: an action blocked on the page fails once the
// connection drops rather than holding Close up. Individual teardown
// failures are logged and do not stop the rest. Safe to call repeatedly.
func (d *Driver) Close() {
	s := d.sess.Swap(nil)
	if s == nil {
		return
	}

	if err := s.page.Close(); err != nil {
		d.log.Warn("close page failed", "error", err)
	}
	if err := s.context.Close(); err != nil {
		d.log.Warn("close context failed", "error", err)
	}
	if err := s.browser.Close(); err != nil {
		d.log.Warn("close browser failed", "error", err)
	}
	if err := s.pw.Stop(); err != nil {
		d.log.Warn("stop playwright failed", "error", err)
	}
	d.log.Info("browser session closed")
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return 0
}
