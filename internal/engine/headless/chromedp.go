// Package headless implements the fallback engine: one short-lived Chrome
// per task, driven with chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/capture"
)

// Config controls how browsers are launched.
type Config struct {
	ExecPath  string
	UserAgent string
}

// Launcher implements capture.Launcher. Every Launch starts a new browser
// process that only the caller uses.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

var (
	_ capture.Launcher = (*Launcher)(nil)
	_ capture.Browser  = (*Browser)(nil)
)

// NewLauncher creates a chromedp-backed launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger}
}

// Launch starts Chrome with flags and opens a single page.
func (l *Launcher) Launch(ctx context.Context, flags []string) (capture.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(flags)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		ctx:         taskCtx,
		cancel:      taskCancel,
		allocCancel: allocCancel,
		userAgent:   l.cfg.UserAgent,
	}
	// The first Run starts the browser process and must use the tab context
	// itself; a derived context would take the browser down with it.
	stop := context.AfterFunc(ctx, taskCancel)
	err := chromedp.Run(taskCtx, b.setupAction())
	stop()
	if err != nil {
		b.Close() //nolint:errcheck // launch already failed
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	l.logger.Debug("browser launched", zap.Strings("flags", flags))
	return b, nil
}

func (l *Launcher) allocatorOptions(flags []string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	for _, flag := range flags {
		if name, value, ok := chromeFlag(flag); ok {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// chromeFlag splits "--name" or "--name=value" into a chromedp flag.
func chromeFlag(flag string) (string, any, bool) {
	name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(flag), "-"), "=")
	if name == "" {
		return "", nil, false
	}
	if hasValue {
		return name, value, true
	}
	return name, true, true
}

// Browser implements capture.Browser on a single chromedp tab.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	userAgent   string
	closeOnce   sync.Once
	closeErr    error
}

// Navigate loads url and returns once the new document fires
// DOMContentLoaded. Subresources may still be loading.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, navigateDOMReady(url))
}

func navigateDOMReady(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		listenCtx, stop := context.WithCancel(ctx)
		defer stop()
		waiter := newDOMReady()
		chromedp.ListenTarget(listenCtx, waiter.observe)

		_, loaderID, errorText, isDownload, err := page.Navigate(url).Do(ctx)
		switch {
		case err != nil:
			return err
		case errorText != "":
			return fmt.Errorf("page load error %s", errorText)
		case isDownload:
			return errors.New("navigation started a download")
		case loaderID == "":
			// Same-document navigation; no new document will load.
			return nil
		}

		select {
		case <-waiter.expect(loaderID):
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for DOMContentLoaded: %w", ctx.Err())
		}
	})
}

// domReady matches DOMContentLoaded lifecycle events to a navigation's
// loader. Events can arrive before page.Navigate returns the loader ID.
type domReady struct {
	mu     sync.Mutex
	seen   map[cdp.LoaderID]bool
	want   cdp.LoaderID
	done   chan struct{}
	closed bool
}

func newDOMReady() *domReady {
	return &domReady{seen: make(map[cdp.LoaderID]bool), done: make(chan struct{})}
}

func (d *domReady) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != "DOMContentLoaded" || e.LoaderID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[e.LoaderID] = true
	if e.LoaderID == d.want {
		d.closeLocked()
	}
}

func (d *domReady) expect(loaderID cdp.LoaderID) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.want = loaderID
	if d.seen[loaderID] {
		d.closeLocked()
	}
	return d.done
}

func (d *domReady) closeLocked() {
	if !d.closed {
		d.closed = true
		close(d.done)
	}
}

// SetViewport overrides the device metrics of the page.
func (b *Browser) SetViewport(ctx context.Context, width, height int, scale float64) error {
	if scale <= 0 {
		scale = 1
	}
	return b.run(ctx, chromedp.EmulateViewport(int64(width), int64(height), chromedp.EmulateScale(scale)))
}

// Screenshot captures the full page. chromedp encodes PNG at quality 100
// and JPEG below it.
func (b *Browser) Screenshot(ctx context.Context, format capture.Format, quality int) ([]byte, error) {
	q := 100
	if format == capture.FormatJPG {
		q = min(max(quality, 1), 99)
	}
	var buf []byte
	if err := b.run(ctx, chromedp.FullScreenshot(&buf, q)); err != nil {
		return nil, err
	}
	return buf, nil
}

// HTML returns the rendered document and the page's current URL.
func (b *Browser) HTML(ctx context.Context) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	if err := b.run(ctx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", "", err
	}
	return html, finalURL, nil
}

// Fetch navigates to url and returns the body of the document response.
func (b *Browser) Fetch(ctx context.Context, url string) ([]byte, error) {
	listenCtx, stop := context.WithCancel(b.ctx)
	defer stop()
	meta := &responseMeta{}
	chromedp.ListenTarget(listenCtx, meta.captureEvent)

	if err := b.Navigate(ctx, url); err != nil {
		return nil, err
	}
	requestID, status, ok := meta.snapshot()
	if !ok {
		return nil, errors.New("no document response received")
	}
	if status >= 400 {
		return nil, fmt.Errorf("unexpected status %d", status)
	}

	var body []byte
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(requestID).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("close browser: %w", err)
		}
		b.cancel()
		b.allocCancel()
	})
	return b.closeErr
}

// run executes actions on the tab, bounded by ctx's deadline and
// cancellation without tying the tab's lifetime to ctx.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.userAgent != "" {
			if err := emulation.SetUserAgentOverride(b.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// responseMeta remembers the last document response seen on the tab.
type responseMeta struct {
	mu        sync.RWMutex
	requestID network.RequestID
	status    int
	seen      bool
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.requestID = event.RequestID
	m.status = int(event.Response.Status)
	m.seen = true
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshot() (network.RequestID, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestID, m.status, m.seen
}
