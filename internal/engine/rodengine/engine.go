// Package rodengine is the primary capture engine. It keeps one Chrome
// process alive and opens a fresh page for every screenshot.
package rodengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/capture"
	"github.com/JakeFAU/sitecapture/internal/options"
)

// Defaults applied when a request does not set them.
const (
	DefaultWidth       = 1280
	DefaultHeight      = 800
	DefaultScaleFactor = 2
	defaultJPEGQuality = 90
	pageCloseTimeout   = 5 * time.Second
)

// Config controls the shared browser.
type Config struct {
	ExecPath string
	Flags    []string
}

// Engine implements capture.Primary with go-rod.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	// lookPath finds a local Chrome when ExecPath is empty.
	lookPath func() (string, bool)

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	// starting is non-nil while a launch is in flight and closed when it ends.
	starting chan struct{}
	closed   bool
}

var _ capture.Primary = (*Engine)(nil)

// New creates an Engine. The browser starts on the first Screenshot.
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Flags) == 0 {
		cfg.Flags = options.LaunchFlags
	}
	return &Engine{cfg: cfg, logger: logger, lookPath: launcher.LookPath}
}

// Screenshot renders opts.URL on a new page and returns the encoded image.
func (e *Engine) Screenshot(ctx context.Context, opts options.Options) ([]byte, error) {
	browser, err := e.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		if ctx.Err() == nil {
			e.reset()
		}
		return nil, fmt.Errorf("creating page: %w", err)
	}
	defer func() {
		// The request context may be done; closing must still reach Chrome.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pageCloseTimeout)
		defer cancel()
		if cerr := page.Context(closeCtx).Close(); cerr != nil {
			e.logger.Debug("close page", zap.Error(cerr))
		}
	}()

	if err := page.SetViewport(viewport(opts)); err != nil {
		return nil, fmt.Errorf("setting viewport: %w", err)
	}
	if err := page.Navigate(opts.URL); err != nil {
		return nil, fmt.Errorf("navigating: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("waiting for load: %w", err)
	}
	if err := wait(ctx, opts.DelayDuration()); err != nil {
		return nil, err
	}
	if offset, ok := opts.Offset.Float(); ok && offset > 0 {
		if _, err := page.Eval(`(y) => window.scrollTo(0, y)`, offset); err != nil {
			return nil, fmt.Errorf("scrolling to offset: %w", err)
		}
	}

	shot, err := page.Screenshot(opts.FullPage, screenshotRequest(opts))
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return shot, nil
}

// Close stops the shared browser.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return e.closeLocked()
}

// ensureBrowser returns the shared browser, launching it under ctx when
// needed. Only one launch runs at a time; other callers wait for it or
// for their own ctx.
func (e *Engine) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrClosed
		}
		if e.browser != nil {
			browser := e.browser
			e.mu.Unlock()
			return browser, nil
		}
		if starting := e.starting; starting != nil {
			e.mu.Unlock()
			select {
			case <-starting:
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("waiting for browser launch: %w", ctx.Err())
			}
		}
		starting := make(chan struct{})
		e.starting = starting
		e.mu.Unlock()

		browser, l, err := e.launch(ctx)

		e.mu.Lock()
		e.starting = nil
		closed := e.closed
		if err == nil && !closed {
			e.browser, e.launcher = browser, l
		}
		e.mu.Unlock()
		close(starting)

		if err == nil && closed {
			_ = browser.Close()
			l.Kill()
			return nil, ErrClosed
		}
		return browser, err
	}
}

func (e *Engine) launch(ctx context.Context) (*rod.Browser, *launcher.Launcher, error) {
	l, err := e.newLauncher(ctx)
	if err != nil {
		return nil, nil, err
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launching browser: %w", err)
	}
	client, err := cdp.StartWithURL(ctx, controlURL, nil)
	if err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connecting to browser: %w", err)
	}
	// The browser outlives this request, so its event loop is not bound to ctx.
	browser := rod.New().Client(client)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connecting to browser: %w", err)
	}
	e.logger.Info("primary browser started", zap.String("control_url", controlURL))
	return browser, l, nil
}

// newLauncher never downloads Chrome: without ExecPath or a local install
// it fails with ErrNoBrowser, matching Available.
func (e *Engine) newLauncher(ctx context.Context) (*launcher.Launcher, error) {
	bin := e.cfg.ExecPath
	if bin == "" {
		path, found := e.lookPath()
		if !found {
			return nil, ErrNoBrowser
		}
		bin = path
	}
	l := launcher.New().Context(ctx).Headless(true).Bin(bin)
	for _, flag := range e.cfg.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(flag), "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l, nil
}

// reset drops a browser that stopped answering so the next call relaunches.
func (e *Engine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.closeLocked(); err != nil {
		e.logger.Warn("reset primary browser", zap.Error(err))
	}
}

func (e *Engine) closeLocked() error {
	if e.browser == nil {
		return nil
	}
	err := e.browser.Close()
	if e.launcher != nil {
		e.launcher.Kill()
	}
	e.browser = nil
	e.launcher = nil
	if err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}

func viewport(opts options.Options) *proto.EmulationSetDeviceMetricsOverride {
	width, height := DefaultWidth, DefaultHeight
	if w, ok := opts.Width.Int(); ok && w > 0 {
		width = w
	}
	if h, ok := opts.Height.Int(); ok && h > 0 {
		height = h
	}
	scale := float64(DefaultScaleFactor)
	if s, ok := opts.ScaleFactor.Float(); ok && s > 0 {
		scale = s
	}
	return &proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scale,
	}
}

// screenshotRequest maps type and quality. Quality is a 0..1 fraction and
// only applies to JPEG.
func screenshotRequest(opts options.Options) *proto.PageCaptureScreenshot {
	if capture.FormatFor(opts) != capture.FormatJPG {
		return &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	}
	quality := defaultJPEGQuality
	if q, ok := opts.Quality.Float(); ok && q > 0 {
		if q <= 1 {
			q *= 100
		}
		quality = min(int(q), 100)
	}
	return &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// ErrClosed is returned by Screenshot after Close.
var ErrClosed = errors.New("primary engine closed")

// ErrNoBrowser is returned when no Chrome binary can be found. The engine
// does not download one.
var ErrNoBrowser = errors.New("browser not found")

// Available reports whether a Chrome binary is reachable.
func Available(execPath string) error {
	if execPath != "" {
		return nil
	}
	if _, found := launcher.LookPath(); !found {
		return ErrNoBrowser
	}
	return nil
}
