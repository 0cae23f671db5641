package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/sitecapture/internal/options"
)

type fakePrimary struct {
	mu    sync.Mutex
	data  []byte
	err   error
	block bool
	calls int
}

func (p *fakePrimary) Screenshot(ctx context.Context, _ options.Options) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.data, p.err
}

func (p *fakePrimary) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeLauncher struct {
	mu        sync.Mutex
	err       error
	browser   *fakeBrowser
	launches  int
	lastFlags []string
}

func (l *fakeLauncher) Launch(_ context.Context, flags []string) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.lastFlags = flags
	if l.err != nil {
		return nil, l.err
	}
	return l.browser, nil
}

func (l *fakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

type viewport struct {
	width, height int
	scale         float64
}

type fakeBrowser struct {
	mu sync.Mutex

	navigateErr   error
	viewportErr   error
	screenshot    []byte
	screenshotErr error
	html          string
	finalURL      string
	htmlErr       error
	fetched       map[string][]byte
	fetchErr      error

	navigated  []string
	fetchedURL []string
	viewports  []viewport
	formats    []Format
	qualities  []int
	closed     int
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navigated = append(b.navigated, url)
	return b.navigateErr
}

func (b *fakeBrowser) SetViewport(_ context.Context, width, height int, scale float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewports = append(b.viewports, viewport{width: width, height: height, scale: scale})
	return b.viewportErr
}

func (b *fakeBrowser) Screenshot(_ context.Context, format Format, quality int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.formats = append(b.formats, format)
	b.qualities = append(b.qualities, quality)
	return b.screenshot, b.screenshotErr
}

func (b *fakeBrowser) HTML(context.Context) (string, string, error) {
	return b.html, b.finalURL, b.htmlErr
}

func (b *fakeBrowser) Fetch(_ context.Context, url string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchedURL = append(b.fetchedURL, url)
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.fetched[url], nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBrowser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (s *recordingSink) Put(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
}

func (s *recordingSink) All() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.snapshots...)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type rejectingAdmitter struct{ err error }

func (a rejectingAdmitter) Do(context.Context, func(context.Context) error) error {
	return a.err
}

type admitFunc func(context.Context, func(context.Context) error) error

func (f admitFunc) Do(ctx context.Context, task func(context.Context) error) error {
	return f(ctx, task)
}

type primaryFunc func(context.Context, options.Options) ([]byte, error)

func (p primaryFunc) Screenshot(ctx context.Context, opts options.Options) ([]byte, error) {
	return p(ctx, opts)
}

type countingBudget struct {
	mu    sync.Mutex
	urls  []string
	err   error
	calls int
}

func (b *countingBudget) Wait(_ context.Context, rawURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.urls = append(b.urls, rawURL)
	return b.err
}

var errBoom = errors.New("boom")
