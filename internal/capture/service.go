package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/metrics"
	"github.com/JakeFAU/sitecapture/internal/options"
	"github.com/JakeFAU/sitecapture/internal/queue"
)

// Config tunes the fallback engine.
type Config struct {
	NavigationTimeout    time.Duration
	WaitBeforeScreenshot time.Duration
}

const (
	defaultNavigationTimeout    = 60 * time.Second
	defaultWaitBeforeScreenshot = 300 * time.Millisecond
	defaultJPEGQuality          = 90
)

// Service runs screenshot and logo work through admission, the per-host
// budget and the engines.
type Service struct {
	primary  Primary
	launcher Launcher
	admit    Admitter
	budget   Budget
	latest   LatestSink
	clock    Clock
	cfg      Config
	logger   *zap.Logger
}

// NewService wires a Service. primary, admit, budget and latest may be nil.
func NewService(
	primary Primary,
	launcher Launcher,
	admit Admitter,
	budget Budget,
	latest LatestSink,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitBeforeScreenshot < 0 {
		cfg.WaitBeforeScreenshot = defaultWaitBeforeScreenshot
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		primary:  primary,
		launcher: launcher,
		admit:    admit,
		budget:   budget,
		latest:   latest,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Capture screenshots opts.URL with the primary engine and falls back to a
// fresh headless browser on any primary error.
func (s *Service) Capture(ctx context.Context, opts options.Options) Result {
	return s.admitted(ctx, KindCapture, opts, s.capture)
}

// Logo extracts the site's logo with the fallback browser.
func (s *Service) Logo(ctx context.Context, opts options.Options) Result {
	return s.admitted(ctx, KindLogo, opts, s.logo)
}

func (s *Service) admitted(
	ctx context.Context,
	kind Kind,
	opts options.Options,
	run func(context.Context, options.Options) Result,
) Result {
	if s.admit == nil {
		return run(ctx, opts)
	}
	var res Result
	err := s.admit.Do(ctx, func(taskCtx context.Context) error {
		res = run(taskCtx, opts)
		return nil
	})
	var panicErr *queue.PanicError
	if errors.As(err, &panicErr) {
		s.logger.Error("capture panicked",
			zap.String("kind", string(kind)),
			zap.String("url", opts.URL),
			zap.Any("panic", panicErr.Value),
			zap.ByteString("stack", panicErr.Stack),
		)
		return Failure(http.StatusInternalServerError, "Unexpected error occurred")
	}
	if err != nil {
		s.logger.Warn("capture not admitted",
			zap.String("kind", string(kind)),
			zap.String("url", opts.URL),
			zap.Error(err),
		)
		return Failure(http.StatusServiceUnavailable, fmt.Sprintf("capture not admitted: %v", err))
	}
	return res
}

func (s *Service) capture(ctx context.Context, opts options.Options) Result {
	format := FormatFor(opts)
	s.logOptions(KindCapture, opts)
	if err := s.waitBudget(ctx, opts); err != nil {
		return Failure(http.StatusInternalServerError, err.Error())
	}

	if !opts.UseFallbackEngine && s.primary != nil {
		data, err := s.attempt(ctx, KindCapture, EnginePrimary, opts, func(ctx context.Context) ([]byte, error) {
			return s.primary.Screenshot(ctx, opts)
		})
		if err == nil {
			s.remember(opts.URL, data, format, EnginePrimary)
			return Success(data, format, EnginePrimary)
		}
		s.logger.Warn("primary capture failed, trying fallback",
			zap.String("url", opts.URL),
			zap.Error(err),
		)
	}

	data, err := s.attempt(ctx, KindCapture, EngineFallback, opts, func(ctx context.Context) ([]byte, error) {
		return s.fallbackScreenshot(ctx, opts, format)
	})
	if err != nil {
		s.logger.Error("capture failed", zap.String("url", opts.URL), zap.Error(err))
		return Failure(http.StatusInternalServerError, err.Error())
	}
	s.remember(opts.URL, data, format, EngineFallback)
	return Success(data, format, EngineFallback)
}

func (s *Service) logo(ctx context.Context, opts options.Options) Result {
	s.logOptions(KindLogo, opts)
	if err := s.waitBudget(ctx, opts); err != nil {
		return Failure(http.StatusInternalServerError, err.Error())
	}
	data, err := s.attempt(ctx, KindLogo, EngineFallback, opts, func(ctx context.Context) ([]byte, error) {
		return s.fetchLogo(ctx, opts)
	})
	if err != nil {
		s.logger.Error("logo extraction failed", zap.String("url", opts.URL), zap.Error(err))
		if errors.Is(err, ErrNoLogo) || errors.Is(err, ErrEmptyCapture) {
			return Failure(http.StatusInternalServerError, ErrNoLogo.Error())
		}
		return Failure(http.StatusInternalServerError, err.Error())
	}
	return Success(data, FormatPNG, EngineFallback)
}

// attempt runs one engine call under the request timeout and records it.
func (s *Service) logOptions(kind Kind, opts options.Options) {
	if len(opts.Ignored) > 0 {
		s.logger.Debug("ignoring unknown options",
			zap.String("kind", string(kind)),
			zap.Any("options", opts.IgnoredValues()),
		)
	}
	if unparsed := opts.Unparsed(); len(unparsed) > 0 {
		s.logger.Debug("non-numeric options use defaults",
			zap.String("kind", string(kind)),
			zap.Any("options", unparsed),
		)
	}
}

func (s *Service) attempt(
	ctx context.Context,
	kind Kind,
	engine Engine,
	opts options.Options,
	fn func(context.Context) ([]byte, error),
) ([]byte, error) {
	if timeout := opts.TimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := fn(ctx)
	if err == nil && len(data) == 0 {
		err = ErrEmptyCapture
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveAttempt(string(kind), string(engine), outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	metrics.ObserveBytes(string(kind), len(data))
	s.logger.Info("capture attempt succeeded",
		zap.String("kind", string(kind)),
		zap.String("engine", string(engine)),
		zap.String("url", opts.URL),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)),
	)
	return data, nil
}

func (s *Service) fallbackScreenshot(ctx context.Context, opts options.Options, format Format) ([]byte, error) {
	browser, err := s.launch(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer s.closeBrowser(browser, opts.URL)

	if err := s.navigate(ctx, browser, opts.URL); err != nil {
		return nil, err
	}
	if width, height, scale, ok := opts.Viewport(); ok {
		if err := browser.SetViewport(ctx, width, height, scale); err != nil {
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}
	if err := sleep(ctx, opts.WaitBeforeScreenshot(s.cfg.WaitBeforeScreenshot)); err != nil {
		return nil, err
	}
	data, err := browser.Screenshot(ctx, format, jpegQuality(opts))
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

func (s *Service) fetchLogo(ctx context.Context, opts options.Options) ([]byte, error) {
	browser, err := s.launch(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer s.closeBrowser(browser, opts.URL)

	if err := s.navigate(ctx, browser, opts.URL); err != nil {
		return nil, err
	}
	html, finalURL, err := browser.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if finalURL == "" {
		finalURL = opts.URL
	}
	ref, err := FindLogo(html, finalURL)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("logo reference found", zap.String("url", opts.URL), zap.String("ref", truncate(ref, 120)))

	if isDataURL(ref) {
		return decodeDataURL(ref)
	}
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	data, err := browser.Fetch(navCtx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch logo %s: %w", ref, err)
	}
	return data, nil
}

func (s *Service) launch(ctx context.Context, opts options.Options) (Browser, error) {
	if s.launcher == nil {
		return nil, errors.New("no headless browser configured")
	}
	browser, err := s.launcher.Launch(ctx, opts.LaunchFlags)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return browser, nil
}

func (s *Service) navigate(ctx context.Context, browser Browser, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := browser.Navigate(navCtx, url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Service) closeBrowser(browser Browser, url string) {
	if err := browser.Close(); err != nil {
		s.logger.Warn("close browser", zap.String("url", url), zap.Error(err))
	}
}

func (s *Service) waitBudget(ctx context.Context, opts options.Options) error {
	if s.budget == nil {
		return nil
	}
	budgetCtx := ctx
	if timeout := opts.TimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.budget.Wait(budgetCtx, opts.URL); err != nil {
		return fmt.Errorf("host budget: %w", err)
	}
	return nil
}

func (s *Service) remember(url string, data []byte, format Format, engine Engine) {
	if s.latest == nil {
		return
	}
	var at time.Time
	if s.clock != nil {
		at = s.clock.Now()
	} else {
		at = time.Now().UTC()
	}
	s.latest.Put(Snapshot{
		Bytes:      data,
		URL:        url,
		Format:     format,
		Engine:     engine,
		CapturedAt: at,
	})
}

// jpegQuality maps the quality option to the 0-100 range. Values up to 1
// are treated as a fraction.
func jpegQuality(opts options.Options) int {
	q, ok := opts.Quality.Float()
	if !ok || q <= 0 {
		return defaultJPEGQuality
	}
	if q <= 1 {
		q *= 100
	}
	return int(math.Min(100, math.Round(q)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait before screenshot: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
