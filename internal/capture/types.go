// Package capture turns normalized options into image bytes. A primary
// engine is tried first and a freshly launched headless browser is the
// fallback; logos are always extracted with the fallback browser.
package capture

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/JakeFAU/sitecapture/internal/options"
)

// Format is the declared image format of a result.
type Format string

// Supported response formats.
const (
	FormatPNG Format = "png"
	FormatJPG Format = "jpg"
)

// ContentType returns the response content type for f.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f == FormatPNG || f == FormatJPG
}

// FormatFor picks the response format: jpg only when JPEG was asked for.
func FormatFor(opts options.Options) Format {
	if opts.Type == "jpeg" {
		return FormatJPG
	}
	return FormatPNG
}

// Engine names the engine that produced a result.
type Engine string

// Engines.
const (
	EnginePrimary  Engine = "rod"
	EngineFallback Engine = "chromedp"
)

// Kind separates screenshot work from logo work in logs and metrics.
type Kind string

// Kinds.
const (
	KindCapture Kind = "capture"
	KindLogo    Kind = "logo"
)

var (
	// ErrNoLogo reports that no heuristic matched or the match had no bytes.
	ErrNoLogo = errors.New("No logo found") //nolint:staticcheck // surfaced verbatim to clients
	// ErrEmptyCapture reports an engine that returned zero bytes.
	ErrEmptyCapture = errors.New("capture returned no bytes")
)

// Result is either a success carrying image bytes or a failure carrying a
// status and message. Use Success and Failure to build one.
type Result struct {
	status  int
	format  Format
	data    []byte
	message string
	engine  Engine
}

// Success builds a 200 result. Empty bytes or an unknown format turn it into
// a 500 failure so a success always carries a usable image.
func Success(data []byte, format Format, engine Engine) Result {
	if len(data) == 0 {
		return Failure(http.StatusInternalServerError, ErrEmptyCapture.Error())
	}
	if !format.Valid() {
		return Failure(http.StatusInternalServerError, "unsupported image format "+string(format))
	}
	return Result{status: http.StatusOK, format: format, data: data, engine: engine}
}

// Failure builds an error result. Non-error statuses become 500 and an
// empty message falls back to the status text.
func Failure(status int, message string) Result {
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return Result{status: status, message: message}
}

// OK reports whether r is a success.
func (r Result) OK() bool { return r.status == http.StatusOK }

// StatusCode returns the HTTP status for r.
func (r Result) StatusCode() int { return r.status }

// Format returns the declared image format; empty on failure.
func (r Result) Format() Format { return r.format }

// Bytes returns the image bytes; nil on failure.
func (r Result) Bytes() []byte { return r.data }

// Message returns the failure message; empty on success.
func (r Result) Message() string { return r.message }

// Engine returns the engine that produced a success.
func (r Result) Engine() Engine { return r.engine }

// Snapshot is what the latest-capture cache keeps.
type Snapshot struct {
	Bytes      []byte
	URL        string
	Format     Format
	Engine     Engine
	CapturedAt time.Time
}

// Primary renders a URL and returns image bytes in one call.
type Primary interface {
	Screenshot(ctx context.Context, opts options.Options) ([]byte, error)
}

// Launcher starts a fresh browser owned by the caller.
type Launcher interface {
	Launch(ctx context.Context, flags []string) (Browser, error)
}

// Browser is a single-page headless browser. Close must be called on every
// path once Launch succeeds.
type Browser interface {
	// Navigate loads url and returns once DOM content is loaded.
	Navigate(ctx context.Context, url string) error
	SetViewport(ctx context.Context, width, height int, scale float64) error
	// Screenshot captures the full page.
	Screenshot(ctx context.Context, format Format, quality int) ([]byte, error)
	// HTML returns the rendered document and the URL it ended up at.
	HTML(ctx context.Context) (html string, finalURL string, err error)
	// Fetch navigates to url and returns the raw response body.
	Fetch(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// Admitter runs tasks under the admission queue's concurrency limit.
type Admitter interface {
	Do(ctx context.Context, task func(context.Context) error) error
}

// Budget delays work against a host until its rate allows it.
type Budget interface {
	Wait(ctx context.Context, rawURL string) error
}

// LatestSink receives every successful screenshot.
type LatestSink interface {
	Put(snapshot Snapshot)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
