// Package options turns raw capture request parameters into a typed
// capture configuration.
package options

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Recognized parameter names.
const (
	KeyURL                  = "url"
	KeyWidth                = "width"
	KeyHeight               = "height"
	KeyQuality              = "quality"
	KeyScaleFactor          = "scaleFactor"
	KeyTimeout              = "timeout"
	KeyDelay                = "delay"
	KeyOffset               = "offset"
	KeyType                 = "type"
	KeyPlainPuppeteer       = "plainPuppeteer"
	KeyFullPage             = "fullPage"
	KeyWaitBeforeScreenshot = "wait_before_screenshot_ms"
	KeySecret               = "secret"
)

// numericKeys are coerced to numbers when their value is truthy.
var numericKeys = []string{
	KeyWidth,
	KeyHeight,
	KeyQuality,
	KeyScaleFactor,
	KeyTimeout,
	KeyDelay,
	KeyOffset,
	KeyWaitBeforeScreenshot,
}

var knownKeys = map[string]struct{}{
	KeyURL:                  {},
	KeyWidth:                {},
	KeyHeight:               {},
	KeyQuality:              {},
	KeyScaleFactor:          {},
	KeyTimeout:              {},
	KeyDelay:                {},
	KeyOffset:               {},
	KeyType:                 {},
	KeyPlainPuppeteer:       {},
	KeyFullPage:             {},
	KeyWaitBeforeScreenshot: {},
	KeySecret:               {},
}

// LaunchFlags are attached to every browser launch. They are operational
// invariants and cannot be set per request.
var LaunchFlags = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--hide-scrollbars",
	"--mute-audio",
	"--use-fake-ui-for-media-stream",
}

// Number is an option value that was a coercion candidate. It holds the
// coerced float when coercion succeeded and the untouched original otherwise.
type Number struct {
	raw   any
	value float64
	ok    bool
}

// Present reports whether the parameter was supplied at all.
func (n Number) Present() bool {
	return n.raw != nil
}

// Float returns the coerced value and whether it is a number.
func (n Number) Float() (float64, bool) {
	return n.value, n.ok
}

// Int returns the coerced value truncated toward zero.
func (n Number) Int() (int, bool) {
	if !n.ok {
		return 0, false
	}
	return int(n.value), true
}

// Raw returns the numeric value when coercion succeeded, otherwise the
// original parsed value.
func (n Number) Raw() any {
	if n.ok {
		return n.value
	}
	return n.raw
}

func (n Number) String() string {
	if n.ok {
		return strconv.FormatFloat(n.value, 'f', -1, 64)
	}
	if n.raw == nil {
		return ""
	}
	return fmt.Sprint(n.raw)
}

// Options is the normalized form of a capture request.
type Options struct {
	URL                    string
	Width                  Number
	Height                 Number
	Quality                Number
	ScaleFactor            Number
	Timeout                Number
	Delay                  Number
	Offset                 Number
	WaitBeforeScreenshotMs Number
	Type                   string
	UseFallbackEngine      bool
	FullPage               bool
	Secret                 string
	LaunchFlags            []string

	// Values holds every parameter after JSON parsing and numeric coercion.
	Values map[string]any
	// Ignored lists parameters that no engine understands.
	Ignored []string
}

// FromQuery flattens url.Values into the single-value form Normalize takes.
// The first value of a repeated key wins.
func FromQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for key, values := range q {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}

// Normalize parses and coerces raw parameters. It never fails: malformed
// values pass through for the capture layer to reject.
func Normalize(raw map[string]string, defaultTimeoutSeconds int) Options {
	values := make(map[string]any, len(raw)+1)
	var ignored []string
	for key, value := range raw {
		values[key] = parseValue(value)
		if _, ok := knownKeys[key]; !ok {
			ignored = append(ignored, key)
		}
	}
	sort.Strings(ignored)

	if !truthy(values[KeyTimeout]) {
		values[KeyTimeout] = float64(defaultTimeoutSeconds)
	}

	numbers := make(map[string]Number, len(numericKeys))
	for _, key := range numericKeys {
		v, present := values[key]
		if !present {
			continue
		}
		n := Number{raw: v}
		if truthy(v) {
			if f, ok := toNumber(v); ok {
				n.value, n.ok = f, true
				values[key] = f
			}
		}
		numbers[key] = n
	}

	return Options{
		URL:                    raw[KeyURL],
		Width:                  numbers[KeyWidth],
		Height:                 numbers[KeyHeight],
		Quality:                numbers[KeyQuality],
		ScaleFactor:            numbers[KeyScaleFactor],
		Timeout:                numbers[KeyTimeout],
		Delay:                  numbers[KeyDelay],
		Offset:                 numbers[KeyOffset],
		WaitBeforeScreenshotMs: numbers[KeyWaitBeforeScreenshot],
		Type:                   raw[KeyType],
		UseFallbackEngine:      isTrue(values[KeyPlainPuppeteer]),
		FullPage:               isTrue(values[KeyFullPage]),
		Secret:                 raw[KeySecret],
		LaunchFlags:            append([]string(nil), LaunchFlags...),
		Values:                 values,
		Ignored:                ignored,
	}
}

// IgnoredValues returns the parsed value of every ignored parameter.
func (o Options) IgnoredValues() map[string]any {
	out := make(map[string]any, len(o.Ignored))
	for _, key := range o.Ignored {
		out[key] = o.Values[key]
	}
	return out
}

// Unparsed returns numeric parameters that were supplied but did not
// coerce to a number. Engines use their defaults for these.
func (o Options) Unparsed() map[string]any {
	out := map[string]any{}
	for key, n := range map[string]Number{
		KeyWidth:                o.Width,
		KeyHeight:               o.Height,
		KeyQuality:              o.Quality,
		KeyScaleFactor:          o.ScaleFactor,
		KeyTimeout:              o.Timeout,
		KeyDelay:                o.Delay,
		KeyOffset:               o.Offset,
		KeyWaitBeforeScreenshot: o.WaitBeforeScreenshotMs,
	} {
		if _, ok := n.Float(); n.Present() && !ok {
			out[key] = n.Raw()
		}
	}
	return out
}

// TimeoutDuration converts the timeout option (seconds) to a duration. It
// is zero when the value is not a positive number.
func (o Options) TimeoutDuration() time.Duration {
	return seconds(o.Timeout)
}

// DelayDuration converts the delay option (seconds) to a duration.
func (o Options) DelayDuration() time.Duration {
	return seconds(o.Delay)
}

// Viewport returns the requested viewport when both width and height are
// positive numbers. The scale factor defaults to 1.
func (o Options) Viewport() (width, height int, scale float64, ok bool) {
	w, wok := o.Width.Int()
	h, hok := o.Height.Int()
	if !wok || !hok || w <= 0 || h <= 0 {
		return 0, 0, 0, false
	}
	scale = 1
	if s, sok := o.ScaleFactor.Float(); sok && s > 0 {
		scale = s
	}
	return w, h, scale, true
}

// WaitBeforeScreenshot returns the requested settle delay or def.
func (o Options) WaitBeforeScreenshot(def time.Duration) time.Duration {
	if ms, ok := o.WaitBeforeScreenshotMs.Float(); ok && ms > 0 {
		return toDuration(ms, time.Millisecond)
	}
	return def
}

// MaxDuration caps every time-valued option.
const MaxDuration = 24 * time.Hour

func seconds(n Number) time.Duration {
	s, ok := n.Float()
	if !ok {
		return 0
	}
	return toDuration(s, time.Second)
}

// toDuration converts v units to a duration in (0, MaxDuration]. Values
// that are not positive give zero.
func toDuration(v float64, unit time.Duration) time.Duration {
	if !(v > 0) {
		return 0
	}
	if v >= float64(MaxDuration)/float64(unit) {
		return MaxDuration
	}
	return time.Duration(v * float64(unit))
}

// parseValue decodes JSON-looking input and falls back to the raw string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	if v == nil {
		// "null" is valid JSON but would erase the parameter.
		return raw
	}
	return v
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	default:
		return true
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func isTrue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	default:
		return false
	}
}
