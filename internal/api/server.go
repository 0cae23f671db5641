package api

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/auth"
	"github.com/JakeFAU/sitecapture/internal/capture"
	"github.com/JakeFAU/sitecapture/internal/config"
	"github.com/JakeFAU/sitecapture/internal/hash/sha256"
	"github.com/JakeFAU/sitecapture/internal/id/uuid"
	"github.com/JakeFAU/sitecapture/internal/metrics"
	"github.com/JakeFAU/sitecapture/internal/options"
)

// Capturer produces screenshots and logos.
type Capturer interface {
	Capture(ctx context.Context, opts options.Options) capture.Result
	Logo(ctx context.Context, opts options.Options) capture.Result
}

// LatestReader exposes the most recent capture to the debug endpoints.
type LatestReader interface {
	Latest() (capture.Snapshot, bool)
}

// ReadinessFunc reports whether the service can take captures.
type ReadinessFunc func(ctx context.Context) error

const (
	msgUnauthorized = "Unauthorized request"
	msgURLRequired  = "url is required"
	msgUnexpected   = "Unexpected error occurred"

	headerEngine = "X-Capture-Engine"
)

// Server wires HTTP handlers to the capture service.
type Server struct {
	router  chi.Router
	svc     Capturer
	gate    *auth.Gate
	latest  LatestReader
	ready   ReadinessFunc
	hasher  *sha256.Hasher
	cfg     config.Config
	logger  *zap.Logger
	results *template.Template
}

// NewServer constructs a Server with middleware and routes. latest and
// ready may be nil.
func NewServer(
	svc Capturer,
	gate *auth.Gate,
	latest LatestReader,
	ready ReadinessFunc,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:     svc,
		gate:    gate,
		latest:  latest,
		ready:   ready,
		hasher:  sha256.New(),
		cfg:     cfg,
		logger:  logger,
		results: resultsPage,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(timeoutMiddleware(cfg.RequestTimeout()))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/capture", s.handleCapture)
	r.Get("/logo", s.handleLogo)

	if cfg.Debug.ShowResults && latest != nil {
		r.Get("/results", s.handleResults)
		r.Get("/latest", s.handleLatest)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.parse(w, r)
	if !ok {
		return
	}
	s.writeResult(w, r, s.svc.Capture(r.Context(), opts))
}

func (s *Server) handleLogo(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.parse(w, r)
	if !ok {
		return
	}
	s.writeResult(w, r, s.svc.Logo(r.Context(), opts))
}

// parse applies the access gate and normalizes the query. It writes the
// rejection itself and reports false when the request must stop.
func (s *Server) parse(w http.ResponseWriter, r *http.Request) (options.Options, bool) {
	if !s.gate.AllowRequest(r) {
		s.logger.Info("request rejected by access gate",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
		)
		writeError(w, http.StatusForbidden, msgUnauthorized)
		return options.Options{}, false
	}
	opts := options.Normalize(options.FromQuery(r.URL.Query()), s.cfg.Capture.DefaultTimeoutSeconds)
	if strings.TrimSpace(opts.URL) == "" {
		writeError(w, http.StatusBadRequest, msgURLRequired)
		return options.Options{}, false
	}
	return opts, true
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res capture.Result) {
	if !res.OK() {
		writeError(w, res.StatusCode(), res.Message())
		return
	}
	data := res.Bytes()
	w.Header().Set("Content-Type", res.Format().ContentType())
	w.Header().Set("ETag", s.hasher.ETag(data))
	w.Header().Set(headerEngine, string(res.Engine()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write image failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
	}
}

var resultsPage = template.Must(template.New("results").Parse(`<!DOCTYPE html>
<html>
<head><title>Latest capture</title></head>
<body>
{{- if .Found}}
<p>Captured {{.URL}} at {{.CapturedAt.Format "2006-01-02T15:04:05Z07:00"}} ({{.Engine}})</p>
<img src="/latest" alt="latest capture">
{{- else}}
<p>No capture yet.</p>
{{- end}}
</body>
</html>
`))

type resultsView struct {
	Found      bool
	URL        string
	Engine     capture.Engine
	CapturedAt time.Time
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	snap, found := s.latest.Latest()
	view := resultsView{Found: found, URL: snap.URL, Engine: snap.Engine, CapturedAt: snap.CapturedAt}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.results.Execute(w, view); err != nil {
		s.logger.Error("render results page", zap.Error(err))
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	snap, found := s.latest.Latest()
	if !found || len(snap.Bytes) == 0 {
		writeError(w, http.StatusNotFound, "no capture yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(snap.Bytes); err != nil {
		s.logger.Warn("write latest failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
	}
}

type requestIDKey struct{}

var requestIDs = uuid.New()

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestIDs.MustID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

// recoverMiddleware turns panics into a generic 500. The detail is logged
// and never returned to the caller.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("panic recovered",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestID(r.Context())),
				zap.Stack("stack"),
			)
			writeError(w, http.StatusInternalServerError, msgUnexpected)
		}()
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"ETag", headerEngine, "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.TimeoutHandler(next, d, `{"message":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}
