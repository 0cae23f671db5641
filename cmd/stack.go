package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/capture"
	"github.com/JakeFAU/sitecapture/internal/clock/system"
	"github.com/JakeFAU/sitecapture/internal/config"
	"github.com/JakeFAU/sitecapture/internal/dispatcher"
	"github.com/JakeFAU/sitecapture/internal/engine/headless"
	"github.com/JakeFAU/sitecapture/internal/engine/rodengine"
	"github.com/JakeFAU/sitecapture/internal/id/uuid"
	"github.com/JakeFAU/sitecapture/internal/metrics"
	"github.com/JakeFAU/sitecapture/internal/policy/ratelimit"
	"github.com/JakeFAU/sitecapture/internal/queue"
	queueMemory "github.com/JakeFAU/sitecapture/internal/queue/memory"
	"github.com/JakeFAU/sitecapture/internal/storage/memory"
)

// stack is the capture pipeline shared by serve and capture.
type stack struct {
	service    *capture.Service
	dispatcher *dispatcher.Dispatcher
	latest     *memory.LatestStore
	primary    *rodengine.Engine
	cfg        config.Config
	logger     *zap.Logger
}

func newStack(cfg config.Config, logger *zap.Logger) *stack {
	metrics.Init()

	stats := queue.NewStats(metrics.SetQueueDepth)
	q := queueMemory.NewQueue(cfg.Capture.QueueDepth)
	dispatch := dispatcher.New(q, cfg.Capture.Concurrency, stats, uuid.New(), logger.Named("dispatcher"))

	primary := rodengine.New(rodengine.Config{ExecPath: cfg.Browser.ExecPath}, logger.Named("rod"))
	launcher := headless.NewLauncher(headless.Config{ExecPath: cfg.Browser.ExecPath}, logger.Named("chromedp"))
	limiter := ratelimit.New(ratelimit.Config{
		HostQPS:   cfg.Capture.HostQPS,
		HostBurst: cfg.Capture.HostBurst,
	})
	latest := memory.NewLatestStore()

	svc := capture.NewService(
		primary,
		launcher,
		dispatch,
		limiter,
		latest,
		system.New(),
		capture.Config{
			NavigationTimeout:    cfg.NavigationTimeout(),
			WaitBeforeScreenshot: cfg.WaitBeforeScreenshot(),
		},
		logger.Named("capture"),
	)

	return &stack{
		service:    svc,
		dispatcher: dispatch,
		latest:     latest,
		primary:    primary,
		cfg:        cfg,
		logger:     logger,
	}
}

// ready reports whether a Chrome binary is reachable.
func (s *stack) ready(context.Context) error {
	return rodengine.Available(s.cfg.Browser.ExecPath)
}

func (s *stack) close() {
	s.dispatcher.Close()
	if err := s.primary.Close(); err != nil {
		s.logger.Warn("close primary browser", zap.Error(err))
	}
}
