// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultEvictionSpec runs preview eviction once a minute.
const DefaultEvictionSpec = "@every 1m"

// PreviewEvictor drops previews whose TTL has passed.
type PreviewEvictor interface {
	EvictExpired(now time.Time) int
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	evictor PreviewEvictor
	spec    string
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler creates a new job scheduler.
func NewScheduler(evictor PreviewEvictor, spec string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = DefaultEvictionSpec
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:    c,
		evictor: evictor,
		spec:    spec,
		logger:  logger,
		now:     time.Now,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.evictPreviews); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("eviction_spec", s.spec),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow evicts expired previews immediately and reports how many went.
func (s *Scheduler) RunNow() int {
	return s.evict()
}

func (s *Scheduler) evictPreviews() {
	s.evict()
}

func (s *Scheduler) evict() int {
	evicted := s.evictor.EvictExpired(s.now())
	s.logger.Debug("preview eviction completed", slog.Int("evicted", evicted))
	return evicted
}
