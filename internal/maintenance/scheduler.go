// Package maintenance runs periodic housekeeping: dropping finished live
// logs and pruning old task history.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// LogCleaner drops finished live logs. *livelog.Manager satisfies it.
type LogCleaner interface {
	CleanOldLogs(maxAge time.Duration) int
}

// HistoryPruner deletes old task history. *db.Store satisfies it.
type HistoryPruner interface {
	PruneTaskHistory(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures the housekeeping run. A zero retention disables that
// part of it.
type Options struct {
	Schedule         string
	LiveLogRetention time.Duration
	HistoryRetention time.Duration
}

type Scheduler struct {
	cron    *cron.Cron
	logs    LogCleaner
	history HistoryPruner
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

func NewScheduler(logs LogCleaner, history HistoryPruner, opts Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logs:    logs,
		history: history,
		opts:    opts,
		logger:  logger.With("component", "maintenance"),
		now:     time.Now,
	}
}

// Start registers the housekeeping job. An empty schedule leaves the
// scheduler idle.
func (s *Scheduler) Start() error {
	if s.opts.Schedule == "" {
		s.logger.Info("maintenance disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.opts.Schedule, s.RunNow); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.opts.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "schedule", s.opts.Schedule)
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow runs one housekeeping pass on the calling goroutine.
func (s *Scheduler) RunNow() {
	if s.logs != nil && s.opts.LiveLogRetention > 0 {
		if n := s.logs.CleanOldLogs(s.opts.LiveLogRetention); n > 0 {
			s.logger.Debug("removed live logs", "count", n)
		}
	}
	if s.history != nil && s.opts.HistoryRetention > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := s.history.PruneTaskHistory(ctx, s.now().Add(-s.opts.HistoryRetention))
		if err != nil {
			s.logger.Error("prune task history failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("pruned task history", "count", n)
		}
	}
}
