package core

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/auto-dns/cf-app-keepalive/internal/domain"
	"github.com/auto-dns/cf-app-keepalive/internal/metrics"
)

// Result is the outcome of one target's run within a fan-out.
type Result struct {
	Index    int
	TargetID string
	Err      error
	Duration time.Duration
}

// Scheduler fans a trigger out over the fleet, one isolated run per target.
type Scheduler struct {
	logger      zerolog.Logger
	runner      runner
	targets     targetLister
	window      Window
	maxParallel int
}

func NewScheduler(logger zerolog.Logger, r runner, targets targetLister, window Window, maxParallel int) *Scheduler {
	return &Scheduler{
		logger:      logger.With().Str("component", "scheduler").Logger(),
		runner:      r,
		targets:     targets,
		window:      window,
		maxParallel: maxParallel,
	}
}

// Tick reconciles the whole fleet when now falls inside the window.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []Result {
	if !s.window.Contains(now) {
		s.logger.Debug().Time("at", now.UTC()).Msgf("Outside window (%s), skipping", s.window)
		metrics.IncSchedulerTick("skip")
		return nil
	}
	metrics.IncSchedulerTick("hit")
	return s.RunAll(ctx, "cron")
}

// RunAll reconciles every target regardless of the window.
func (s *Scheduler) RunAll(ctx context.Context, reason string) []Result {
	targets := s.targets.Targets()
	s.logger.Info().Str("reason", reason).Msgf("Reconciling %d targets", len(targets))

	p := pool.NewWithResults[Result]()
	if s.maxParallel > 0 {
		p = p.WithMaxGoroutines(s.maxParallel)
	}
	for i, t := range targets {
		i, t := i, t
		p.Go(func() Result {
			return s.runOne(ctx, i, t, reason)
		})
	}
	results := p.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	s.logger.Info().Str("reason", reason).Msgf("Fleet pass done: %d targets, %d failed", len(results), failed)
	return results
}

func (s *Scheduler) runOne(ctx context.Context, index int, target domain.Target, reason string) Result {
	started := time.Now()
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = s.runner.EnsureRunning(ctx, target, Options{Reason: reason})
	})
	if rec := pc.Recovered(); rec != nil {
		err = rec.AsError()
	}
	res := Result{Index: index, TargetID: target.ID, Err: err, Duration: time.Since(started)}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRunInProgress):
		s.logger.Info().Str("target", target.ID).Str("reason", reason).Msg("Run already in progress elsewhere")
	default:
		s.logger.Error().Err(err).Str("target", target.ID).Str("reason", reason).Msg("Reconciliation failed")
	}
	return res
}
