package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/auto-dns/cf-app-keepalive/internal/domain"
)

var ErrSupervisorClosed = errors.New("supervisor is shut down")

// TaskError reports a failed background run.
type TaskError struct {
	TargetID string
	Reason   string
	Err      error
}

func (e TaskError) Error() string {
	return e.TargetID + " (" + e.Reason + "): " + e.Err.Error()
}

func (e TaskError) Unwrap() error { return e.Err }

// Supervisor runs fire-and-forget reconciliations and reports their failures on Errors.
type Supervisor struct {
	logger zerolog.Logger
	runner runner
	ctx    context.Context
	cancel context.CancelFunc
	errs   chan TaskError

	mu     sync.Mutex
	wg     conc.WaitGroup
	closed bool
}

func NewSupervisor(ctx context.Context, logger zerolog.Logger, r runner, buffer int) *Supervisor {
	ctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		logger: logger.With().Str("component", "supervisor").Logger(),
		runner: r,
		ctx:    ctx,
		cancel: cancel,
		errs:   make(chan TaskError, buffer),
	}
}

// Submit starts a run in the background. It never blocks on the run itself.
func (s *Supervisor) Submit(target domain.Target, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSupervisorClosed
	}
	s.wg.Go(func() {
		var err error
		var pc panics.Catcher
		pc.Try(func() {
			err = s.runner.EnsureRunning(s.ctx, target, opts)
		})
		if rec := pc.Recovered(); rec != nil {
			err = rec.AsError()
		}
		if err == nil {
			return
		}
		s.report(TaskError{TargetID: target.ID, Reason: opts.Reason, Err: err})
	})
	return nil
}

func (s *Supervisor) report(te TaskError) {
	select {
	case s.errs <- te:
	default:
		s.logger.Error().Err(te.Err).Str("target", te.TargetID).Msg("Error channel full, dropping task error")
	}
}

// Errors is closed by Shutdown once every task has returned.
func (s *Supervisor) Errors() <-chan TaskError {
	return s.errs
}

// Shutdown cancels in-flight runs, waits for them and closes Errors.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	close(s.errs)
}
