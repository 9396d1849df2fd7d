package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type ticker interface {
	Tick(ctx context.Context, now time.Time) []Result
}

// Engine feeds trigger ticks into the scheduler, one tick at a time.
type Engine struct {
	logger    zerolog.Logger
	source    tickSource
	scheduler ticker
	busy      atomic.Bool
	wg        sync.WaitGroup
}

func NewEngine(logger zerolog.Logger, source tickSource, scheduler ticker) *Engine {
	return &Engine{
		logger:    logger.With().Str("component", "engine").Logger(),
		source:    source,
		scheduler: scheduler,
	}
}

func (e *Engine) handleTick(ctx context.Context, at time.Time) {
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Warn().Time("at", at).Msg("Previous tick still running, dropping this one")
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.busy.Store(false)
		e.scheduler.Tick(ctx, at)
	}()
}

// Run blocks until ctx is cancelled or the tick source closes, then waits for the
// tick in flight.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Msg("Starting engine")

	tickCh, err := e.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to trigger: %w", err)
	}

	defer e.wg.Wait()
	for {
		select {
		case tick, ok := <-tickCh:
			if !ok {
				e.logger.Info().Msg("Trigger channel closed")
				return ctx.Err()
			}
			e.logger.Debug().Time("at", tick.At).Msg("Trigger tick")
			e.handleTick(ctx, tick.At)
		case <-ctx.Done():
			e.logger.Info().Msg("Engine shutting down")
			return ctx.Err()
		}
	}
}
