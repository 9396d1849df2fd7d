package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Tick is one firing of the recurring trigger.
type Tick struct {
	At time.Time
}

// CronGenerator emits a Tick on every match of a standard five-field cron spec, evaluated in UTC.
type CronGenerator struct {
	logger zerolog.Logger
	spec   string
	now    func() time.Time
}

func NewCronGenerator(spec string, logger zerolog.Logger) *CronGenerator {
	return &CronGenerator{
		logger: logger.With().Str("component", "trigger").Logger(),
		spec:   spec,
		now:    time.Now,
	}
}

// Subscribe starts the cron scheduler and returns a read-only tick channel.
// The channel is closed once ctx is done and no cron job is still running.
// A tick that finds the previous one unconsumed is dropped.
func (g *CronGenerator) Subscribe(ctx context.Context) (<-chan Tick, error) {
	out := make(chan Tick, 1)

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(g.spec, func() {
		tick := Tick{At: g.now().UTC()}
		select {
		case out <- tick:
			g.logger.Debug().Time("at", tick.At).Msg("Tick emitted")
		default:
			g.logger.Warn().Time("at", tick.At).Msg("Previous tick still pending, dropping this one")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", g.spec, err)
	}
	c.Start()
	g.logger.Info().Str("cron", g.spec).Msg("Trigger started")

	go func() {
		<-ctx.Done()
		stopped := c.Stop()
		<-stopped.Done()
		close(out)
		g.logger.Info().Msg("Trigger stopped")
	}()

	return out, nil
}
