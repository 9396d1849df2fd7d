package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/auto-dns/cf-app-keepalive/internal/backoff"
	"github.com/auto-dns/cf-app-keepalive/internal/config"
	"github.com/auto-dns/cf-app-keepalive/internal/domain"
	"github.com/auto-dns/cf-app-keepalive/internal/metrics"
)

// Options tune a single EnsureRunning call.
type Options struct {
	// Force ignores an existing lock record.
	Force bool
	// Reason is logged with every line of the run (cron, manual, cli).
	Reason string
}

// Reconciler drives one target to the running state and records the success.
type Reconciler struct {
	logger       zerolog.Logger
	cp           controlPlane
	guard        *Guard
	statePoll    backoff.Policy
	instancePoll backoff.Policy
	sleep        backoff.Sleeper
	now          func() time.Time
	owner        string
}

func NewReconciler(logger zerolog.Logger, cp controlPlane, guard *Guard, cfg config.ReconcileConfig) *Reconciler {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return &Reconciler{
		logger:       logger.With().Str("component", "reconciler").Logger(),
		cp:           cp,
		guard:        guard,
		statePoll:    cfg.StatePoll.Policy(),
		instancePoll: cfg.InstancePoll.Policy(),
		sleep:        backoff.ContextSleep,
		now:          time.Now,
		owner:        fmt.Sprintf("%s/%d", host, os.Getpid()),
	}
}

// WithSleeper replaces the backoff sleep, mostly for tests.
func (r *Reconciler) WithSleeper(s backoff.Sleeper) *Reconciler {
	r.sleep = s
	return r
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// EnsureRunning brings target to at least one running instance, unless a lock
// record says it already succeeded in the current window.
func (r *Reconciler) EnsureRunning(ctx context.Context, target domain.Target, opts Options) error {
	start := r.now()
	log := r.logger.With().Str("target", target.ID).Str("reason", opts.Reason).Logger()
	outcome := metrics.OutcomeFailed
	defer func() {
		metrics.ObserveReconcile(target.ID, outcome, r.now().Sub(start))
	}()

	if !opts.Force {
		locked, err := r.guard.Locked(ctx, target.ID, start)
		if err != nil {
			log.Warn().Err(err).Msg("Could not read lock record, proceeding without it")
		} else if locked {
			log.Debug().Msg("Already activated in this window, skipping")
			outcome = metrics.OutcomeLocked
			return nil
		}
	}

	claimed, err := r.guard.Claim(ctx, target.ID, r.owner)
	if err != nil {
		return fmt.Errorf("claim run for %s: %w", target.ID, err)
	}
	if !claimed {
		outcome = metrics.OutcomeBusy
		return domain.ErrRunInProgress
	}
	defer func() {
		if relErr := r.guard.Release(context.WithoutCancel(ctx), target.ID); relErr != nil {
			log.Warn().Err(relErr).Msg("Could not release run claim")
		}
	}()

	// A run that finished between the first check and the claim already wrote the lock.
	if !opts.Force {
		locked, err := r.guard.Locked(ctx, target.ID, start)
		if err != nil {
			log.Warn().Err(err).Msg("Could not re-read lock record, proceeding without it")
		} else if locked {
			log.Debug().Msg("Activated by a concurrent run, skipping")
			outcome = metrics.OutcomeLocked
			return nil
		}
	}

	token, err := r.cp.ExchangeCredentials(ctx, target.IdentityURL, target.Username, target.Password)
	if err != nil {
		return err
	}

	resourceID, err := r.resolveResource(ctx, target, token)
	if err != nil {
		return err
	}
	log = log.With().Str("guid", resourceID).Logger()

	processes, err := r.cp.ListProcesses(ctx, target.APIURL, token, resourceID)
	if err != nil {
		return fmt.Errorf("list processes of %s: %w", resourceID, err)
	}
	process, ok := domain.PrimaryProcess(processes)
	if !ok {
		return domain.NewLookupError("process", resourceID, nil)
	}

	instances, err := r.cp.GetInstanceStates(ctx, target.APIURL, token, process.ID)
	if err != nil {
		return fmt.Errorf("read instances of process %s: %w", process.ID, err)
	}

	if domain.AnyRunning(instances) {
		log.Info().Msgf("Already running (%s)", domain.RenderInstances(instances))
		outcome = metrics.OutcomeHealthy
	} else {
		if err := r.start(ctx, log, target, token, resourceID); err != nil {
			return err
		}
		if err := r.awaitStarted(ctx, target, token, resourceID); err != nil {
			return err
		}
		if err := r.awaitInstances(ctx, target, token, process.ID); err != nil {
			return err
		}
		outcome = metrics.OutcomeStarted
		r.ping(ctx, log, target)
	}

	now := r.now()
	if err := r.guard.Lock(ctx, target.ID, start); err != nil {
		outcome = metrics.OutcomeFailed
		return fmt.Errorf("write lock record for %s: %w", target.ID, err)
	}
	if err := r.guard.RecordActivation(ctx, target.ID, now); err != nil {
		log.Warn().Err(err).Msg("Could not append to activation log")
	}
	log.Info().Dur("took", now.Sub(start)).Msg("Target is running, lock recorded")
	return nil
}

func (r *Reconciler) resolveResource(ctx context.Context, target domain.Target, token string) (string, error) {
	if target.HasResourceID() {
		return target.ResourceID, nil
	}
	return r.cp.LookupResourceByName(ctx, target.APIURL, token, target.OrgName, target.SpaceName, target.AppName)
}

func (r *Reconciler) start(ctx context.Context, log zerolog.Logger, target domain.Target, token, resourceID string) error {
	state, err := r.cp.GetLifecycleState(ctx, target.APIURL, token, resourceID)
	if err != nil {
		return fmt.Errorf("read lifecycle state of %s: %w", resourceID, err)
	}
	if state.IsStarted() {
		log.Info().Msg("Lifecycle is STARTED but no instance is running, waiting for instances")
		return nil
	}
	log.Info().Msgf("Lifecycle is %s, requesting start", state)
	if err := r.cp.TriggerStart(ctx, target.APIURL, token, resourceID); err != nil {
		return err
	}
	metrics.IncStartAction(target.ID)
	return nil
}

func (r *Reconciler) awaitStarted(ctx context.Context, target domain.Target, token, resourceID string) error {
	_, err := backoff.Poll(ctx, r.statePoll, r.sleep,
		func(ctx context.Context) (domain.LifecycleState, error) {
			return r.cp.GetLifecycleState(ctx, target.APIURL, token, resourceID)
		},
		domain.LifecycleState.IsStarted,
	)
	var exhausted *backoff.ExhaustedError
	if errors.As(err, &exhausted) {
		return domain.NewConvergenceTimeoutError("lifecycle STARTED", exhausted.Attempts, fmt.Sprint(exhausted.Last), err)
	}
	return err
}

func (r *Reconciler) awaitInstances(ctx context.Context, target domain.Target, token, processID string) error {
	_, err := backoff.Poll(ctx, r.instancePoll, r.sleep,
		func(ctx context.Context) ([]domain.Instance, error) {
			return r.cp.GetInstanceStates(ctx, target.APIURL, token, processID)
		},
		domain.AnyRunning,
	)
	var exhausted *backoff.ExhaustedError
	if errors.As(err, &exhausted) {
		last, _ := exhausted.Last.([]domain.Instance)
		return domain.NewConvergenceTimeoutError("instance RUNNING", exhausted.Attempts, domain.RenderInstances(last), err)
	}
	return err
}

// ping is best effort; the target counts as running either way.
func (r *Reconciler) ping(ctx context.Context, log zerolog.Logger, target domain.Target) {
	if target.PingURL == "" {
		return
	}
	if err := r.cp.Ping(ctx, target.PingURL); err != nil {
		log.Warn().Err(err).Str("url", target.PingURL).Msg("Ping after start failed")
		return
	}
	log.Debug().Str("url", target.PingURL).Msg("Ping after start succeeded")
}
