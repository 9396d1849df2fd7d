package core

import (
	"context"
	"fmt"
	"time"

	"github.com/auto-dns/cf-app-keepalive/internal/domain"
)

// Status is a point-in-time view of one target.
type Status struct {
	TargetID   string                `json:"target"`
	ResourceID string                `json:"guid"`
	State      domain.LifecycleState `json:"state"`
	Process    *domain.Process       `json:"process,omitempty"`
	Instances  []domain.Instance     `json:"instances"`
	Locked     bool                  `json:"locked"`
}

func (r *Reconciler) Inspect(ctx context.Context, target domain.Target) (*Status, error) {
	token, err := r.cp.ExchangeCredentials(ctx, target.IdentityURL, target.Username, target.Password)
	if err != nil {
		return nil, err
	}
	resourceID, err := r.resolveResource(ctx, target, token)
	if err != nil {
		return nil, err
	}
	state, err := r.cp.GetLifecycleState(ctx, target.APIURL, token, resourceID)
	if err != nil {
		return nil, fmt.Errorf("read lifecycle state of %s: %w", resourceID, err)
	}
	status := &Status{TargetID: target.ID, ResourceID: resourceID, State: state, Instances: []domain.Instance{}}

	processes, err := r.cp.ListProcesses(ctx, target.APIURL, token, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list processes of %s: %w", resourceID, err)
	}
	if p, ok := domain.PrimaryProcess(processes); ok {
		status.Process = &p
		instances, err := r.cp.GetInstanceStates(ctx, target.APIURL, token, p.ID)
		if err != nil {
			return nil, fmt.Errorf("read instances of process %s: %w", p.ID, err)
		}
		status.Instances = instances
	}

	locked, err := r.guard.Locked(ctx, target.ID, r.now())
	if err != nil {
		r.logger.Warn().Err(err).Str("target", target.ID).Msg("Could not read lock record")
	}
	status.Locked = locked
	return status, nil
}

func (r *Reconciler) Stop(ctx context.Context, target domain.Target) error {
	token, err := r.cp.ExchangeCredentials(ctx, target.IdentityURL, target.Username, target.Password)
	if err != nil {
		return err
	}
	resourceID, err := r.resolveResource(ctx, target, token)
	if err != nil {
		return err
	}
	if err := r.cp.TriggerStop(ctx, target.APIURL, token, resourceID); err != nil {
		return err
	}
	r.logger.Info().Str("target", target.ID).Str("guid", resourceID).Msg("Stop requested")
	return nil
}

// Unlock deletes the current lock record so the next tick reconciles again.
func (r *Reconciler) Unlock(ctx context.Context, target domain.Target) (string, error) {
	key, err := r.guard.Unlock(ctx, target.ID, r.now())
	if err != nil {
		return "", err
	}
	r.logger.Info().Str("target", target.ID).Str("key", key).Msg("Lock removed")
	return key, nil
}

func (r *Reconciler) Activations(ctx context.Context, target domain.Target, limit int) ([]time.Time, error) {
	return r.guard.Activations(ctx, target.ID, limit)
}

// Diagnosis is the result of a credential check against a target's identity provider.
type Diagnosis struct {
	TargetID string `json:"target"`
	TokenLen int    `json:"token_len"`
	API      string `json:"api"`
}

// Diagnose exchanges the target's credentials and reports what came back, without touching the app.
func (r *Reconciler) Diagnose(ctx context.Context, target domain.Target) (*Diagnosis, error) {
	token, err := r.cp.ExchangeCredentials(ctx, target.IdentityURL, target.Username, target.Password)
	if err != nil {
		return nil, err
	}
	return &Diagnosis{TargetID: target.ID, TokenLen: len(token), API: target.APIURL}, nil
}
