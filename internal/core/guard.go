package core

import (
	"context"
	"fmt"
	"time"

	"github.com/auto-dns/cf-app-keepalive/internal/config"
	"github.com/auto-dns/cf-app-keepalive/internal/lockstore"
)

const lockSentinel = "1"

// Guard owns the idempotency lock, the run claim and the activation log of every target.
type Guard struct {
	store lockstore.Store
	cfg   config.LockConfig
}

func NewGuard(store lockstore.Store, cfg config.LockConfig) *Guard {
	return &Guard{store: store, cfg: cfg}
}

// LockKey is per UTC calendar day in daily mode, and per target in rolling mode
// where the ttl alone bounds the window.
func (g *Guard) LockKey(targetID string, now time.Time) string {
	if g.cfg.Mode == config.LockModeRolling {
		return fmt.Sprintf("lock/%s", targetID)
	}
	return fmt.Sprintf("lock/%s/%s", targetID, now.UTC().Format(time.DateOnly))
}

func activationKey(targetID string) string {
	return fmt.Sprintf("activations/%s", targetID)
}

func claimKey(targetID string) string {
	return fmt.Sprintf("claim/%s", targetID)
}

// Locked reports whether a lock record exists for targetID in the window containing now.
func (g *Guard) Locked(ctx context.Context, targetID string, now time.Time) (bool, error) {
	_, ok, err := g.store.Get(ctx, g.LockKey(targetID, now))
	return ok, err
}

// Lock writes the lock record for the window containing now, expiring after the configured ttl.
func (g *Guard) Lock(ctx context.Context, targetID string, now time.Time) error {
	return g.store.Put(ctx, g.LockKey(targetID, now), lockSentinel, g.cfg.TTL)
}

// Unlock removes the current lock and returns the key it removed.
func (g *Guard) Unlock(ctx context.Context, targetID string, now time.Time) (string, error) {
	key := g.LockKey(targetID, now)
	return key, g.store.Delete(ctx, key)
}

// Claim marks a run for targetID as in flight. It fails when another run holds the claim.
func (g *Guard) Claim(ctx context.Context, targetID, owner string) (bool, error) {
	return g.store.PutIfAbsent(ctx, claimKey(targetID), owner, g.cfg.ClaimTTL)
}

// Release drops the run claim taken by Claim.
func (g *Guard) Release(ctx context.Context, targetID string) error {
	return g.store.Delete(ctx, claimKey(targetID))
}

// RecordActivation prepends at to the activation log and trims it to the configured cap.
func (g *Guard) RecordActivation(ctx context.Context, targetID string, at time.Time) error {
	key := activationKey(targetID)
	existing, _, err := g.store.GetList(ctx, key)
	if err != nil {
		return err
	}
	limit := g.cfg.ActivationLogCap
	entries := make([]string, 0, limit)
	entries = append(entries, at.UTC().Format(time.RFC3339Nano))
	for _, e := range existing {
		if len(entries) >= limit {
			break
		}
		entries = append(entries, e)
	}
	return g.store.PutList(ctx, key, entries, 0)
}

// Activations returns up to limit activation timestamps, most recent first.
// A limit <= 0 returns everything stored.
func (g *Guard) Activations(ctx context.Context, targetID string, limit int) ([]time.Time, error) {
	raw, _, err := g.store.GetList(ctx, activationKey(targetID))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("activation log of %s holds %q: %w", targetID, s, err)
		}
		out = append(out, ts)
	}
	return out, nil
}
