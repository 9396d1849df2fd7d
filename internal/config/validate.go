package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/auto-dns/cf-app-keepalive/internal/backoff"
	"github.com/auto-dns/cf-app-keepalive/internal/domain"
)

// Policy converts the poll settings into a backoff policy.
func (pc PollConfig) Policy() backoff.Policy {
	return backoff.Policy{
		Initial:    pc.InitialDelay,
		Multiplier: pc.Multiplier,
		Max:        pc.MaxDelay,
		Attempts:   pc.Attempts,
	}
}

// Validate checks every non-target section and reports all violations at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case StoreBackendEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("store.etcd.endpoints must not be empty"))
		}
	case StoreBackendBolt:
		if c.Store.Bolt.Path == "" {
			errs = append(errs, errors.New("store.bolt.path must be set"))
		}
	case StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of etcd, bolt, memory", c.Store.Backend))
	}

	switch c.Lock.Mode {
	case LockModeDaily, LockModeRolling:
	default:
		errs = append(errs, fmt.Errorf("lock.mode %q is not one of daily, rolling", c.Lock.Mode))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be > 0"))
	}
	if c.Lock.ActivationLogCap <= 0 {
		errs = append(errs, errors.New("lock.activation_log_cap must be > 0"))
	}
	if c.Lock.ClaimTTL <= 0 {
		errs = append(errs, errors.New("lock.claim_ttl must be > 0"))
	}

	if err := c.Reconcile.StatePoll.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reconcile.state_poll: %w", err))
	}
	if err := c.Reconcile.InstancePoll.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reconcile.instance_poll: %w", err))
	}

	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		errs = append(errs, fmt.Errorf("schedule.cron: %w", err))
	}
	if len(c.Schedule.Hours) == 0 {
		errs = append(errs, errors.New("schedule.hours must not be empty"))
	}
	for _, h := range c.Schedule.Hours {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Errorf("schedule.hours: %d is not a valid hour", h))
		}
	}
	if c.Schedule.MinuteEvery < 1 || c.Schedule.MinuteEvery > 60 {
		errs = append(errs, fmt.Errorf("schedule.minute_every must be in 1..60, got %d", c.Schedule.MinuteEvery))
	}
	if c.Schedule.MaxParallel < 0 {
		errs = append(errs, errors.New("schedule.max_parallel must not be negative"))
	}

	return errors.Join(errs...)
}

// ParseApps decodes the APPS JSON array.
func ParseApps(raw string) ([]TargetConfig, error) {
	var apps []TargetConfig
	if err := json.Unmarshal([]byte(raw), &apps); err != nil {
		return nil, fmt.Errorf("APPS is not a valid JSON array of targets: %w", err)
	}
	return apps, nil
}

// ResolveTargets merges the configured target list with APPS and validates every entry.
func (c *Config) ResolveTargets() ([]domain.Target, error) {
	raw := append([]TargetConfig(nil), c.Targets...)
	if strings.TrimSpace(c.Apps) != "" {
		apps, err := ParseApps(c.Apps)
		if err != nil {
			return nil, err
		}
		raw = append(raw, apps...)
	}
	if len(raw) == 0 {
		return nil, errors.New("no targets configured")
	}

	var errs []error
	seen := make(map[string]int, len(raw))
	targets := make([]domain.Target, 0, len(raw))
	for i, tc := range raw {
		t := tc.toTarget(i)
		if prev, dup := seen[t.ID]; dup {
			errs = append(errs, fmt.Errorf("target %d: id %q already used by target %d", i, t.ID, prev))
		}
		seen[t.ID] = i
		if err := validateTarget(t); err != nil {
			errs = append(errs, fmt.Errorf("target %d (%s): %w", i, t.ID, err))
		}
		targets = append(targets, t)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return targets, nil
}

func (tc TargetConfig) toTarget(index int) domain.Target {
	id := strings.TrimSpace(tc.ID)
	if id == "" {
		id = fmt.Sprintf("app-%d", index)
	}
	appName := strings.TrimSpace(tc.AppName)
	if appName == "" {
		appName = strings.TrimSpace(tc.Name)
	}
	return domain.Target{
		ID:          id,
		Name:        strings.TrimSpace(tc.Name),
		APIURL:      strings.TrimRight(strings.TrimSpace(tc.APIURL), "/"),
		IdentityURL: strings.TrimRight(strings.TrimSpace(tc.IdentityURL), "/"),
		Username:    tc.Username,
		Password:    tc.Password,
		ResourceID:  strings.TrimSpace(tc.ResourceID),
		OrgName:     strings.TrimSpace(tc.OrgName),
		SpaceName:   strings.TrimSpace(tc.SpaceName),
		AppName:     appName,
		PingURL:     strings.TrimSpace(tc.PingURL),
	}
}

func validateTarget(t domain.Target) error {
	var errs []error
	if err := validateURL("api_url", t.APIURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("identity_url", t.IdentityURL); err != nil {
		errs = append(errs, err)
	}
	if t.PingURL != "" {
		if err := validateURL("ping_url", t.PingURL); err != nil {
			errs = append(errs, err)
		}
	}
	if t.Username == "" || t.Password == "" {
		errs = append(errs, errors.New("username and password are required"))
	}
	if !t.HasResourceID() && (t.OrgName == "" || t.SpaceName == "" || t.AppName == "") {
		errs = append(errs, errors.New("either resource_id or org_name, space_name and app_name are required"))
	}
	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host is required", field)
	}
	return nil
}
