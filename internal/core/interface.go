package core

import (
	"context"

	"github.com/auto-dns/cf-app-keepalive/internal/domain"
	"github.com/auto-dns/cf-app-keepalive/internal/trigger"
)

type controlPlane interface {
	ExchangeCredentials(ctx context.Context, identityURL, username, password string) (string, error)
	LookupResourceByName(ctx context.Context, api, token, orgName, spaceName, appName string) (string, error)
	GetLifecycleState(ctx context.Context, api, token, resourceID string) (domain.LifecycleState, error)
	ListProcesses(ctx context.Context, api, token, resourceID string) ([]domain.Process, error)
	GetInstanceStates(ctx context.Context, api, token, processID string) ([]domain.Instance, error)
	TriggerStart(ctx context.Context, api, token, resourceID string) error
	TriggerStop(ctx context.Context, api, token, resourceID string) error
	Ping(ctx context.Context, url string) error
}

type runner interface {
	EnsureRunning(ctx context.Context, target domain.Target, opts Options) error
}

type targetLister interface {
	Targets() []domain.Target
}

type tickSource interface {
	Subscribe(ctx context.Context) (<-chan trigger.Tick, error)
}
