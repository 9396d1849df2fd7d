package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/auto-dns/cf-app-keepalive/internal/config"
	"github.com/auto-dns/cf-app-keepalive/internal/domain"
	"github.com/auto-dns/cf-app-keepalive/internal/lockstore"
)

var testNow = time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)

type fakeApp struct {
	states    []domain.LifecycleState
	instances [][]domain.Instance
	processes []domain.Process
	startErr  error
}

// fakeControlPlane serves canned answers keyed by resource id. Sequences are
// consumed front to back and the last element repeats.
type fakeControlPlane struct {
	mu      sync.Mutex
	apps    map[string]*fakeApp
	authErr map[string]error
	names   map[string]string
	calls   int
	starts  map[string]int
	stops   map[string]int
	pings   []string
	pingErr error
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		apps:    map[string]*fakeApp{},
		authErr: map[string]error{},
		names:   map[string]string{},
		starts:  map[string]int{},
		stops:   map[string]int{},
	}
}

func (f *fakeControlPlane) add(guid string, app *fakeApp) {
	if app.processes == nil {
		app.processes = []domain.Process{{Type: "web", ID: guid + "-web"}}
	}
	f.apps[guid] = app
}

func next[T any](seq *[]T) T {
	var zero T
	if len(*seq) == 0 {
		return zero
	}
	v := (*seq)[0]
	if len(*seq) > 1 {
		*seq = (*seq)[1:]
	}
	return v
}

func (f *fakeControlPlane) app(guid string) (*fakeApp, error) {
	a, ok := f.apps[guid]
	if !ok {
		return nil, errors.New("no such app " + guid)
	}
	return a, nil
}

func (f *fakeControlPlane) ExchangeCredentials(_ context.Context, identityURL, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.authErr[identityURL]; err != nil {
		return "", domain.NewAuthError(identityURL, err)
	}
	return "token", nil
}

func (f *fakeControlPlane) LookupResourceByName(_ context.Context, _, _, _, _, appName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	guid, ok := f.names[appName]
	if !ok {
		return "", domain.NewLookupError("app", appName, nil)
	}
	return guid, nil
}

func (f *fakeControlPlane) GetLifecycleState(_ context.Context, _, _, guid string) (domain.LifecycleState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	a, err := f.app(guid)
	if err != nil {
		return "", err
	}
	return next(&a.states), nil
}

func (f *fakeControlPlane) ListProcesses(_ context.Context, _, _, guid string) ([]domain.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	a, err := f.app(guid)
	if err != nil {
		return nil, err
	}
	return a.processes, nil
}

func (f *fakeControlPlane) GetInstanceStates(_ context.Context, _, _, processID string) ([]domain.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, a := range f.apps {
		for _, p := range a.processes {
			if p.ID == processID {
				return next(&a.instances), nil
			}
		}
	}
	return nil, errors.New("no such process " + processID)
}

func (f *fakeControlPlane) TriggerStart(_ context.Context, _, _, guid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	a, err := f.app(guid)
	if err != nil {
		return err
	}
	if a.startErr != nil {
		return domain.NewActionError("start", guid, a.startErr)
	}
	f.starts[guid]++
	return nil
}

func (f *fakeControlPlane) TriggerStop(_ context.Context, _, _, guid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.stops[guid]++
	return nil
}

func (f *fakeControlPlane) Ping(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings = append(f.pings, url)
	return f.pingErr
}

func (f *fakeControlPlane) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func running() []domain.Instance {
	return []domain.Instance{{Index: 0, State: domain.InstanceRunning}}
}

func down() []domain.Instance {
	return []domain.Instance{{Index: 0, State: domain.InstanceDown}}
}

func testLockConfig() config.LockConfig {
	return config.LockConfig{Mode: config.LockModeDaily, TTL: 23 * time.Hour, ActivationLogCap: 7, ClaimTTL: 15 * time.Minute}
}

func testReconcileConfig() config.ReconcileConfig {
	return config.ReconcileConfig{
		StatePoll:    config.PollConfig{InitialDelay: 2 * time.Second, Multiplier: 1.6, MaxDelay: 15 * time.Second, Attempts: 8},
		InstancePoll: config.PollConfig{InitialDelay: 2 * time.Second, Multiplier: 1.6, MaxDelay: 15 * time.Second, Attempts: 10},
	}
}

type harness struct {
	cp     *fakeControlPlane
	store  *lockstore.MemoryStore
	guard  *Guard
	rec    *Reconciler
	sleeps []time.Duration
	mu     sync.Mutex
}

func newHarness() *harness {
	h := &harness{cp: newFakeControlPlane()}
	h.store = lockstore.NewMemoryStore().WithClock(func() time.Time { return testNow })
	h.guard = NewGuard(h.store, testLockConfig())
	h.rec = NewReconciler(zerolog.Nop(), h.cp, h.guard, testReconcileConfig()).
		WithClock(func() time.Time { return testNow }).
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return ctx.Err()
		})
	return h
}

func target(id, guid string) domain.Target {
	return domain.Target{
		ID:          id,
		Name:        id,
		APIURL:      "https://api.example.test",
		IdentityURL: "https://uaa-" + id + ".example.test",
		Username:    "user",
		Password:    "secret",
		ResourceID:  guid,
	}
}
