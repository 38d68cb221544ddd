package providersync

import (
	"sync"
	"testing"
	"time"

	"findash/internal/domain/account"
	"findash/internal/domain/connection"
	"findash/internal/infrastructure/cache"
	"findash/internal/infrastructure/dedup"
	"findash/internal/infrastructure/lock"
	"findash/internal/infrastructure/provider"
	"findash/internal/infrastructure/ratelimit"
	"findash/internal/testutils"
)

const testUserID int64 = 1

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type harness struct {
	store    *testutils.Store
	provider *testutils.MockProvider
	clock    *fakeClock
	dedup    *dedup.Group
	locks    *lock.InstitutionLocks
	random   float64
	svc      *Service
}

type harnessOption func(*Config, *Deps)

func withLimiter(l ratelimit.Limiter) harnessOption {
	return func(_ *Config, d *Deps) { d.Limiter = l }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(c *Config, _ *Deps) { fn(c) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		store:    testutils.NewStore(),
		provider: &testutils.MockProvider{},
		clock:    &fakeClock{now: time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)},
		dedup:    dedup.New(),
		locks:    lock.NewInstitutionLocks(),
		random:   1,
	}

	registry := provider.NewRegistry()
	registry.Register(connection.ProviderStandard, h.provider)

	cfg := DefaultConfig()
	deps := Deps{
		Connections:  h.store.Connections(),
		Accounts:     h.store.Accounts(),
		Balances:     h.store.Balances(),
		Transactions: h.store.TransactionRepo(),
		DownloadLogs: h.store.DownloadLogs(),
		Providers:    registry,
		Cache:        cache.New(cache.WithClock(h.clock.Now)),
		Dedup:        h.dedup,
		Locks:        h.locks,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	h.svc = NewService(deps, cfg,
		WithClock(h.clock.Now),
		WithRandom(func() float64 { return h.random }))
	return h
}

func (h *harness) addConnection(id, token string) *connection.Connection {
	return h.store.AddConnection(&connection.Connection{
		ID:            id,
		UserID:        testUserID,
		InstitutionID: "ins_1",
		AccessToken:   token,
		ProviderKind:  connection.ProviderStandard,
		Status:        connection.StatusActive,
		CreatedAt:     h.clock.Now().Add(-24 * time.Hour),
	})
}

func (h *harness) addAccount(id, connID, typ, subtype string) *account.Account {
	return h.store.AddAccount(&account.Account{
		ID:           id,
		ConnectionID: connID,
		ExternalID:   "ext-" + id,
		Name:         id,
		Type:         typ,
		Subtype:      subtype,
		CreatedAt:    h.clock.Now().Add(-24 * time.Hour),
	})
}

func skipReasons(skipped []SkippedAccount) map[string]string {
	out := make(map[string]string, len(skipped))
	for _, s := range skipped {
		out[s.AccountID] = s.Reason
	}
	return out
}

func errorMessages(errs []AccountError) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.AccountID] = e.Error
	}
	return out
}

func strPtr(s string) *string { return &s }

func accountsOf(accs ...*account.Account) []*account.Account { return accs }
