package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findash/internal/domain/account"
)

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

func TestTieredCache_Validity(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	c := New(WithClock(clock.Now))
	key := Key{ScopeID: "conn-1", Op: OpBalances}

	assert.False(t, c.IsValid(key, time.Hour), "missing entry must be invalid")

	c.Set(key, "payload")
	assert.True(t, c.IsValid(key, time.Hour))

	clock.Advance(59 * time.Minute)
	payload, ok := c.Get(key, time.Hour)
	require.True(t, ok)
	assert.Equal(t, "payload", payload)

	clock.Advance(time.Minute)
	assert.False(t, c.IsValid(key, time.Hour), "entry at exactly ttl must be expired")
	assert.Equal(t, 0, c.Stats().Size, "expired entry should be evicted")
}

func TestTieredCache_OperationsAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(WithClock(clock.Now))

	c.Set(Key{ScopeID: "conn-1", Op: OpBalances}, nil)

	assert.True(t, c.IsValid(Key{ScopeID: "conn-1", Op: OpBalances}, time.Hour))
	assert.False(t, c.IsValid(Key{ScopeID: "conn-1", Op: OpLiabilities}, time.Hour))
	assert.False(t, c.IsValid(Key{ScopeID: "conn-2", Op: OpBalances}, time.Hour))
}

func TestTieredCache_Invalidate(t *testing.T) {
	c := New()
	key := Key{ScopeID: "acc-1", Op: OpTransactions}
	c.Set(key, 1)
	c.Invalidate(key)
	assert.False(t, c.IsValid(key, time.Hour))
}

func TestTieredCache_Stats(t *testing.T) {
	c := New()
	key := Key{ScopeID: "conn-1", Op: OpBalances}

	c.IsValid(key, time.Hour)
	c.Set(key, nil)
	c.IsValid(key, time.Hour)
	c.IsValid(key, time.Hour)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.Size)
}

func TestTTLPolicy_Effective(t *testing.T) {
	policy := DefaultTTLPolicy()

	checking := &account.Account{Type: "depository", Subtype: "checking"}
	savings := &account.Account{Type: "depository", Subtype: "savings"}
	brokerage := &account.Account{Type: "investment", Subtype: "brokerage"}

	tests := []struct {
		name     string
		accounts []*account.Account
		want     time.Duration
	}{
		{"empty set", nil, policy.Low},
		{"single low", []*account.Account{brokerage}, policy.Low},
		{"single medium", []*account.Account{savings}, policy.Medium},
		{"minimum wins", []*account.Account{brokerage, savings, checking}, policy.High},
		{"medium beats low", []*account.Account{brokerage, savings}, policy.Medium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Effective(tt.accounts))
		})
	}
}

func TestTTLPolicy_ClassesExpireIndependently(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := New(WithClock(clock.Now))
	policy := DefaultTTLPolicy()

	checking := []*account.Account{{Type: "depository", Subtype: "checking"}}
	loan := []*account.Account{{Type: "loan", Subtype: "mortgage"}}

	highKey := Key{ScopeID: "conn-a", Op: OpBalances}
	lowKey := Key{ScopeID: "conn-b", Op: OpBalances}
	c.Set(highKey, nil)
	c.Set(lowKey, nil)

	require.NotEqual(t, policy.Effective(checking), policy.Effective(loan))

	clock.Advance(7 * time.Hour)
	assert.False(t, c.IsValid(highKey, policy.Effective(checking)))
	assert.True(t, c.IsValid(lowKey, policy.Effective(loan)))

	clock.Advance(18 * time.Hour)
	assert.False(t, c.IsValid(lowKey, policy.Effective(loan)))
}
