package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_CollapsesConcurrentCalls(t *testing.T) {
	g := New()
	key := Key("conn-1", "balances")

	var executions int32
	release := make(chan struct{})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]any, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = g.Run(context.Background(), key, func(ctx context.Context) (any, error) {
				atomic.AddInt32(&executions, 1)
				<-release
				return "ok", nil
			})
		}(i)
	}

	require.Eventually(t, func() bool { return g.InFlight(key) == callers }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&executions))
	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, "ok", results[i])
	}
	assert.Equal(t, 0, g.InFlight(key))
}

func TestGroup_ReleasesKeyAfterFailure(t *testing.T) {
	g := New()
	key := Key("conn-1", "balances")
	boom := errors.New("boom")

	_, _, err := g.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	var executed bool
	res, shared, err := g.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		executed = true
		return 42, nil
	})
	require.NoError(t, err)
	assert.True(t, executed, "a new call must run after the previous one failed")
	assert.False(t, shared)
	assert.Equal(t, 42, res)
}

func TestGroup_DifferentKeysRunIndependently(t *testing.T) {
	g := New()
	var executions int32

	var wg sync.WaitGroup
	for _, key := range []string{"conn-1:balances", "conn-2:balances", "conn-1:transactions"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = g.Run(context.Background(), key, func(ctx context.Context) (any, error) {
				atomic.AddInt32(&executions, 1)
				return nil, nil
			})
		}(key)
	}
	wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&executions))
}

func TestGroup_WaiterCancellation(t *testing.T) {
	g := New()
	key := Key("conn-1", "balances")
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _, _ = g.Run(context.Background(), key, func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return g.InFlight(key) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := g.Run(ctx, key, func(ctx context.Context) (any, error) {
		t.Error("waiter must not execute its own function")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
