package dedup

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

var (
	dedupMeter  = otel.Meter("findash.dedup")
	calls, _    = dedupMeter.Int64Counter("dedup.calls", metric.WithDescription("Deduplicated calls by outcome"))
	inFlight, _ = dedupMeter.Int64UpDownCounter("dedup.in_flight", metric.WithDescription("Callers currently waiting on a keyed call"))
)

// Group collapses concurrent calls sharing a key into a single execution.
// The key is released as soon as the execution finishes, successfully or not.
type Group struct {
	sf singleflight.Group

	mu      sync.Mutex
	waiting map[string]int
}

// New creates an empty Group
func New() *Group {
	return &Group{waiting: make(map[string]int)}
}

// Key builds the conventional "<scope>:<operation>" key.
func Key(scopeID, operation string) string {
	return scopeID + ":" + operation
}

// Run executes fn once per key across concurrent callers. Every caller gets
// the same result; shared is true when the result was delivered to more than
// one caller. The execution itself is detached from the first caller's
// cancellation so waiters are not failed by someone else's timeout; each
// caller still stops waiting when its own ctx is done.
func (g *Group) Run(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (result any, shared bool, err error) {
	g.enter(key)
	defer g.leave(key)

	execCtx := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(execCtx)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		outcome := "executed"
		if res.Shared {
			outcome = "shared"
		}
		calls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		return res.Val, res.Shared, res.Err
	}
}

// InFlight returns how many callers are currently inside Run for key.
func (g *Group) InFlight(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting[key]
}

func (g *Group) enter(key string) {
	g.mu.Lock()
	g.waiting[key]++
	g.mu.Unlock()
	inFlight.Add(context.Background(), 1)
}

func (g *Group) leave(key string) {
	g.mu.Lock()
	if g.waiting[key] <= 1 {
		delete(g.waiting, key)
	} else {
		g.waiting[key]--
	}
	g.mu.Unlock()
	inFlight.Add(context.Background(), -1)
}
