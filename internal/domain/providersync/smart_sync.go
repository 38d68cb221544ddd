package providersync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"findash/internal/domain/account"
	"findash/internal/domain/connection"
	"findash/internal/infrastructure/cache"
	"findash/internal/infrastructure/dedup"
	"findash/internal/infrastructure/provider"
)

// connectionSync is the shared outcome of syncing one connection
type connectionSync struct {
	live    map[string]bool
	synced  map[string]int
	failed  map[string]error
	skipped map[string]string
}

// SmartSync brings transactions up to date for the requested accounts.
// Connections run concurrently; accounts within a connection run one after
// another. Stale connections resync, and accounts not synced for longer
// than the full-resync threshold discard their cursor.
func (s *Service) SmartSync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "providersync.SmartSync")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Bool("sync.force", req.Force),
	)

	var out outcome
	groups, err := s.partition(ctx, req.UserID, req.Accounts, &out)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, group := range groups {
		g.Go(func() error {
			synced, total, local := s.syncConnection(gctx, group, req.Force)

			mu.Lock()
			result.Synced = append(result.Synced, synced...)
			result.TotalTransactions += total
			out.skipped = append(out.skipped, local.skipped...)
			out.errors = append(out.errors, local.errors...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.Skipped = out.skipped
	result.Errors = out.errors

	s.logger.Info("transaction sync complete",
		zap.Int64("user_id", req.UserID),
		zap.Int("synced", len(result.Synced)),
		zap.Int("transactions", result.TotalTransactions),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// syncConnection syncs one connection. Executions for the same connection
// are serialized by the connection lease; forced and unforced callers use
// separate keys so a forced caller never receives an unforced result.
func (s *Service) syncConnection(ctx context.Context, group *connectionGroup, force bool) ([]string, int, outcome) {
	var out outcome

	conn, _, requested, ok := s.precheck(ctx, group, &out)
	if !ok {
		return nil, 0, out
	}

	op := string(cache.OpTransactions)
	if force {
		op += ":force"
	}
	res, _, err := s.dedup.Run(ctx, dedup.Key(conn.ID, op), func(ctx context.Context) (any, error) {
		return s.leased(ctx, group, func(conn *connection.Connection, live []*account.Account) (any, error) {
			return s.syncAccounts(ctx, conn, group.client, live, force), nil
		})
	})
	if errors.Is(err, errConnectionInactive) {
		for _, acc := range requested {
			out.skip(acc.ID, SkipReconnectRequired)
		}
		return nil, 0, out
	}
	if err != nil {
		for _, acc := range requested {
			out.fail(acc.ID, err)
		}
		return nil, 0, out
	}

	cs := res.(*connectionSync)
	var synced []string
	total := 0
	for _, acc := range requested {
		if n, ok := cs.synced[acc.ID]; ok {
			synced = append(synced, acc.ID)
			total += n
			continue
		}
		if !cs.live[acc.ID] {
			out.skip(acc.ID, SkipMerged)
			continue
		}
		if reason, ok := cs.skipped[acc.ID]; ok {
			out.skip(acc.ID, reason)
			continue
		}
		if err := cs.failed[acc.ID]; err != nil {
			out.fail(acc.ID, err)
			continue
		}
		out.skip(acc.ID, SkipUpToDate)
	}
	s.countOutcome(ctx, "sync", "synced", len(synced))
	s.countOutcome(ctx, "sync", "error", len(out.errors))
	return synced, total, out
}

// syncAccounts decides whether the connection is due and syncs its accounts
// sequentially. A credential rejection stops the remaining accounts.
func (s *Service) syncAccounts(ctx context.Context, conn *connection.Connection, client provider.ClientInterface, live []*account.Account, force bool) *connectionSync {
	cs := &connectionSync{
		live:    make(map[string]bool, len(live)),
		synced:  make(map[string]int),
		failed:  make(map[string]error),
		skipped: make(map[string]string),
	}
	for _, acc := range live {
		cs.live[acc.ID] = true
	}

	key := cache.Key{ScopeID: conn.ID, Op: cache.OpTransactions}
	now := s.now()

	due := force || !s.cache.IsValid(key, s.cfg.TTL.Effective(live))
	if !due {
		for _, acc := range live {
			if s.syncAge(acc, now) > s.cfg.AutoSyncThreshold {
				due = true
				break
			}
		}
	}
	if !due {
		for _, acc := range live {
			cs.skipped[acc.ID] = SkipUpToDate
		}
		return cs
	}

	var reconnect error
	for _, acc := range live {
		if reconnect != nil {
			cs.failed[acc.ID] = reconnect
			continue
		}

		var n int
		var err error
		if acc.IsInvestment() {
			n, err = s.syncInvestments(ctx, conn, client, acc)
		} else {
			full := force || (acc.LastSyncedAt != nil && s.syncAge(acc, now) > s.cfg.FullResyncThreshold)
			n, err = s.syncCursor(ctx, conn, client, acc, full)
		}

		if err != nil {
			cs.failed[acc.ID] = err
			if isReconnect(err) {
				reconnect = err
			}
			continue
		}
		cs.synced[acc.ID] = n
	}

	if reconnect == nil {
		s.cache.Set(key, now)
	}
	return cs
}

// syncAge is the time since the account last synced; never-synced accounts are infinitely stale.
func (s *Service) syncAge(acc *account.Account, now time.Time) time.Duration {
	if acc.LastSyncedAt == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(*acc.LastSyncedAt)
}
