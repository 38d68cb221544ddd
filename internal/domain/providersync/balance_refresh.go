package providersync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"findash/internal/domain/account"
	"findash/internal/domain/balance"
	"findash/internal/domain/connection"
	"findash/internal/infrastructure/cache"
	"findash/internal/infrastructure/dedup"
	"findash/internal/infrastructure/provider"
)

// connectionRefresh is the shared outcome of one upstream balance fetch.
// Every account of the connection is covered, so concurrent callers asking
// for different subsets can all read their accounts from it.
type connectionRefresh struct {
	live      map[string]bool
	refreshed map[string]bool
	failed    map[string]error
}

// Refresh fetches balances and liabilities for the requested accounts and
// appends snapshots. Work is split per connection; a failing connection
// turns into per-account errors and never aborts the run.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	ctx, span := syncTracer.Start(ctx, "providersync.Refresh")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Bool("refresh.force", req.Force),
		attribute.Bool("refresh.user_initiated", req.UserInitiated),
	)

	result := &RefreshResult{}

	if req.UserInitiated && s.limiter != nil && !s.limiter.TryConsume(ctx, req.UserID) {
		s.logger.Info("manual refresh throttled", zap.Int64("user_id", req.UserID))
		result.RateLimited = true
		return result, nil
	}

	var out outcome
	groups, err := s.partition(ctx, req.UserID, req.Accounts, &out)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var eligible []*account.Account

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, group := range groups {
		eligible = append(eligible, group.accounts...)
		g.Go(func() error {
			refreshed, local := s.refreshConnection(gctx, group, req.Force)

			mu.Lock()
			result.Refreshed = append(result.Refreshed, refreshed...)
			out.skipped = append(out.skipped, local.skipped...)
			out.errors = append(out.errors, local.errors...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.Skipped = out.skipped
	result.Errors = out.errors

	s.logger.Info("refresh complete",
		zap.Int64("user_id", req.UserID),
		zap.Int("refreshed", len(result.Refreshed)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("errors", len(result.Errors)))

	if len(eligible) > 0 && (req.IncludeTransactions || s.random() < s.cfg.TransactionSyncProbability) {
		syncResult, err := s.SmartSync(ctx, SyncRequest{UserID: req.UserID, Accounts: eligible})
		if err != nil {
			s.logger.Error("transaction sync after refresh failed",
				zap.Int64("user_id", req.UserID), zap.Error(err))
		} else {
			result.Transactions = syncResult
		}
	}

	s.triggerBackup(ctx)

	return result, nil
}

// triggerBackup hands the backup check to a background goroutine so an
// export never holds up or gets cancelled with the caller's request.
func (s *Service) triggerBackup(ctx context.Context) {
	if s.backup == nil {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backupTimeout)
		defer cancel()
		if err := s.backup.MaybeRun(ctx); err != nil {
			s.logger.Warn("backup trigger failed", zap.Error(err))
		}
	}()
}

// Wait blocks until background work started by Refresh has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// refreshConnection handles one connection. The upstream fetch and its writes
// run inside the deduplicated execution under the connection lease, so they
// stay serialized against merges even when this caller stops waiting.
func (s *Service) refreshConnection(ctx context.Context, group *connectionGroup, force bool) ([]string, outcome) {
	var out outcome
	logger := s.logger.With(
		zap.Int64("user_id", group.conn.UserID),
		zap.String("connection_id", group.conn.ID))

	conn, live, requested, ok := s.precheck(ctx, group, &out)
	if !ok {
		return nil, out
	}

	needed, err := s.needsRefresh(ctx, conn, live, force)
	if err != nil {
		for _, acc := range requested {
			out.fail(acc.ID, err)
		}
		return nil, out
	}
	if !needed {
		for _, acc := range requested {
			out.skip(acc.ID, SkipCacheValid)
		}
		return nil, out
	}

	res, shared, err := s.dedup.Run(ctx, dedup.Key(conn.ID, string(cache.OpBalances)), func(ctx context.Context) (any, error) {
		return s.leased(ctx, group, func(conn *connection.Connection, live []*account.Account) (any, error) {
			return s.fetchAndStore(ctx, conn, group.client, live, force)
		})
	})
	if errors.Is(err, errConnectionInactive) {
		for _, acc := range requested {
			out.skip(acc.ID, SkipReconnectRequired)
		}
		return nil, out
	}
	if err != nil {
		logger.Warn("balance refresh failed", zap.Error(err))
		for _, acc := range requested {
			out.fail(acc.ID, err)
		}
		s.countOutcome(ctx, "refresh", "error", len(requested))
		return nil, out
	}
	if shared {
		logger.Debug("balance refresh shared with concurrent caller")
	}

	cr := res.(*connectionRefresh)
	var refreshed []string
	failed := 0
	for _, acc := range requested {
		switch {
		case cr.refreshed[acc.ID]:
			refreshed = append(refreshed, acc.ID)
		case !cr.live[acc.ID]:
			out.skip(acc.ID, SkipMerged)
		case cr.failed[acc.ID] != nil:
			out.fail(acc.ID, cr.failed[acc.ID])
			failed++
		default:
			out.fail(acc.ID, ErrMissingBalance)
			failed++
		}
	}
	s.countOutcome(ctx, "refresh", "refreshed", len(refreshed))
	s.countOutcome(ctx, "refresh", "error", failed)
	return refreshed, out
}

// needsRefresh applies the cache and staleness policy for a connection.
func (s *Service) needsRefresh(ctx context.Context, conn *connection.Connection, live []*account.Account, force bool) (bool, error) {
	if force {
		return true, nil
	}

	ttl := s.cfg.TTL.Effective(live)
	if !s.cache.IsValid(cache.Key{ScopeID: conn.ID, Op: cache.OpBalances}, ttl) {
		return true, nil
	}

	ids := make([]string, len(live))
	for i, acc := range live {
		ids[i] = acc.ID
	}
	latest, err := s.balances.LatestCapturedAt(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("failed to check balance age: %w", err)
	}

	now := s.now()
	for _, acc := range live {
		at, ok := latest[acc.ID]
		if !ok || now.Sub(at) > s.cfg.AutoRefreshThreshold {
			return true, nil
		}
	}
	return false, nil
}

// fetchAndStore performs the upstream calls for one connection and persists
// snapshots and liability fields.
func (s *Service) fetchAndStore(ctx context.Context, conn *connection.Connection, client provider.ClientInterface, live []*account.Account, force bool) (*connectionRefresh, error) {
	logger := s.logger.With(zap.String("connection_id", conn.ID))

	externalIDs := make([]string, len(live))
	for i, acc := range live {
		externalIDs[i] = acc.ExternalID
	}

	callCtx, cancel := s.callContext(ctx)
	resp, err := client.GetBalances(callCtx, conn.AccessToken, externalIDs)
	cancel()
	if err != nil {
		if provider.IsCredentialInvalid(err) {
			return nil, s.disconnect(ctx, conn, err)
		}
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}

	liabilities := s.liabilities(ctx, conn, client, live, force)

	byExternalID := make(map[string]provider.Account, len(resp.Accounts))
	for _, rec := range resp.Accounts {
		if err := provider.ValidateRecord(rec); err != nil {
			logger.Warn("skipping invalid balance record", zap.Error(err))
			continue
		}
		byExternalID[rec.AccountID] = rec
	}

	cr := &connectionRefresh{
		live:      make(map[string]bool, len(live)),
		refreshed: make(map[string]bool, len(live)),
		failed:    make(map[string]error),
	}
	for _, acc := range live {
		cr.live[acc.ID] = true
	}
	capturedAt := s.now().UTC()

	for _, acc := range live {
		rec, ok := byExternalID[acc.ExternalID]
		if !ok {
			cr.failed[acc.ID] = ErrMissingBalance
			continue
		}
		current, ok := rec.Balances.CurrentValue()
		if !ok {
			cr.failed[acc.ID] = ErrMissingBalance
			continue
		}

		snapshot := &balance.Snapshot{
			AccountID:  acc.ID,
			Current:    current,
			Available:  rec.Balances.AvailableValue(),
			Limit:      rec.Balances.LimitValue(),
			CapturedAt: capturedAt,
		}
		if err := s.balances.Append(ctx, snapshot); err != nil {
			cr.failed[acc.ID] = err
			continue
		}
		cr.refreshed[acc.ID] = true

		if summary, ok := liabilities[acc.ExternalID]; ok {
			update := account.LiabilityUpdate{
				LastStatementBalance: summary.LastStatementBalance,
				MinimumPaymentAmount: summary.MinimumPaymentAmount,
				NextPaymentDueDate:   summary.NextPaymentDueDate,
				NextMonthlyPayment:   summary.NextMonthlyPayment,
			}
			if !update.IsEmpty() {
				if err := s.accounts.UpdateLiabilities(ctx, acc.ID, update); err != nil {
					logger.Warn("failed to store liabilities", zap.String("account_id", acc.ID), zap.Error(err))
				}
			}
		}
	}

	s.cache.Set(cache.Key{ScopeID: conn.ID, Op: cache.OpBalances}, capturedAt)
	return cr, nil
}

// liabilities returns liability summaries keyed by external account ID.
// Failures are logged and yield an empty map; balances never depend on them.
func (s *Service) liabilities(ctx context.Context, conn *connection.Connection, client provider.ClientInterface, live []*account.Account, force bool) map[string]provider.LiabilitySummary {
	var externalIDs []string
	for _, acc := range live {
		if acc.HasLiabilities() {
			externalIDs = append(externalIDs, acc.ExternalID)
		}
	}
	if len(externalIDs) == 0 {
		return nil
	}

	key := cache.Key{ScopeID: conn.ID, Op: cache.OpLiabilities}
	if !force {
		if cached, ok := s.cache.Get(key, s.cfg.TTL.Liabilities); ok {
			if summaries, ok := cached.(map[string]provider.LiabilitySummary); ok {
				return summaries
			}
		}
	}

	callCtx, cancel := s.callContext(ctx)
	resp, err := client.GetLiabilities(callCtx, conn.AccessToken, externalIDs)
	cancel()
	if err != nil {
		s.logger.Warn("liability fetch failed",
			zap.String("connection_id", conn.ID),
			zap.Bool("credential_invalid", provider.IsCredentialInvalid(err)),
			zap.Error(err))
		return nil
	}

	summaries := resp.ByAccount()
	s.cache.Set(key, summaries)
	return summaries
}

func (s *Service) countOutcome(ctx context.Context, op, result string, n int) {
	if n <= 0 {
		return
	}
	accountRuns.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", result),
	))
}

func isReconnect(err error) bool {
	return errors.Is(err, ErrReconnectRequired)
}
