package duplicates

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"findash/internal/domain/account"
	"findash/internal/domain/balance"
	"findash/internal/domain/connection"
	"findash/internal/infrastructure/lock"
	"findash/internal/infrastructure/provider"
)

var (
	dupTracer      = otel.Tracer("findash.duplicates")
	dupMeter       = otel.Meter("findash.duplicates")
	mergedAccts, _ = dupMeter.Int64Counter("duplicates.accounts_removed",
		metric.WithDescription("Redundant accounts folded into a keeper"))
	droppedConns, _ = dupMeter.Int64Counter("duplicates.connections_disconnected",
		metric.WithDescription("Connections disconnected after a merge"))
)

// Deps are the collaborators of the duplicate service
type Deps struct {
	Connections connection.Repository
	Accounts    account.Repository
	Balances    balance.Repository
	Providers   *provider.Registry
	Locks       *lock.InstitutionLocks
	Logger      *zap.Logger
}

// Service detects and merges duplicate accounts
type Service struct {
	connections connection.Repository
	accounts    account.Repository
	balances    balance.Repository
	providers   *provider.Registry
	locks       *lock.InstitutionLocks
	logger      *zap.Logger
}

// NewService creates a new duplicate service
func NewService(deps Deps) *Service {
	s := &Service{
		connections: deps.Connections,
		accounts:    deps.Accounts,
		balances:    deps.Balances,
		providers:   deps.Providers,
		locks:       deps.Locks,
		logger:      deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.locks == nil {
		s.locks = lock.NewInstitutionLocks()
	}
	return s
}

// Detect groups the institution's accounts by identity key. It returns nil
// when no key is shared by more than one account.
func (s *Service) Detect(ctx context.Context, userID int64, institutionID string) (*Detection, error) {
	if institutionID == "" {
		return nil, ErrInvalidInstitution
	}

	accounts, err := s.accounts.ListByInstitution(ctx, userID, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list institution accounts: %w", err)
	}

	byKey := make(map[account.IdentityKey][]*account.Account)
	var order []account.IdentityKey
	for _, acc := range accounts {
		key := acc.IdentityKey()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], acc)
	}

	det := &Detection{UserID: userID, InstitutionID: institutionID}
	for _, key := range order {
		members := byKey[key]
		if len(members) < 2 {
			continue
		}
		det.Groups = append(det.Groups, &Group{Key: key, Label: label(key), Accounts: members})
	}
	if len(det.Groups) == 0 {
		return nil, nil
	}
	return det, nil
}

// Merge folds every group of the detection into its keeper and retires
// redundant connections. It holds the institution's exclusive lease, so no
// refresh of the institution runs while rows are moved and deleted.
func (s *Service) Merge(ctx context.Context, det *Detection) (*MergeResult, error) {
	if det == nil {
		res := &MergeResult{}
		res.summarize()
		return res, nil
	}

	unlock := s.locks.Write(det.UserID, det.InstitutionID)
	defer unlock()

	return s.merge(ctx, det)
}

// ResolveInstitution detects and merges under a single lease.
func (s *Service) ResolveInstitution(ctx context.Context, userID int64, institutionID string) (*MergeResult, error) {
	unlock := s.locks.Write(userID, institutionID)
	defer unlock()

	det, err := s.Detect(ctx, userID, institutionID)
	if err != nil {
		return nil, err
	}
	if det == nil {
		res := &MergeResult{}
		res.summarize()
		return res, nil
	}
	return s.merge(ctx, det)
}

// ResolveUser runs ResolveInstitution for every institution the user has an
// active connection to. Failures of one institution do not stop the others.
func (s *Service) ResolveUser(ctx context.Context, userID int64) (*MergeResult, error) {
	conns, err := s.connections.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	seen := make(map[string]struct{})
	total := &MergeResult{}
	var errs error
	for _, c := range conns {
		if !c.IsActive() || c.IsManual() {
			continue
		}
		if _, ok := seen[c.InstitutionID]; ok {
			continue
		}
		seen[c.InstitutionID] = struct{}{}

		res, err := s.ResolveInstitution(ctx, userID, c.InstitutionID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("institution %s: %w", c.InstitutionID, err))
			continue
		}
		total.Merged += res.Merged
		total.Kept = append(total.Kept, res.Kept...)
		total.Removed = append(total.Removed, res.Removed...)
		total.DisconnectedConnections = append(total.DisconnectedConnections, res.DisconnectedConnections...)
		total.Errors = append(total.Errors, res.Errors...)
	}
	for _, err := range multierr.Errors(errs) {
		total.Errors = append(total.Errors, err.Error())
	}
	total.summarize()
	return total, nil
}

func (s *Service) merge(ctx context.Context, det *Detection) (*MergeResult, error) {
	ctx, span := dupTracer.Start(ctx, "duplicates.Merge")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", det.UserID),
		attribute.String("institution.id", det.InstitutionID),
		attribute.Int("groups", len(det.Groups)),
	)

	logger := s.logger.With(
		zap.Int64("user_id", det.UserID),
		zap.String("institution_id", det.InstitutionID))

	result := &MergeResult{}
	var errs error

	for _, group := range det.Groups {
		if len(group.Accounts) < 2 {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", group.Label, ErrEmptyGroup))
			continue
		}

		keeper, redundant, err := s.rank(ctx, group.Accounts)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		removed := 0
		for _, acc := range redundant {
			if err := s.fold(ctx, keeper, acc); err != nil {
				logger.Warn("failed to merge duplicate account",
					zap.String("keeper_id", keeper.ID),
					zap.String("account_id", acc.ID),
					zap.Error(err))
				errs = multierr.Append(errs, err)
				continue
			}
			result.Removed = append(result.Removed, acc.ID)
			removed++
		}
		if removed > 0 {
			result.Kept = append(result.Kept, keeper.ID)
			result.Merged++
		}
		logger.Info("merged duplicate group",
			zap.String("group", group.Label),
			zap.String("keeper_id", keeper.ID),
			zap.Int("removed", removed))
	}

	if len(result.Removed) > 0 {
		disconnected, err := s.cleanupConnections(ctx, det.UserID, det.InstitutionID)
		result.DisconnectedConnections = disconnected
		errs = multierr.Append(errs, err)
	}

	for _, err := range multierr.Errors(errs) {
		result.Errors = append(result.Errors, err.Error())
	}
	mergedAccts.Add(ctx, int64(len(result.Removed)))
	droppedConns.Add(ctx, int64(len(result.DisconnectedConnections)))

	result.summarize()
	return result, nil
}

type ranked struct {
	acc    *account.Account
	latest time.Time
}

// rank orders a group by most recent balance snapshot. Accounts without a
// snapshot sort last; ties go to the oldest account, then the lowest ID.
func (s *Service) rank(ctx context.Context, members []*account.Account) (*account.Account, []*account.Account, error) {
	ids := make([]string, len(members))
	for i, acc := range members {
		ids[i] = acc.ID
	}
	latest, err := s.balances.LatestCapturedAt(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load latest balances: %w", err)
	}

	list := make([]ranked, len(members))
	for i, acc := range members {
		list[i] = ranked{acc: acc, latest: latest[acc.ID]}
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.latest.Equal(b.latest) {
			return a.latest.After(b.latest)
		}
		if !a.acc.CreatedAt.Equal(b.acc.CreatedAt) {
			return a.acc.CreatedAt.Before(b.acc.CreatedAt)
		}
		return a.acc.ID < b.acc.ID
	})

	redundant := make([]*account.Account, 0, len(list)-1)
	for _, r := range list[1:] {
		redundant = append(redundant, r.acc)
	}
	return list[0].acc, redundant, nil
}

// fold transfers the redundant account's history to the keeper and deletes
// it, atomically. A failed fold leaves both accounts untouched.
func (s *Service) fold(ctx context.Context, keeper, redundant *account.Account) error {
	res, err := s.accounts.Fold(ctx, redundant.ID, keeper.ID)
	if err != nil {
		return fmt.Errorf("failed to fold account %s into %s: %w", redundant.ID, keeper.ID, err)
	}
	s.logger.Debug("folded duplicate account",
		zap.String("keeper_id", keeper.ID),
		zap.String("account_id", redundant.ID),
		zap.Int64("snapshots", res.Snapshots),
		zap.Int64("transactions", res.Transactions),
		zap.Int64("memberships", res.Memberships))
	return nil
}

type connCount struct {
	conn  *connection.Connection
	count int
}

// cleanupConnections leaves at most one active connection for the
// institution: empty ones are disconnected, and among the rest the one with
// the most accounts survives.
func (s *Service) cleanupConnections(ctx context.Context, userID int64, institutionID string) ([]string, error) {
	conns, err := s.connections.ListActiveByInstitution(ctx, userID, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", err)
	}

	var errs error
	var populated []connCount
	var retire []*connection.Connection

	for _, c := range conns {
		if c.IsManual() {
			continue
		}
		n, err := s.accounts.CountByConnectionID(ctx, c.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to count accounts of connection %s: %w", c.ID, err))
			continue
		}
		if n == 0 {
			retire = append(retire, c)
			continue
		}
		populated = append(populated, connCount{conn: c, count: n})
	}

	if len(populated) > 1 {
		sort.SliceStable(populated, func(i, j int) bool {
			a, b := populated[i], populated[j]
			if a.count != b.count {
				return a.count > b.count
			}
			if !a.conn.CreatedAt.Equal(b.conn.CreatedAt) {
				return a.conn.CreatedAt.Before(b.conn.CreatedAt)
			}
			return a.conn.ID < b.conn.ID
		})
		for _, cc := range populated[1:] {
			retire = append(retire, cc.conn)
		}
	}

	var disconnected []string
	for _, c := range retire {
		if err := s.disconnect(ctx, c); err != nil {
			errs = multierr.Append(errs, err)
		}
		disconnected = append(disconnected, c.ID)
	}
	return disconnected, errs
}

// disconnect revokes the upstream credential and marks the connection
// disconnected. Revocation is best-effort; the local status always changes.
func (s *Service) disconnect(ctx context.Context, c *connection.Connection) error {
	var errs error

	if client, ok := s.providers.For(c.ProviderKind); ok && c.AccessToken != "" {
		if err := client.RemoveItem(ctx, c.AccessToken); err != nil {
			s.logger.Warn("failed to revoke redundant connection",
				zap.String("connection_id", c.ID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("failed to revoke connection %s: %w", c.ID, err))
		}
	}

	if err := s.connections.MarkDisconnected(ctx, c.ID); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to mark connection %s disconnected: %w", c.ID, err))
	}
	return errs
}
