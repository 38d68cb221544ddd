package providersync

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"findash/internal/domain/account"
	"findash/internal/domain/balance"
	"findash/internal/domain/connection"
	"findash/internal/domain/downloadlog"
	"findash/internal/domain/transaction"
	"findash/internal/infrastructure/cache"
	"findash/internal/infrastructure/dedup"
	"findash/internal/infrastructure/lock"
	"findash/internal/infrastructure/provider"
	"findash/internal/infrastructure/ratelimit"
)

const backupTimeout = 10 * time.Minute

var (
	syncTracer     = otel.Tracer("findash.sync")
	syncMeter      = otel.Meter("findash.sync")
	accountRuns, _ = syncMeter.Int64Counter("sync.account_outcomes",
		metric.WithDescription("Per-account refresh and sync outcomes"))
)

// BackupTrigger is invoked after each refresh run. It decides on its own
// whether a backup is due.
type BackupTrigger interface {
	MaybeRun(ctx context.Context) error
}

// Config tunes refresh and sync behavior
type Config struct {
	TTL                        cache.TTLPolicy
	AutoRefreshThreshold       time.Duration
	AutoSyncThreshold          time.Duration
	FullResyncThreshold        time.Duration
	TransactionSyncProbability float64
	InvestmentWindowMonths     int
	InvestmentPageSize         int
	TransactionPageSize        int
	ProviderTimeout            time.Duration
	Concurrency                int
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TTL:                        cache.DefaultTTLPolicy(),
		AutoRefreshThreshold:       12 * time.Hour,
		AutoSyncThreshold:          6 * time.Hour,
		FullResyncThreshold:        30 * 24 * time.Hour,
		TransactionSyncProbability: 0.2,
		InvestmentWindowMonths:     24,
		InvestmentPageSize:         500,
		TransactionPageSize:        500,
		ProviderTimeout:            30 * time.Second,
		Concurrency:                4,
	}
}

// Deps are the collaborators of the sync service
type Deps struct {
	Connections  connection.Repository
	Accounts     account.Repository
	Balances     balance.Repository
	Transactions transaction.Repository
	DownloadLogs downloadlog.Repository
	Providers    *provider.Registry
	Cache        *cache.TieredCache
	Dedup        *dedup.Group
	Limiter      ratelimit.Limiter
	Locks        *lock.InstitutionLocks
	ConnLocks    *lock.ConnectionLocks
	Backup       BackupTrigger
	Logger       *zap.Logger
}

// Service orchestrates balance refresh and transaction sync
type Service struct {
	connections  connection.Repository
	accounts     account.Repository
	balances     balance.Repository
	transactions transaction.Repository
	downloadLogs downloadlog.Repository
	providers    *provider.Registry
	cache        *cache.TieredCache
	dedup        *dedup.Group
	limiter      ratelimit.Limiter
	locks        *lock.InstitutionLocks
	connLocks    *lock.ConnectionLocks
	backup       BackupTrigger
	logger       *zap.Logger
	cfg          Config

	now    func() time.Time
	random func() float64

	background sync.WaitGroup
}

// Option customizes a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom overrides the source used to sample opportunistic transaction syncs
func WithRandom(random func() float64) Option {
	return func(s *Service) { s.random = random }
}

// NewService creates a new sync service
func NewService(deps Deps, cfg Config, opts ...Option) *Service {
	defaults := DefaultConfig()
	if cfg.InvestmentPageSize <= 0 {
		cfg.InvestmentPageSize = defaults.InvestmentPageSize
	}
	if cfg.TransactionPageSize <= 0 {
		cfg.TransactionPageSize = defaults.TransactionPageSize
	}
	if cfg.InvestmentWindowMonths <= 0 {
		cfg.InvestmentWindowMonths = defaults.InvestmentWindowMonths
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaults.ProviderTimeout
	}

	s := &Service{
		connections:  deps.Connections,
		accounts:     deps.Accounts,
		balances:     deps.Balances,
		transactions: deps.Transactions,
		downloadLogs: deps.DownloadLogs,
		providers:    deps.Providers,
		cache:        deps.Cache,
		dedup:        deps.Dedup,
		limiter:      deps.Limiter,
		locks:        deps.Locks,
		connLocks:    deps.ConnLocks,
		backup:       deps.Backup,
		logger:       deps.Logger,
		cfg:          cfg,
		now:          time.Now,
		random:       rand.Float64,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cache == nil {
		s.cache = cache.New()
	}
	if s.dedup == nil {
		s.dedup = dedup.New()
	}
	if s.locks == nil {
		s.locks = lock.NewInstitutionLocks()
	}
	if s.connLocks == nil {
		s.connLocks = lock.NewConnectionLocks()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// connectionGroup is the set of requested accounts under one eligible connection
type connectionGroup struct {
	conn     *connection.Connection
	client   provider.ClientInterface
	accounts []*account.Account
}

// partition groups the requested accounts by owning connection and filters
// out everything that must not reach the provider. Credential and identity
// problems are reported here, before any upstream call.
func (s *Service) partition(ctx context.Context, userID int64, accounts []*account.Account, out *outcome) ([]*connectionGroup, error) {
	if accounts == nil {
		var err error
		accounts, err = s.accounts.ListByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
	}

	conns, err := s.connections.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	byID := make(map[string]*connection.Connection, len(conns))
	for _, c := range conns {
		byID[c.ID] = c
	}

	var groups []*connectionGroup
	index := make(map[string]*connectionGroup)

	for _, acc := range accounts {
		conn, ok := byID[acc.ConnectionID]
		if !ok {
			out.fail(acc.ID, ErrConnectionNotFound)
			continue
		}
		switch {
		case conn.IsManual():
			out.skip(acc.ID, SkipManual)
			continue
		case !conn.IsActive():
			out.skip(acc.ID, SkipReconnectRequired)
			continue
		case acc.Archived:
			out.skip(acc.ID, SkipArchived)
			continue
		case conn.AccessToken == "":
			out.fail(acc.ID, ErrMissingCredential)
			continue
		case acc.ExternalID == "":
			out.fail(acc.ID, ErrMissingExternalID)
			continue
		}

		client, ok := s.providers.For(conn.ProviderKind)
		if !ok {
			out.skip(acc.ID, SkipProviderMissing)
			continue
		}

		g, ok := index[conn.ID]
		if !ok {
			g = &connectionGroup{conn: conn, client: client}
			index[conn.ID] = g
			groups = append(groups, g)
		}
		g.accounts = append(g.accounts, acc)
	}

	return groups, nil
}

// reload re-reads the connection and its accounts so a merge that finished
// meanwhile is observed. It returns the live accounts of the connection
// usable for upstream calls.
func (s *Service) reload(ctx context.Context, g *connectionGroup) (*connection.Connection, []*account.Account, error) {
	conn, err := s.connections.GetByID(ctx, g.conn.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reload connection: %w", err)
	}

	all, err := s.accounts.ListByConnectionID(ctx, conn.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reload accounts: %w", err)
	}

	live := make([]*account.Account, 0, len(all))
	for _, acc := range all {
		if acc.Archived || acc.ExternalID == "" {
			continue
		}
		live = append(live, acc)
	}
	return conn, live, nil
}

// precheck reloads the group and narrows it to the requested accounts that
// still exist. Accounts that cannot proceed are recorded in out; ok is false
// when nothing is left to do.
func (s *Service) precheck(ctx context.Context, g *connectionGroup, out *outcome) (*connection.Connection, []*account.Account, []*account.Account, bool) {
	conn, live, err := s.reload(ctx, g)
	if err != nil {
		for _, acc := range g.accounts {
			out.fail(acc.ID, err)
		}
		return nil, nil, nil, false
	}
	if !conn.IsActive() {
		for _, acc := range g.accounts {
			out.skip(acc.ID, SkipReconnectRequired)
		}
		return nil, nil, nil, false
	}

	liveIDs := make(map[string]struct{}, len(live))
	for _, acc := range live {
		liveIDs[acc.ID] = struct{}{}
	}
	requested := make([]*account.Account, 0, len(g.accounts))
	for _, acc := range g.accounts {
		if _, ok := liveIDs[acc.ID]; !ok {
			out.skip(acc.ID, SkipMerged)
			continue
		}
		requested = append(requested, acc)
	}
	return conn, live, requested, len(requested) > 0
}

// leased runs fn holding the connection's mutex and the institution read
// lease, against state reloaded after both were taken. Both are held for
// exactly as long as fn runs.
func (s *Service) leased(ctx context.Context, g *connectionGroup, fn func(conn *connection.Connection, live []*account.Account) (any, error)) (any, error) {
	unlockConn := s.connLocks.Lock(g.conn.ID)
	defer unlockConn()
	unlock := s.locks.Read(g.conn.UserID, g.conn.InstitutionID)
	defer unlock()

	conn, live, err := s.reload(ctx, g)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive() {
		return nil, errConnectionInactive
	}
	return fn(conn, live)
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.ProviderTimeout)
}

// disconnect marks the connection disconnected after the provider rejected its credential.
func (s *Service) disconnect(ctx context.Context, conn *connection.Connection, cause error) error {
	s.logger.Warn("provider rejected credential, disconnecting",
		zap.Int64("user_id", conn.UserID),
		zap.String("connection_id", conn.ID),
		zap.Error(cause))

	if err := s.connections.MarkDisconnected(ctx, conn.ID); err != nil {
		s.logger.Error("failed to mark connection disconnected",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}
	return fmt.Errorf("%w: %v", ErrReconnectRequired, cause)
}
