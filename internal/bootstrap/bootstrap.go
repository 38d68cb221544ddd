// Package bootstrap builds the object graph shared by the API server and
// the admin CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"findash/internal/domain/account"
	"findash/internal/domain/backup"
	"findash/internal/domain/connection"
	"findash/internal/domain/duplicates"
	"findash/internal/domain/providersync"
	"findash/internal/infrastructure/cache"
	"findash/internal/infrastructure/crypto"
	"findash/internal/infrastructure/dedup"
	"findash/internal/infrastructure/lock"
	"findash/internal/infrastructure/postgres"
	"findash/internal/infrastructure/provider"
	"findash/internal/infrastructure/ratelimit"
	"findash/internal/infrastructure/s3backup"
	"findash/internal/shared/config"
)

// Core holds the services and the resources they own.
type Core struct {
	DB          *postgres.DB
	Redis       *redis.Client
	Connections *postgres.ConnectionRepository
	Accounts    *account.Service
	Sync        *providersync.Service
	Duplicates  *duplicates.Service
	Backup      *backup.Service
	Cache       *cache.TieredCache
}

// New connects to the database and wires every service. Process-local
// state (cache, in-flight dedup, institution locks) is created once here.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Core, error) {
	db, err := postgres.New(cfg.Database.ConnectionString(), postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	core := &Core{DB: db}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	connectionRepo := postgres.NewConnectionRepository(db, encryptor)
	accountRepo := postgres.NewAccountRepository(db)
	balanceRepo := postgres.NewBalanceRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	downloadLogRepo := postgres.NewDownloadLogRepository(db)

	providers := NewProviderRegistry(cfg.Provider, logger)

	limiter, redisClient, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		core.Close()
		return nil, err
	}
	core.Redis = redisClient

	backupService, err := newBackup(ctx, cfg.Backup, connectionRepo, encryptor, logger)
	if err != nil {
		core.Close()
		return nil, err
	}

	tieredCache := cache.New()
	locks := lock.NewInstitutionLocks()

	syncService := providersync.NewService(providersync.Deps{
		Connections:  connectionRepo,
		Accounts:     accountRepo,
		Balances:     balanceRepo,
		Transactions: transactionRepo,
		DownloadLogs: downloadLogRepo,
		Providers:    providers,
		Cache:        tieredCache,
		Dedup:        dedup.New(),
		Limiter:      limiter,
		Locks:        locks,
		Backup:       backupService,
		Logger:       logger.Named("sync"),
	}, SyncConfig(cfg))

	duplicateService := duplicates.NewService(duplicates.Deps{
		Connections: connectionRepo,
		Accounts:    accountRepo,
		Balances:    balanceRepo,
		Providers:   providers,
		Locks:       locks,
		Logger:      logger.Named("duplicates"),
	})

	core.Connections = connectionRepo
	core.Accounts = account.NewService(accountRepo)
	core.Sync = syncService
	core.Duplicates = duplicateService
	core.Backup = backupService
	core.Cache = tieredCache
	return core, nil
}

// Close releases the database and Redis connections.
func (c *Core) Close() error {
	if c.Sync != nil {
		c.Sync.Wait()
	}

	var err error
	if c.Redis != nil {
		err = multierr.Append(err, c.Redis.Close())
	}
	if c.DB != nil {
		err = multierr.Append(err, c.DB.Close())
	}
	return err
}

// SyncConfig maps configuration onto sync thresholds.
func SyncConfig(cfg *config.Config) providersync.Config {
	return providersync.Config{
		TTL: cache.TTLPolicy{
			High:        cfg.Sync.TTLHigh,
			Medium:      cfg.Sync.TTLMedium,
			Low:         cfg.Sync.TTLLow,
			Liabilities: cfg.Sync.TTLLiabilities,
		},
		AutoRefreshThreshold:       cfg.Sync.AutoRefreshThreshold,
		AutoSyncThreshold:          cfg.Sync.AutoSyncThreshold,
		FullResyncThreshold:        cfg.Sync.FullResyncThreshold,
		TransactionSyncProbability: cfg.Sync.TransactionSyncProbability,
		InvestmentWindowMonths:     cfg.Sync.InvestmentWindowMonths,
		InvestmentPageSize:         cfg.Sync.InvestmentPageSize,
		TransactionPageSize:        cfg.Sync.TransactionPageSize,
		ProviderTimeout:            cfg.Provider.Timeout,
		Concurrency:                cfg.Sync.Concurrency,
	}
}

// NewProviderRegistry registers a client per configured provider kind.
// Connections of an unregistered kind are skipped by the sync service.
func NewProviderRegistry(cfg config.ProviderConfig, logger *zap.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	endpoints := map[connection.ProviderKind]config.ProviderEndpoint{
		connection.ProviderStandard:  cfg.Standard,
		connection.ProviderAlternate: cfg.Alternate,
	}
	for kind, ep := range endpoints {
		if !ep.Enabled() {
			logger.Info("provider not configured", zap.String("kind", string(kind)))
			continue
		}
		registry.Register(kind, provider.NewClient(provider.Config{
			BaseURL:  ep.BaseURL,
			ClientID: ep.ClientID,
			Secret:   ep.Secret,
			Timeout:  cfg.Timeout,
		}))
	}
	return registry
}

// newLimiter prefers Redis so the manual refresh quota holds across
// instances, and falls back to process memory when no URL is set.
func newLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, *redis.Client, error) {
	limitCfg := ratelimit.Config{
		Limit:  cfg.RateLimit.ManualRefreshLimit,
		Window: cfg.RateLimit.ManualRefreshWindow,
	}
	if cfg.Redis.URL == "" {
		return ratelimit.NewMemoryLimiter(limitCfg, nil), nil, nil
	}

	client, err := ratelimit.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis rate limiter")
	return ratelimit.NewRedisLimiter(client, limitCfg, logger.Named("ratelimit")), client, nil
}

func newBackup(ctx context.Context, cfg config.BackupConfig, connections connection.Repository, sealer backup.Sealer, logger *zap.Logger) (*backup.Service, error) {
	var uploader backup.Uploader
	if cfg.Bucket != "" {
		u, err := s3backup.New(ctx, s3backup.Config{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create backup uploader: %w", err)
		}
		uploader = u
	}

	return backup.NewService(connections, uploader, sealer, backup.Config{
		Enabled:  cfg.Enabled,
		Bucket:   cfg.Bucket,
		Prefix:   cfg.Prefix,
		Interval: cfg.Interval,
	}, logger.Named("backup"), nil), nil
}
