package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/harvest-settlement/internal/adapters/database"
	"github.com/kevin07696/harvest-settlement/internal/adapters/network"
	"github.com/kevin07696/harvest-settlement/internal/adapters/postgres"
	"github.com/kevin07696/harvest-settlement/internal/adapters/secrets"
	"github.com/kevin07696/harvest-settlement/internal/config"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/kevin07696/harvest-settlement/internal/services/settlement"
	"github.com/kevin07696/harvest-settlement/pkg/logging"
	"github.com/kevin07696/harvest-settlement/pkg/resilience"
	"go.uber.org/zap"
)

// App holds the dependencies shared by the server and the operator CLI
type App struct {
	Config   *config.Config
	DB       *database.PostgreSQLAdapter
	Secrets  ports.SecretStore
	Gateway  *network.SettlementNetworkAdapter
	Service  *settlement.Service
	Timeouts *resilience.TimeoutConfig
	Logger   *zap.Logger
}

// New connects to the database and secret backend and assembles the settlement service
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	secretStore, err := NewSecretStore(ctx, cfg.Secrets, logger)
	if err != nil {
		return nil, err
	}

	apiKey, err := secretStore.GetSecret(ctx, cfg.Gateway.APIKeySecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement network API key: %w", err)
	}

	dbCfg := database.DefaultPostgreSQLConfig(cfg.Database.ConnectionString())
	dbCfg.MaxConns = cfg.Database.MaxConns
	dbCfg.MinConns = cfg.Database.MinConns
	db, err := database.NewPostgreSQLAdapter(ctx, dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	netCfg := network.DefaultConfig(cfg.Gateway.BaseURL, apiKey.Value)
	netCfg.Timeout = cfg.Gateway.Timeout
	netCfg.MaxRetries = cfg.Gateway.MaxRetries
	gateway := network.NewSettlementNetworkAdapter(netCfg, logger)

	timeouts := resilience.DefaultTimeoutConfig()

	executor := postgres.NewDBExecutor(db.Pool())
	service := settlement.NewService(
		executor,
		postgres.NewHarvestRecordStore(executor),
		postgres.NewSettlementBatchRepository(executor),
		postgres.NewIdempotencyStore(executor),
		postgres.NewPayeeDirectory(executor),
		gateway,
		settlement.Config{
			DebitAccount:       cfg.Settlement.DebitAccount,
			ReferencePrefix:    cfg.Settlement.ReferencePrefix,
			LineMode:           settlement.LineMode(cfg.Settlement.LineMode),
			MaxRecordsPerBatch: cfg.Settlement.MaxRecordsPerBatch,
			LockTTL:            cfg.Settlement.LockTTL,
		},
		logging.NewZapLogger(logger),
		settlement.WithTimeouts(timeouts),
	)

	return &App{
		Config:   cfg,
		DB:       db,
		Secrets:  secretStore,
		Gateway:  gateway,
		Service:  service,
		Timeouts: timeouts,
		Logger:   logger,
	}, nil
}

// Close releases the database pool
func (a *App) Close() {
	a.DB.Close()
}

// NewSecretStore selects the secret backend named by cfg.Manager
func NewSecretStore(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretStore, error) {
	switch cfg.Manager {
	case "aws":
		awsCfg := secrets.DefaultAWSSecretsManagerConfig(cfg.AWSRegion)
		awsCfg.CacheTTL = cfg.CacheTTL
		return secrets.NewAWSSecretsManagerAdapter(ctx, awsCfg, logger)

	case "vault":
		vaultCfg := secrets.DefaultVaultConfig(cfg.VaultAddress)
		vaultCfg.Token = cfg.VaultToken
		vaultCfg.CacheTTL = cfg.CacheTTL
		return secrets.NewVaultAdapter(ctx, vaultCfg, logger)

	case "local":
		logger.Warn("Using local file secret manager - NOT for production use",
			zap.String("path", cfg.LocalPath))
		return secrets.NewLocalSecretManager(cfg.LocalPath, logger), nil

	default:
		return nil, fmt.Errorf("unknown secret manager: %s", cfg.Manager)
	}
}

// Logger builds the process logger from configuration
func Logger(cfg config.LoggerConfig) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:       cfg.Level,
		Development: cfg.Development,
		File:        cfg.File,
		MaxSizeMB:   100,
		MaxBackups:  5,
		MaxAgeDays:  30,
		Compress:    true,
	})
}

// PoolMonitorInterval is how often pool utilization is logged
const PoolMonitorInterval = 30 * time.Second
