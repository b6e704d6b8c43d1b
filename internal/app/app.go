// Package app wires the back office together: repositories for the
// configured database driver, application services, and the messaging
// collaborators. Both the HTTP server and the worker build from here.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	bulkApplication "github.com/fitstack/backoffice/internal/bulk/application"
	bulkDomain "github.com/fitstack/backoffice/internal/bulk/domain"
	bulkPersistence "github.com/fitstack/backoffice/internal/bulk/infrastructure/persistence"
	catalogDomain "github.com/fitstack/backoffice/internal/catalog/domain"
	catalogPersistence "github.com/fitstack/backoffice/internal/catalog/infrastructure/persistence"
	notificationsApplication "github.com/fitstack/backoffice/internal/notifications/application"
	notificationsDomain "github.com/fitstack/backoffice/internal/notifications/domain"
	notificationsInfrastructure "github.com/fitstack/backoffice/internal/notifications/infrastructure"
	packagesApplication "github.com/fitstack/backoffice/internal/packages/application"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
	packagesPersistence "github.com/fitstack/backoffice/internal/packages/infrastructure/persistence"
	sharedApplication "github.com/fitstack/backoffice/internal/shared/application"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/eventbus"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/locking"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/migrations"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
	"github.com/fitstack/backoffice/pkg/config"
)

// App holds the wired application dependencies.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Packages   packagesDomain.Repository
	History    packagesDomain.HistoryRepository
	NotifLogs  packagesDomain.NotificationLogRepository
	Catalog    catalogDomain.Repository
	Jobs       bulkDomain.Repository
	Outbox     outbox.Repository
	UnitOfWork sharedApplication.UnitOfWork

	Ledger *packagesApplication.LedgerService
	Sweep  *notificationsApplication.SweepService
	Engine *bulkApplication.Engine

	// DomainPublisher carries outbox messages; the notification sender has
	// its own exchange.
	DomainPublisher eventbus.Publisher

	pool        *pgxpool.Pool
	db          *sql.DB
	redisClient *redis.Client
	closers     []func()
}

// New builds the full dependency graph for the configured driver.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	if err := a.connectDatabase(ctx); err != nil {
		return nil, err
	}
	a.connectRedis()
	a.connectPublishers()

	a.UnitOfWork = a.unitOfWork()

	a.Ledger = packagesApplication.NewLedgerService(
		a.Packages, a.Catalog, a.History, a.Outbox, a.UnitOfWork,
		cfg.FreezeExtendsExpiry, logger,
	)
	a.Sweep = notificationsApplication.NewSweepService(
		a.Packages, a.NotifLogs, a.Ledger, a.sender(), a.Outbox, a.UnitOfWork,
		cfg.WarnWindowDays, cfg.FinalWindowDays, cfg.NotifyChannel, logger,
	)
	a.Engine = bulkApplication.NewEngine(
		a.Jobs, a.Packages, a.Catalog, a.Ledger, a.Outbox, logger,
	)

	return a, nil
}

// Close releases every held connection. Safe to call once.
func (a *App) Close() {
	a.Engine.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Migrate applies the embedded schema migrations for the active driver.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool != nil {
		return migrations.RunPostgresMigrations(ctx, a.pool)
	}
	return migrations.RunSQLiteMigrations(ctx, a.db)
}

// SweepLock returns the mutex guarding the periodic sweep. Without Redis
// the lock is a no-op, which is fine for a single-process deployment.
func (a *App) SweepLock() locking.Lock {
	if a.redisClient == nil {
		return locking.NoopLock{}
	}
	return locking.NewRedisLock(a.redisClient, "backoffice:sweep", a.Config.SweepLockTTL)
}

func (a *App) connectDatabase(ctx context.Context) error {
	switch a.Config.DatabaseDriver {
	case "postgres":
		pool, err := pgxpool.New(ctx, a.Config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("failed to ping postgres: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)

		a.Packages = packagesPersistence.NewPostgresPackageRepository(pool)
		a.History = packagesPersistence.NewPostgresHistoryRepository(pool)
		a.NotifLogs = packagesPersistence.NewPostgresNotificationLogRepository(pool)
		a.Catalog = catalogPersistence.NewPostgresTemplateRepository(pool)
		a.Jobs = bulkPersistence.NewPostgresBulkRepository(pool)
		a.Outbox = outbox.NewPostgresRepository(pool)

	case "sqlite":
		db, err := sql.Open("sqlite", a.Config.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return fmt.Errorf("failed to ping sqlite database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() { db.Close() })

		a.Packages = packagesPersistence.NewSQLitePackageRepository(db)
		a.History = packagesPersistence.NewSQLiteHistoryRepository(db)
		a.NotifLogs = packagesPersistence.NewSQLiteNotificationLogRepository(db)
		a.Catalog = catalogPersistence.NewSQLiteTemplateRepository(db)
		a.Jobs = bulkPersistence.NewSQLiteBulkRepository(db)
		a.Outbox = outbox.NewSQLiteRepository(db)

	default:
		return fmt.Errorf("unknown database driver %q", a.Config.DatabaseDriver)
	}

	a.Logger.Info("database connected", "driver", a.Config.DatabaseDriver)
	return nil
}

func (a *App) unitOfWork() sharedApplication.UnitOfWork {
	if a.pool != nil {
		return sharedPersistence.NewPostgresUnitOfWork(a.pool)
	}
	return sharedPersistence.NewSQLiteUnitOfWork(a.db)
}

func (a *App) connectRedis() {
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		a.Logger.Warn("invalid redis url, sweep lock disabled", "error", err)
		return
	}
	client := redis.NewClient(opts)
	a.redisClient = client
	a.closers = append(a.closers, func() { client.Close() })
}

// connectPublishers wires RabbitMQ. In development a missing broker
// degrades to a noop publisher instead of failing startup.
func (a *App) connectPublishers() {
	pub, err := eventbus.NewRabbitMQPublisher(a.Config.RabbitMQURL, eventbus.DomainExchange, a.Logger)
	if err != nil {
		a.Logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
		a.DomainPublisher = eventbus.NewNoopPublisher(a.Logger)
		return
	}
	a.DomainPublisher = pub
	a.closers = append(a.closers, func() { pub.Close() })
}

// sender builds the notification path: an AMQP sender on its own exchange
// behind a circuit breaker, or a logging noop when the broker is absent.
func (a *App) sender() notificationsDomain.Sender {
	pub, err := eventbus.NewRabbitMQPublisher(a.Config.RabbitMQURL, eventbus.NotificationExchange, a.Logger)
	if err != nil {
		a.Logger.Warn("RabbitMQ not available, notifications are logged only", "error", err)
		return notificationsInfrastructure.NewNoopSender(a.Logger)
	}
	a.closers = append(a.closers, func() { pub.Close() })
	return notificationsInfrastructure.NewBreakerSender(
		notificationsInfrastructure.NewAMQPSender(pub, a.Logger),
		a.Config.NotifySendTimeout,
		a.Logger,
	)
}
