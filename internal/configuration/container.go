package configuration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vanneszias/Safe-Chat/internal/auth"
	"github.com/vanneszias/Safe-Chat/internal/db"
	"github.com/vanneszias/Safe-Chat/internal/delivery"
	"github.com/vanneszias/Safe-Chat/internal/handler"
	"github.com/vanneszias/Safe-Chat/internal/hub"
	"github.com/vanneszias/Safe-Chat/internal/repo"
	"github.com/vanneszias/Safe-Chat/internal/service"
)

type Container struct {
	MessageHandler handler.MessageHandler
	MonitorHandler handler.MonitorHandler
	Authenticator  auth.Authenticator
	Hub            *hub.Hub
	Engine         *delivery.Engine
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	store     repo.MessageStore
	scheduler *delivery.DeletionScheduler
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	logger.Info("config loaded",
		zap.String("store", config.Store.Driver),
		zap.Int("app_port", config.Server.AppPort),
		zap.Int("socket_port", config.Server.SocketPort),
	)

	store, err := openStore(config, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	authenticator := auth.NewJWTAuthenticator(config.Auth.JWTSecret, config.Auth.Issuer)
	registry := hub.NewRegistry(logger)
	scheduler := delivery.NewDeletionScheduler(store, config.Delivery.DeletionWorkers, config.Delivery.StoreTimeout.Std(), logger)
	engine := delivery.NewEngine(store, registry, scheduler, delivery.Config{
		GracePeriod:  config.Delivery.GracePeriod.Std(),
		Location:     config.Location(),
		StoreTimeout: config.Delivery.StoreTimeout.Std(),
	}, logger)

	h := hub.NewHub(registry, authenticator, engine, hub.SessionConfig{
		MailboxCapacity: config.Session.MailboxCapacity,
		WriteWait:       config.Session.WriteWait.Std(),
		PongWait:        config.Session.PongWait.Std(),
		MaxMessageSize:  config.Session.MaxMessageSize,
		EvictSuperseded: config.Session.EvictSuperseded,
		AllowedOrigins:  config.Server.AllowedOrigins,
	}, logger)

	messageService := service.NewMessageService(store, engine)

	return &Container{
		MessageHandler: handler.NewMessageHandler(messageService),
		MonitorHandler: handler.NewMonitorHandler(hub.NewMonitorService(h)),
		Authenticator:  authenticator,
		Hub:            h,
		Engine:         engine,
		Config:         *config,
		Logger:         logger,
		store:          store,
		scheduler:      scheduler,
	}, nil
}

func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func openStore(config *Config, logger *zap.Logger) (repo.MessageStore, error) {
	switch config.Store.Driver {
	case DriverMongo:
		con, err := db.OpenConnection(config.Store.Mongo.Uri, config.Store.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		return repo.NewMongoMessageRepository(con, config.Store.Mongo.MessagesCollection, logger), nil
	case DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		conn, err := db.OpenPostgres(ctx, config.Store.Postgres.Dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return repo.NewPostgresMessageRepository(conn, logger), nil
	case DriverMemory:
		logger.Warn("using in-memory message store, messages are lost on restart")
		return repo.NewMemoryMessageRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", config.Store.Driver)
	}
}

// Close gracefully shuts down everything the container owns.
// Servers must already be stopped.
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error

	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		if err := c.Hub.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// Pending deletions are dropped; queued ones finish
	if c.scheduler != nil {
		c.scheduler.Stop()
	}

	if c.store != nil {
		if err := c.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close message store: %w", err))
		}
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	return errors.Join(errs...)
}
