// Package app builds the stores, broker and services the configuration
// selects.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"omnirelay/internal/broker"
	"omnirelay/internal/config"
	"omnirelay/internal/repository"
	"omnirelay/internal/repository/sqlrepo"
	"omnirelay/internal/service"
)

const pingTimeout = 5 * time.Second

type App struct {
	Services repository.ServiceRepo
	Sessions repository.SessionRepo
	Visitors repository.VisitorRepo

	Lifecycle service.Lifecycle
	Identity  *service.IdentityService
	Broker    broker.Broker

	closers []func() error
}

// New opens the identity store and builds the services on top of it
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	if err := a.openStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	switch cfg.Lifecycle {
	case config.LifecycleSession:
		a.Lifecycle = service.NewSessionLifecycle(a.Sessions, a.Services, a.Visitors)
	case config.LifecycleCode:
		a.Lifecycle = service.NewCodeLifecycle(a.Services, a.Visitors)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown lifecycle %q", cfg.Lifecycle)
	}
	a.Identity = service.NewIdentityService(a.Services, a.Visitors, a.Lifecycle)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store {
	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		a.closers = append(a.closers, func() error {
			return client.Disconnect(context.Background())
		})

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			return fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		log.Println("Connected to MongoDB")

		db := client.Database(cfg.MongoDB)
		if err := repository.EnsureIndexes(ctx, db); err != nil {
			return err
		}
		a.Services = repository.NewServiceRepo(db)
		a.Sessions = repository.NewSessionRepo(db)
		a.Visitors = repository.NewVisitorRepo(db)

	case config.StoreSQLite:
		db, err := sqlrepo.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sqlDB.Close)
		log.Printf("Opened SQLite database %s", cfg.SQLitePath)

		a.Services = sqlrepo.NewServiceRepo(db)
		a.Sessions = sqlrepo.NewSessionRepo(db)
		a.Visitors = sqlrepo.NewVisitorRepo(db)

	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}
	return nil
}

// ConnectBroker sets up the broker connections talk through
func (a *App) ConnectBroker(ctx context.Context, cfg *config.Config) error {
	switch cfg.Broker {
	case config.BrokerRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		a.closers = append(a.closers, rdb.Close)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if _, err := rdb.Ping(pingCtx).Result(); err != nil {
			return fmt.Errorf("failed to ping Redis: %w", err)
		}
		log.Println("Connected to Redis")

		b := broker.NewRedis(rdb)
		a.closers = append(a.closers, b.Close)
		a.Broker = b

	case config.BrokerMemory:
		b := broker.NewMemory()
		a.closers = append(a.closers, b.Close)
		a.Broker = b
		log.Println("Using in-process broker")

	default:
		return fmt.Errorf("unknown broker %q", cfg.Broker)
	}
	return nil
}

// Close releases everything opened, newest first
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("Close error: %v", err)
		}
	}
	a.closers = nil
}
