// Package store defines the license persistence contract and selects a backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/licensed/internal/config"
	"github.com/MrSnakeDoc/licensed/internal/connect"
	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/logger"
	"github.com/MrSnakeDoc/licensed/internal/metrics"
	redisconn "github.com/MrSnakeDoc/licensed/internal/redis"
	"github.com/MrSnakeDoc/licensed/internal/seed"
	"github.com/MrSnakeDoc/licensed/internal/store/blob"
	"github.com/MrSnakeDoc/licensed/internal/store/memory"
	"github.com/MrSnakeDoc/licensed/internal/store/postgres"
	redisstore "github.com/MrSnakeDoc/licensed/internal/store/redis"
)

// Store persists license records keyed by license key or machine id.
type Store interface {
	// Get returns the record or an error matching domain.ErrNotFound.
	Get(ctx context.Context, key string) (*domain.Record, error)
	// Replace writes rec if rec.Revision matches the stored revision. An empty
	// revision only creates. A lost race matches domain.ErrConflict. On
	// success rec.Revision holds the new revision.
	Replace(ctx context.Context, key string, rec *domain.Record) error
	Ping(ctx context.Context) error
	Close() error
}

// New builds the backend named by cfg.Store and waits until it is reachable.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log logger.Logger) (Store, error) {
	retry := connect.Options{
		ConnectTimeout: cfg.Connect.Timeout,
		RetryInterval:  cfg.Connect.RetryInterval,
		MaxWait:        cfg.Connect.MaxWait,
		PingTimeout:    cfg.Connect.PingTimeout,
		WarnThreshold:  cfg.Connect.WarnThreshold,
	}

	var (
		s   Store
		err error
	)
	switch cfg.Store {
	case config.StoreMemory:
		s, err = newMemory(cfg.SeedFile, log)
	case config.StoreRedis:
		s, err = newRedis(ctx, cfg.Redis, retry, log)
	case config.StorePostgres:
		s, err = newPostgres(ctx, cfg.Postgres, retry, log)
	case config.StoreBlob:
		s, err = blob.NewStore(blob.Options{
			URL:         cfg.Blob.URL,
			Token:       cfg.Blob.Token,
			TokenHeader: cfg.Blob.TokenHeader,
			EnvelopeKey: cfg.Blob.EnvelopeKey,
			Timeout:     cfg.StoreTimeout,
		})
		if err == nil {
			log.Warn("blob store has no conditional write; concurrent writers on other hosts may overwrite each other")
		}
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Store)
	}
	if err != nil {
		return nil, err
	}

	log.Info("license store ready", logger.String("backend", cfg.Store))
	return Instrument(s, cfg.Store, m), nil
}

func newMemory(seedFile string, log logger.Logger) (Store, error) {
	s := memory.NewStore()
	if seedFile == "" {
		return s, nil
	}

	records, err := seed.NewLoader(seedFile).Load()
	if err != nil {
		return nil, err
	}
	n := seed.Apply(s, records)
	log.Info("seeded memory store", logger.String("file", seedFile), logger.Int("licenses", n))
	return s, nil
}

func newRedis(ctx context.Context, cfg config.RedisConfig, retry connect.Options, log logger.Logger) (Store, error) {
	client, err := redisconn.New(ctx, redisconn.ConnectOptions{
		Addr:         cfg.Addr,
		User:         cfg.User,
		Password:     cfg.Password,
		RedisDB:      cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		Retry:        retry,
	}, log)
	if err != nil {
		return nil, err
	}
	return redisstore.NewStore(client), nil
}

func newPostgres(ctx context.Context, cfg config.PostgresConfig, retry connect.Options, log logger.Logger) (Store, error) {
	if cfg.Migrate {
		if err := postgres.RunMigrations(cfg.DSN, cfg.Schema, log); err != nil {
			return nil, err
		}
	}

	pool, err := postgres.Connect(ctx, postgres.Options{
		DSN:      cfg.DSN,
		Schema:   cfg.Schema,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
		Retry:    retry,
	}, log)
	if err != nil {
		return nil, err
	}
	return postgres.NewStore(pool), nil
}

// Instrument reports latency and failures of every call to m.
func Instrument(s Store, backend string, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, backend: backend, metrics: m}
}

type instrumented struct {
	next    Store
	backend string
	metrics *metrics.Metrics
}

func (i *instrumented) Get(ctx context.Context, key string) (*domain.Record, error) {
	start := time.Now()
	rec, err := i.next.Get(ctx, key)
	i.metrics.ObserveStore(i.backend, "get", time.Since(start), errorKind(err))
	return rec, err
}

func (i *instrumented) Replace(ctx context.Context, key string, rec *domain.Record) error {
	start := time.Now()
	err := i.next.Replace(ctx, key, rec)
	i.metrics.ObserveStore(i.backend, "replace", time.Since(start), errorKind(err))
	return err
}

func (i *instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := i.next.Ping(ctx)
	i.metrics.ObserveStore(i.backend, "ping", time.Since(start), errorKind(err))
	return err
}

func (i *instrumented) Close() error { return i.next.Close() }

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unavailable"
	}
}
