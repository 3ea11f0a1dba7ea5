package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/rpggio/inkwell/internal/archive"
	"github.com/rpggio/inkwell/internal/config"
	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/hub"
	"github.com/rpggio/inkwell/internal/lease"
	"github.com/rpggio/inkwell/internal/metrics"
	"github.com/rpggio/inkwell/internal/postgres"
	"github.com/rpggio/inkwell/internal/sqlite"
	"github.com/rpggio/inkwell/internal/transport"
)

// app is the wired server stack.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	db           *sqlite.DB
	apiKeys      *sqlite.APIKeyRepository
	sessions     *session.Service
	participants *participant.Service
	activity     *activity.Service
	hub          *hub.Hub
	metrics      *metrics.Metrics

	closers []func()
}

// newApp opens the stores named by cfg and wires the services over them.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := ensureDir(cfg.DB.Path); err != nil {
		return nil, fmt.Errorf("preparing database path: %w", err)
	}
	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	if err := db.RunMigrations(); err != nil {
		a.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	articles, err := a.articleStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
	}

	a.apiKeys = sqlite.NewAPIKeyRepository(db)
	a.activity = activity.NewService(sqlite.NewActivityRepository(db), logger)
	a.participants = participant.NewService(sqlite.NewParticipantRepository(db), logger)

	var archiver session.Archiver
	if cfg.Archive.Enabled {
		client := archive.NewS3Client(archive.Config{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			UsePathStyle:    cfg.Archive.UsePathStyle,
		})
		archiver = archive.NewS3Archiver(client, cfg.Archive.Bucket, cfg.Archive.Prefix, logger)
		logger.Info("archiving session logs", "bucket", cfg.Archive.Bucket)
	}

	leases, err := a.leases(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sessions = session.NewService(session.Config{
		Sessions:   sqlite.NewSessionRepository(db),
		Operations: sqlite.NewOperationRepository(db),
		Articles:   articles,
		Presence:   a.participants,
		Activity:   a.activity,
		Archiver:   archiver,
		Leases:     leases,
		Metrics:    a.metrics,
		Logger:     logger,
		Options: session.Options{
			MaxParticipants:  cfg.Session.MaxParticipants,
			TTL:              cfg.Session.TTL,
			IdleTimeout:      cfg.Session.IdleTimeout,
			RecentOperations: cfg.Session.RecentOperations,
		},
	})

	a.hub = hub.New(hub.Options{
		Buffer:  cfg.WebSocket.SendBuffer,
		Metrics: a.metrics,
		Logger:  logger,
	})
	a.sessions.SetNotifier(transport.NewNotifier(a.hub))

	return a, nil
}

// leases connects the article lease set when Redis is configured. A nil
// session.Leases means this instance hosts every article.
func (a *app) leases(ctx context.Context) (session.Leases, error) {
	if a.cfg.Redis.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	leases := lease.NewRedis(client, lease.Options{
		Prefix: a.cfg.Redis.Prefix,
		TTL:    a.cfg.Redis.LeaseTTL,
	})
	a.logger.Info("using redis article leases", "addr", a.cfg.Redis.Addr, "instance", leases.Instance())
	return leases, nil
}

func (a *app) articleStore(ctx context.Context) (article.Store, error) {
	switch a.cfg.Articles.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, a.cfg.Articles.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		store := postgres.NewArticleStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating article store: %w", err)
		}
		a.logger.Info("using postgres article store")
		return store, nil
	default:
		return sqlite.NewArticleStore(a.db), nil
	}
}

// resolver returns how bearer tokens become users.
func (a *app) resolver() transport.UserResolver {
	if a.cfg.Auth.Disabled {
		a.logger.Warn("authentication disabled; tokens are taken as user ids")
		return transport.TrustedResolver{}
	}
	return a.apiKeys
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
