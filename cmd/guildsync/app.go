package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/triboar/guild-sync/internal/api/handler"
	"github.com/triboar/guild-sync/internal/core/ports"
	"github.com/triboar/guild-sync/internal/core/service"
	"github.com/triboar/guild-sync/internal/infrastructure/backend"
	"github.com/triboar/guild-sync/internal/infrastructure/config"
	mongostore "github.com/triboar/guild-sync/internal/infrastructure/db/mongo"
	redisstore "github.com/triboar/guild-sync/internal/infrastructure/db/redis"
	"github.com/triboar/guild-sync/internal/infrastructure/discord"
	"github.com/triboar/guild-sync/internal/infrastructure/scheduler"
	"github.com/triboar/guild-sync/internal/infrastructure/templates"
	"github.com/triboar/guild-sync/pkg/logger"
)

const (
	fullSyncLockKey = "lock:full-sync"
	pingTimeout     = 2 * time.Second
)

// app holds everything both commands share.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	redis   *goredis.Client
	mongo   *mongo.Client
	runs    ports.RunRepository
	session *discordgo.Session

	reconciler ports.Reconciler
	scheduler  *scheduler.Scheduler
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: serviceName,
		Version: Version,
	})

	a := &app{cfg: cfg, log: log}
	if err := a.wire(ctx); err != nil {
		a.close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	rdb, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	a.redis = rdb
	a.log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")

	if cfg.Mongo.URI != "" {
		client, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return err
		}
		a.mongo = client
		repo := mongostore.NewRunRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return err
		}
		a.runs = repo
		a.log.Info().Str("database", cfg.Mongo.Database).Msg("run history enabled")
	}

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.URL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
	}, a.log)
	if err != nil {
		return err
	}

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	a.session = session
	platform := discord.NewPlatform(session, cfg.Discord.GuildID, cfg.Discord.SubscribedRoleID, a.log)

	catalog, err := templates.NewCatalog(templates.Options{
		Path:           cfg.Notify.TemplatesPath,
		CheckoutURL:    cfg.Notify.CheckoutURL,
		MembershipName: cfg.Notify.MembershipName,
	})
	if err != nil {
		return err
	}

	a.reconciler = service.NewReconciler(service.Dependencies{
		Backend:  backendClient,
		Roles:    service.NewRoleMutator(platform, a.log),
		Notifier: service.NewNotificationDispatcher(catalog, platform, redisstore.NewNotificationLedger(rdb, cfg.Notify.DedupTTL), a.log),
		Runs:     a.runs,
		Log:      a.log,
	}, service.Options{
		GraceNotificationsEnabled: cfg.Notify.GraceDMEnabled,
		GracePeriodDays:           cfg.Notify.GracePeriodDays,
		MembershipName:            cfg.Notify.MembershipName,
		Concurrency:               cfg.Sync.Concurrency,
		StepTimeout:               cfg.Sync.UserTimeout,
	})

	loc, err := cfg.Sync.Location()
	if err != nil {
		return err
	}
	a.scheduler, err = scheduler.New(scheduler.Options{
		Spec:     cfg.Sync.Schedule,
		Location: loc,
		Locker:   redisstore.NewLock(rdb, fullSyncLockKey, cfg.Sync.LockTTL),
	}, a.reconciler, a.log)
	return err
}

// checks are the readiness probes for the stores the service depends on.
func (a *app) checks() map[string]handler.PingFunc {
	checks := map[string]handler.PingFunc{
		"redis": func(ctx context.Context) error {
			return redisstore.Ping(ctx, a.redis, pingTimeout)
		},
	}
	if a.mongo != nil {
		checks["mongodb"] = func(ctx context.Context) error {
			if err := a.mongo.Ping(ctx, readpref.Primary()); err != nil {
				return fmt.Errorf("mongo ping: %w", err)
			}
			return nil
		}
	}
	return checks
}

// close releases connections. Safe on a partially wired app.
func (a *app) close(ctx context.Context) {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.log.Warn().Err(err).Msg("discord session close")
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.log.Warn().Err(err).Msg("mongo disconnect")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("redis close")
		}
	}
}
