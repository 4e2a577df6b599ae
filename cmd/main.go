package main

import (
	"context"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/api"
	"github.com/rryowa/authsession/internal/controller"
	"github.com/rryowa/authsession/internal/migrations"
	"github.com/rryowa/authsession/internal/service"
	"github.com/rryowa/authsession/internal/storage"
	"github.com/rryowa/authsession/internal/storage/bolt"
	"github.com/rryowa/authsession/internal/storage/memory"
	"github.com/rryowa/authsession/internal/storage/postgres"
	"github.com/rryowa/authsession/internal/storage/redis"
	"github.com/rryowa/authsession/internal/util"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger(util.GetLogLevel())
	defer func() { _ = logger.Sync() }()

	storageCfg := util.NewStorageConfig()
	guardCfg := util.NewGuardConfig()
	clientCfg := util.NewClientConfig()

	var cleanupFuncs []func()
	redisConn := &sharedRedis{logger: logger}
	repo, repoCleanup, err := newSessionRepository(storageCfg, redisConn, logger)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	if repoCleanup != nil {
		cleanupFuncs = append(cleanupFuncs, repoCleanup)
	}

	cookieMirror := api.NewCookieMirror(guardCfg.MirrorCookie, guardCfg.MirrorTTL)
	mirrors := service.Mirrors{cookieMirror}
	edgeSignal := api.CookieSignal(guardCfg.MirrorCookie)
	if guardCfg.MirrorRedis {
		redisClient, err := redisConn.client()
		if err != nil {
			logger.Fatal(zap.Error(err))
		}

		replica := redis.NewMirrorStorage(redisClient, guardCfg.MirrorCookie, guardCfg.MirrorTTL)
		mirrors = append(mirrors, replica)
		edgeSignal = api.RedisSignal(replica, logger)
	}

	if redisConn.cleanup != nil {
		cleanupFuncs = append(cleanupFuncs, redisConn.cleanup)
	}

	httpClient := &http.Client{Timeout: clientCfg.Timeout}

	var notifier service.SessionNotifier
	if url := util.GetWebhookURL(); url != "" {
		notifier = service.NewWebhookService(httpClient, logger, url)
	}

	store := service.NewSessionStore(repo, storageCfg.Namespace, mirrors, notifier, logger)
	store.Hydrate(ctx)

	refresher := service.NewHTTPRefresher(clientCfg.BaseURL, httpClient)
	coordinator := service.NewRefreshCoordinator(store, refresher, logger)
	pipeline := service.NewPipeline(clientCfg.BaseURL, httpClient, store, coordinator, logger)
	authService := service.NewAuthService(pipeline, store, logger)

	rules := service.RouteRules{
		Protected:     guardCfg.ProtectedRoutes,
		AuthOnly:      guardCfg.AuthOnlyRoutes,
		LoginPath:     guardCfg.LoginPath,
		LandingPath:   guardCfg.LandingPath,
		CallbackParam: service.DefaultCallbackParam,
	}
	ctl := controller.NewController(logger, authService, store, rules, guardCfg.HydrationWait)

	apiServer, err := api.NewAPI(ctl, logger, util.NewServerConfig(), api.GuardOptions{
		Rules:  rules,
		Signal: edgeSignal,
		Mirror: cookieMirror,
	}, cleanupFuncs)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	apiServer.Run(ctx)
}

// sharedRedis dials redis on first use so the session backend and the mirror
// replica share one client.
type sharedRedis struct {
	logger  *zap.SugaredLogger
	rdb     *goredis.Client
	cleanup func()
}

func (r *sharedRedis) client() (*goredis.Client, error) {
	if r.rdb != nil {
		return r.rdb, nil
	}
	rdb, cleanup, err := util.NewRedisClient(r.logger, util.NewRedisConfig())
	if err != nil {
		return nil, err
	}
	r.rdb, r.cleanup = rdb, cleanup
	return rdb, nil
}

func newSessionRepository(cfg *util.StorageConfig, redisConn *sharedRedis, logger *zap.SugaredLogger) (storage.SessionRepository, func(), error) {
	switch cfg.Backend {
	case util.BackendMemory:
		return memory.NewSessionRepository(logger), nil, nil
	case util.BackendRedis:
		client, err := redisConn.client()
		if err != nil {
			return nil, nil, err
		}
		return redis.NewSessionStorage(client), nil, nil
	case util.BackendPostgres:
		db, cleanup, err := util.NewDBConnection(logger, util.NewDBConfig())
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunMigrations(db, logger); err != nil {
			cleanup()
			return nil, nil, err
		}
		return postgres.NewStorage(db), cleanup, nil
	default:
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Infow("Using local session file", "path", cfg.BoltPath)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Errorf("Failed to close session file: %v", err)
			}
		}, nil
	}
}
