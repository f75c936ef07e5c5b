package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"arena-serverless/internal/auth"
	"arena-serverless/internal/catalog"
	"arena-serverless/internal/config"
	"arena-serverless/internal/db"
	"arena-serverless/internal/demo"
	"arena-serverless/internal/like"
	"arena-serverless/internal/maintenance"
	"arena-serverless/internal/media"
	"arena-serverless/internal/observability"
	"arena-serverless/internal/tab"
)

type Options struct {
	LoadDotEnv bool
	// RunMigrations forces migrations regardless of RUN_MIGRATIONS_ON_STARTUP.
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *observability.Logger
	Cleaner *maintenance.Cleaner
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	closers := []func() error{database.Close}
	fail := func(err error) (*Runtime, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	if options.RunMigrations || cfg.RunMigrationsOnStartup {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	attempts, sweeper, closeAttempts, err := newAttemptStore(ctx, cfg, database)
	if err != nil {
		return fail(err)
	}
	if closeAttempts != nil {
		closers = append(closers, closeAttempts)
	}

	blobs, err := newBlobStore(cfg, database)
	if err != nil {
		return fail(err)
	}

	codec, err := auth.NewCodec(cfg.TokenScheme, cfg.Secret())
	if err != nil {
		return fail(fmt.Errorf("init token codec: %w", err))
	}
	if cfg.TokenScheme == config.TokenSchemeLegacy {
		logger.Warn("legacy_token_scheme_enabled", map[string]any{
			"detail": "tokens embed a fragment of the secret; set TOKEN_SCHEME=signed once clients are updated",
		})
	}

	authService := auth.NewService(attempts, codec, cfg.AdminPassword)
	if cfg.AdminPasswordHash != "" {
		authService.WithPasswordHash(cfg.AdminPasswordHash)
	}
	authService.WithSecurityConfig(cfg.LoginMaxAttempts, cfg.LoginLockDuration, cfg.TokenTTL)
	authHandler := auth.NewHandler(authService, logger)

	catalogRepo := catalog.NewRepository(database)
	catalogCache := catalog.NewCache(catalogRepo)
	catalogHandler := catalog.NewHandler(catalogRepo, catalogCache, logger)

	demoRepo := demo.NewRepository(database)
	demoHandler := demo.NewHandler(demoRepo, blobs, catalogCache, logger)
	tabHandler := tab.NewHandler(tab.NewRepository(database), blobs, logger)
	likeHandler := like.NewHandler(like.NewRepository(database), logger)
	mediaHandler := media.NewHandler(blobs, logger, cfg.MaxUploadBytes)

	cleaner := maintenance.NewCleaner(sweeper, blobs, demoRepo, logger, cfg.LoginAttemptRetention, cfg.CleanupBatchSize)
	cleanupHandler := maintenance.NewCleanupHandler(cleaner, logger, cfg.CronSecret)

	limiter := auth.NewRequestLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow)

	admin := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(authService, h)
	}

	mux := http.NewServeMux()
	routes := newRouter(mux)

	routes.handle("POST /login", limiter.Limit("login", "Too many login requests", http.HandlerFunc(authHandler.Login)))
	routes.handleFunc("POST /verify", authHandler.Verify)

	routes.handleFunc("GET /tabs", tabHandler.List)
	routes.handle("POST /tabs", admin(tabHandler.Create))
	routes.handle("PUT /tabs/{id}", admin(tabHandler.Update))
	routes.handle("DELETE /tabs/{id}", admin(tabHandler.Delete))

	routes.handleFunc("GET /demos", demoHandler.List)
	routes.handleFunc("GET /demos/{id}", demoHandler.Get)
	routes.handle("POST /demos", admin(demoHandler.Upload))
	routes.handle("PUT /demos/{id}", admin(demoHandler.Update))
	routes.handle("DELETE /demos/{id}", admin(demoHandler.Delete))

	routes.handle("POST /demos/{id}/like", limiter.Limit("like", "Too many requests", http.HandlerFunc(likeHandler.Toggle)))
	routes.handleFunc("GET /demos/{id}/like", likeHandler.Info)
	routes.handleFunc("GET /likes", likeHandler.ByTab)
	routes.handleFunc("GET /leaderboard", likeHandler.Leaderboard)

	routes.handleFunc("GET /models", catalogHandler.ListModels)
	routes.handle("POST /models", admin(catalogHandler.UpsertModel))
	routes.handle("DELETE /models/{key}", admin(catalogHandler.DeleteModel))
	routes.handleFunc("GET /brands", catalogHandler.ListBrands)
	routes.handle("POST /brands", admin(catalogHandler.CreateBrand))
	routes.handle("DELETE /brands/{key}", admin(catalogHandler.DeleteBrand))

	routes.handleFunc("GET /logos", mediaHandler.ListLogos)
	routes.handle("POST /logos", admin(mediaHandler.UploadLogo))
	routes.handle("DELETE /logos/{name}", admin(mediaHandler.DeleteLogo))
	routes.handleFunc("GET /logo/{name}", mediaHandler.Logo)
	routes.handleFunc("GET /file/{path...}", mediaHandler.File)

	routes.handleFunc("GET /health", healthHandler(database))
	routes.handleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	routes.handleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)

	handler := observability.RecoverMiddleware(logger,
		observability.ClientIPMiddleware(cfg.TrustProxyHeaders,
			observability.RequestLoggingMiddleware(logger,
				observability.CORSMiddleware(cfg.CORSAllowOrigin, mux))))

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Cleaner: cleaner,
		Close: func() error {
			observability.FlushSentry()
			var firstErr error
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i](); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	}, nil
}

// newAttemptStore picks the login attempt backend. The sweeper is nil for
// stores that expire records themselves.
func newAttemptStore(ctx context.Context, cfg *config.Config, database *sql.DB) (auth.AttemptStore, auth.AttemptSweeper, func() error, error) {
	switch cfg.AttemptStore {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return auth.NewRedisAttemptStore(client, "arena", cfg.LoginAttemptRetention), nil, client.Close, nil
	case config.BackendMemory:
		store := auth.NewMemoryAttemptStore()
		return store, store, nil, nil
	default:
		repo := auth.NewRepository(database)
		return repo, repo, nil, nil
	}
}

func newBlobStore(cfg *config.Config, database *sql.DB) (media.Store, error) {
	switch cfg.BlobBackend {
	case config.BackendCloudinary:
		client, err := media.NewCloudinary(cfg.CloudinaryURL)
		if err != nil {
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		return client, nil
	case config.BackendMemory:
		return media.NewMemoryStore(), nil
	default:
		return media.NewPostgresStore(database), nil
	}
}

// router registers every route both at the root and under /api/.
type router struct {
	mux *http.ServeMux
}

func newRouter(mux *http.ServeMux) router {
	return router{mux: mux}
}

func (r router) handle(pattern string, h http.Handler) {
	method, path, _ := strings.Cut(pattern, " ")
	r.mux.Handle(pattern, h)
	r.mux.Handle(method+" /api"+path, h)
}

func (r router) handleFunc(pattern string, h http.HandlerFunc) {
	r.handle(pattern, h)
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
