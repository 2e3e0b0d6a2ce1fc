package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluesky-social/mediamod/automod/cachestore"
	"github.com/bluesky-social/mediamod/automod/countstore"
	"github.com/bluesky-social/mediamod/automod/engine"
	"github.com/bluesky-social/mediamod/automod/escalation"
	"github.com/bluesky-social/mediamod/automod/flagstore"
	"github.com/bluesky-social/mediamod/automod/modrule"
	"github.com/bluesky-social/mediamod/automod/normalize"
	"github.com/bluesky-social/mediamod/automod/reconcile"
	"github.com/bluesky-social/mediamod/automod/reviewqueue"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/automod/setstore"
	"github.com/bluesky-social/mediamod/mediastore"
	"github.com/bluesky-social/mediamod/notifs"
	"github.com/bluesky-social/mediamod/search"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

type Server struct {
	logger     *slog.Logger
	engine     *engine.Engine
	tags       engine.TagLevelSetter
	adminToken string
	// optional dependency check for the health endpoint
	ping func(ctx context.Context) error

	echo  *echo.Echo
	httpd *http.Server
}

type Config struct {
	Logger          *slog.Logger
	RedisURL        string
	SetsFileJSON    string
	SlackWebhookURL string
	// admin endpoints are disabled when empty
	AdminToken      string
	RequiredSources []scan.Source
	CacheTTL        time.Duration
	// indexing is disabled when no hosts are configured
	Search    search.Config
	DBTracing bool
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	ctx := context.Background()
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if len(config.RequiredSources) == 0 {
		return nil, fmt.Errorf("at least one required scan source must be configured")
	}

	if config.DBTracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("enabling database tracing: %w", err)
		}
	}

	store := mediastore.NewGormStore(db)
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("migrating media store: %w", err)
	}

	sets := setstore.NewMemSetStore()
	if config.SetsFileJSON != "" {
		if err := sets.LoadFromFileJSON(config.SetsFileJSON); err != nil {
			return nil, fmt.Errorf("initializing in-process setstore: %v", err)
		}
		logger.Info("loaded set config from JSON", "path", config.SetsFileJSON)
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var flags flagstore.FlagStore
	var queue reviewqueue.ReviewQueue
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb := redis.NewClient(opt)
		// check redis connection
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}
		counters = countstore.NewRedisCountStoreFromClient(rdb)
		cache = cachestore.NewRedisCacheStoreFromClient(rdb, config.CacheTTL)
		flags = flagstore.NewRedisFlagStoreFromClient(rdb)
		queue = &reviewqueue.RedisReviewQueue{Client: rdb}
	} else {
		logger.Warn("redis not configured, using in-process stores")
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(5_000, config.CacheTTL)
		flags = flagstore.NewMemFlagStore()
		queue = reviewqueue.NewMemReviewQueue()
	}

	nm, err := notifs.NewNotificationManager(db)
	if err != nil {
		return nil, fmt.Errorf("initializing notifications: %w", err)
	}

	eng := &engine.Engine{
		Logger:     logger,
		Media:      store,
		Tracker:    store,
		Rules:      store,
		Accounts:   store,
		Resources:  store,
		Normalizer: normalize.DefaultRegistry(),
		Reconciler: &reconcile.Reconciler{
			Logger: logger,
			Dict:   store,
			Rules:  store,
			Cache:  cache,
			Flags:  flags,
			Sets:   sets,
		},
		Escalation:      &escalation.Evaluator{Sets: sets},
		ModRules:        modrule.NewEngine(logger),
		Sets:            sets,
		Counters:        counters,
		Notifier:        nm,
		Queue:           queue,
		RequiredSources: config.RequiredSources,
	}

	if len(config.Search.Hosts) > 0 {
		escli, err := search.NewClient(config.Search)
		if err != nil {
			return nil, fmt.Errorf("failed to get opensearch: %w", err)
		}
		idx := search.NewIndexer(escli, config.Search.Index, logger)
		if err := idx.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		eng.Search = idx
	} else {
		logger.Info("opensearch not configured, search indexing disabled")
	}

	if config.SlackWebhookURL != "" {
		eng.Alerts = engine.NewSlackNotifier(config.SlackWebhookURL)
	}

	srv := newServer(eng, store, logger, config.AdminToken)
	// registers collectors globally, so only once per process
	srv.echo.Use(echoprometheus.NewMiddleware("sieve"))
	srv.ping = func(ctx context.Context) error {
		sqldb, err := db.DB()
		if err != nil {
			return err
		}
		return sqldb.PingContext(ctx)
	}
	return srv, nil
}

// Sets up HTTP routing around an already-configured engine.
func newServer(eng *engine.Engine, tags engine.TagLevelSetter, logger *slog.Logger, adminToken string) *Server {
	e := echo.New()
	srv := &Server{
		logger:     logger,
		engine:     eng,
		tags:       tags,
		adminToken: adminToken,
		echo:       e,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("sieve"))
	e.Use(middleware.BodyLimit("4M"))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)

	e.POST("/webhooks/scan-result", srv.HandleScanResult)
	e.POST("/webhooks/hive/:mediaID", srv.HandleHiveResult)

	admin := e.Group("/admin", srv.checkAdminAuth)
	admin.GET("/stats", srv.HandleStats)
	admin.PUT("/tags/:name/level", srv.HandleSetTagLevel)
	admin.POST("/ignore/:source/:name", srv.HandleIgnoreTag)
	admin.DELETE("/ignore/:source/:name", srv.HandleIgnoreTag)

	return srv
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Serves HTTP until SIGINT or SIGTERM, then drains in-flight side effects.
func (srv *Server) Run(bind string) error {
	srv.httpd = &http.Server{
		Handler:        srv.echo,
		Addr:           bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("starting server", "bind", bind)
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exitSignals:
		srv.logger.Info("received OS exit signal", "signal", sig)
	case err := <-errCh:
		srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
		return err
	}

	if err := srv.Shutdown(); err != nil {
		srv.logger.Error("HTTP server shutdown error", "err", err)
	}
	srv.engine.Wait()
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("sieve-http-internal-error", "err", err)
	}
	if err := c.JSON(code, errorBody{Error: msg}); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}
