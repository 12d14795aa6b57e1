package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/middlewares"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/reconcile"
	"github.com/mmdatafocus/catalog_sync/utils"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("CATALOG_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	settings, err := config.LoadReconcileSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err)
	}
	provider, err := reconcile.NewHTTPProviderFromEnv()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "provider"}).Fatal(err)
	}

	// Start listening immediately; until dependencies are ready only /healthz answers.
	var handler atomic.Value
	handler.Store(http.Handler(bootRouter()))
	srv := &http.Server{
		Addr: ":" + port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.Load().(http.Handler).ServeHTTP(w, r)
		}),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	opts := reconcile.Options{
		Provider: provider,
		Logger:   logger,
		Settings: settings,
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("CATALOG_BACKEND")), "memory") {
		logger.WithFields(logrus.Fields{"field": "catalog"}).Warn("CATALOG_BACKEND=memory; records are not persisted")
		opts.Catalog = reconcile.NewMemoryCatalog()
	} else {
		config.ConnectDatabaseWithRetry()
		db := config.GetDB()
		sqlDB, _ := db.DB()
		defer func() {
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		}()
		if !config.EnvBoolDefault("SKIP_MIGRATIONS", false) {
			if err := models.MigrateTable(db); err != nil {
				logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
			}
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}
		opts.Catalog = models.NewGormCatalog(db)
		opts.Journal = models.NewGormJournal(db)
	}

	if config.EnvBoolDefault("REDIS_ENABLED", true) {
		redisCtx, cancelRedis := context.WithTimeout(sigCtx, 2*time.Minute)
		config.ConnectRedisWithRetry(redisCtx)
		cancelRedis()
		if locker := config.GetRedisLock(); locker != nil && config.EnvBoolDefault("RECONCILE_DISTRIBUTED_LOCK", true) {
			opts.ScopeLocker = reconcile.NewRedisScopeLocker(locker, settings.AllLockTTL, logger)
		}
	}

	svc, err := reconcile.NewService(opts)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "reconcile"}).Fatal(err)
	}
	if err := svc.Restore(sigCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "reconcile"}).Fatal(err)
	}

	scheduler, err := reconcile.NewScheduler(svc, settings, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "scheduler"}).Fatal(err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler.Store(http.Handler(apiRouter(svc, logger)))
	logger.WithFields(logrus.Fields{"port": port, "jobs": scheduler.Entries()}).Info("catalog sync service ready")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func bootRouter() *gin.Engine {
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.NoRoute(func(c *gin.Context) { c.AbortWithStatus(http.StatusServiceUnavailable) })
	return r
}

func apiRouter(svc *reconcile.Service, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(func(c *gin.Context) {
		if c.GetHeader("token") == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token := strings.TrimSpace(auth[7:])
				if token != "" {
					c.Request.Header.Set("token", token)
				}
			}
		}
		c.Next()
	})
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/reconcile", middlewares.RequireOperator())
	if config.EnvBoolDefault("RATE_LIMIT_ENABLED", false) {
		if rdb := config.GetRedisDB(); rdb != nil {
			api.Use(middlewares.NewRateLimiterFromEnv(rdb).Middleware())
		}
	}
	reconcile.RegisterRoutes(api, svc)
	api.POST("/logout", middlewares.LogoutHandler())

	// Pub/Sub push endpoint for queued sync requests. Off by default, token-guarded when on.
	r.POST("/pubsub/reconcile-sync", reconcile.PubSubPushHandler(svc))
	if config.EnvBoolDefault("RECONCILE_SYNC_VIA_PUBSUB", false) && !config.EnvBoolDefault("ENABLE_RECONCILE_PUBSUB_PUSH_ENDPOINT", false) {
		logger.Warn("RECONCILE_SYNC_VIA_PUBSUB is set but the push endpoint is disabled; published requests need another instance to run them")
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		fields := logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}
		if len(c.Errors) > 0 {
			logger.WithFields(fields).Error(c.Errors.String())
			return
		}
		logger.WithFields(fields).Info("request")
	}
}
