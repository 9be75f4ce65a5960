package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"researchdesk/config"
	"researchdesk/internal/runtime"
	"researchdesk/internal/scoring"
	"researchdesk/internal/secrets"
	"researchdesk/internal/store"
)

// Run wires the API server and blocks until the context is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		logger.Printf("warn: migrations: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	cipher, err := secrets.New(cfg.Encryption.Key, cfg.Encryption.IV)
	if err != nil {
		return fmt.Errorf("encryption config: %w", err)
	}
	recalc := &scoring.Recalculator{Store: st, Logger: logger}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(secret))
	me.GET("", func(c echo.Context) error {
		userID, _ := runtime.UserID(c)
		return c.JSON(http.StatusOK, MeResponse{UserID: userID})
	})

	(&TeamsHandler{Store: st}).Register(api.Group("/teams"), secret)
	(&SecuritiesHandler{Store: st}).Register(api.Group("/securities"), secret)
	(&ResearchHandler{Store: st, Recalc: recalc}).Register(api.Group("/research"), secret)
	(&AgentsHandler{Store: st, Cipher: cipher}).Register(api.Group("/agents"), secret)

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	var sched *Scheduler
	if cfg.Scheduler.Enabled {
		sched = &Scheduler{
			Store:  st,
			Recalc: recalc,
			Rdb:    rdb,
			Logger: logger,
			Cron:   cfg.Scheduler.RecalcCron,
			Stop:   make(chan struct{}),
		}
		sched.Start()
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10020"
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if sched != nil {
			close(sched.Stop)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
