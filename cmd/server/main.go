package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/incidentsuite/backend/internal/app"
	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/metrics"
	"github.com/incidentsuite/backend/internal/middleware"
	"github.com/incidentsuite/backend/internal/routes"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := "http://localhost:5173"
		if corsOrigin := os.Getenv("CORS_ORIGIN"); corsOrigin != "" {
			origin = corsOrigin
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}
	logger.Initialize(cfg.Logging)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal("Failed to register metrics", map[string]interface{}{"error": err.Error()})
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialise application", map[string]interface{}{"error": err.Error()})
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if strings.EqualFold(cfg.Server.GinMode, "release") {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CustomLoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(gin.Recovery())

	deps := routes.Dependencies{
		Settings:  application.Settings,
		Factory:   application.Factory,
		Tracker:   application.Tracker,
		Runner:    application.Pipeline,
		Store:     application.History,
		DB:        application.DB,
		JWTSecret: cfg.Server.JWTSecret,
	}
	if application.Watcher != nil {
		deps.Watcher = application.Watcher
	}
	routes.SetupRoutes(r, deps)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting incident suite server", map[string]interface{}{
			"port":     cfg.Server.Port,
			"gin_mode": gin.Mode(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return application.RunWatcher(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server gracefully...", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
			return err
		}
		logger.Info("Server exited gracefully", nil)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
