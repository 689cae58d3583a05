package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weatherwise/weather-store/internal/api"
	"github.com/weatherwise/weather-store/internal/config"
	"github.com/weatherwise/weather-store/internal/ingestion"
	"github.com/weatherwise/weather-store/internal/logging"
	"github.com/weatherwise/weather-store/internal/observability"
	"github.com/weatherwise/weather-store/internal/realtime"
	"github.com/weatherwise/weather-store/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "driver", cfg.DB.Driver)

	clock := clockwork.NewRealClock()
	var st store.Store
	switch cfg.DB.Driver {
	case "postgres":
		st, err = store.NewPostgres(cfg.DB.DSN, clock)
	default:
		st, err = store.NewSQLite(cfg.DB.Path, clock)
	}
	if err != nil {
		logging.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fan-out for SSE subscribers on the alert feed
	broadcaster := realtime.NewBroadcaster()

	// Provider poller; only polls when OPENWEATHER_ENABLED is set
	client := ingestion.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey)
	mgr := ingestion.NewManager(cfg, st, client, metrics)
	mgr.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(10))

	handler := api.NewHandler(st, broadcaster, metrics)
	handler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	broadcaster.Close() // Close all streams gracefully

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
