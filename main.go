package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/madlen/chatd/config"
	"github.com/madlen/chatd/internal/chat"
	"github.com/madlen/chatd/internal/logging"
	"github.com/madlen/chatd/internal/openrouter"
	"github.com/madlen/chatd/internal/relay"
	"github.com/madlen/chatd/internal/store"
	"github.com/madlen/chatd/internal/tracer"
	v1 "github.com/madlen/chatd/internal/transport/http/v1"
)

func main() {
	cfg := config.Load()

	log := logging.New(cfg.LogFile, cfg.LogLevel)
	defer log.Sync()

	log.Info("starting chatd",
		zap.Int("port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseURL),
		zap.String("relay_url", cfg.RelayURL))

	shutdownTracer := tracer.Init(log)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	provider := openrouter.NewClient(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
		cfg.AppBaseURL, cfg.AppTitle, cfg.LLMTimeout)
	relayClient := relay.NewClient(cfg.RelayURL)

	orch := chat.NewOrchestrator(db, relayClient,
		&chat.LogNotifier{Log: log.Named("notify")}, log.Named("chat"), cfg.FlushInterval)

	relayHandler := relay.NewHandler(provider, cfg.ModelsCacheTTL, log.Named("relay"))
	apiHandler := v1.NewHandler(db, orch, log.Named("api"))

	server := echo.New()
	server.HideBanner = true

	server.Use(middleware.Logger())
	server.Use(middleware.Recover())
	server.Use(middleware.CORS())

	relayHandler.RegisterRoutes(server)
	apiHandler.RegisterRoutes(server)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	log.Info("chatd started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down chatd")

	// Stop any in-flight turn before closing the server so the
	// placeholder is finalized rather than left streaming.
	orch.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shutdown server gracefully", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn("failed to shutdown tracer", zap.Error(err))
	}

	log.Info("chatd stopped")
}
