package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/agent"
	"github.com/quarrylabs/quarry-agent/pkg/auth"
	"github.com/quarrylabs/quarry-agent/pkg/config"
	"github.com/quarrylabs/quarry-agent/pkg/executor"
	"github.com/quarrylabs/quarry-agent/pkg/handlers"
	"github.com/quarrylabs/quarry-agent/pkg/limiter"
	"github.com/quarrylabs/quarry-agent/pkg/llm"
	"github.com/quarrylabs/quarry-agent/pkg/logging"
	mcpserver "github.com/quarrylabs/quarry-agent/pkg/mcp"
	mcpauth "github.com/quarrylabs/quarry-agent/pkg/mcp/auth"
	"github.com/quarrylabs/quarry-agent/pkg/middleware"
	"github.com/quarrylabs/quarry-agent/pkg/retry"
	"github.com/quarrylabs/quarry-agent/pkg/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("store", logging.SanitizeConnectionString(cfg.Store.ConnectionString())),
		zap.String("model_provider", cfg.Model.Provider),
		zap.String("model", cfg.Model.Name),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification))

	ctx := context.Background()

	st, err := store.New(ctx, &cfg.Store)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close() //nolint:errcheck

	// The mock store serves fixtures from memory and needs no concurrency cap.
	var lim *limiter.Limiter
	if cfg.Store.Driver != "mock" {
		lim = limiter.New(cfg.Store.Concurrency)
	}
	exec := executor.New(st, lim, time.Duration(cfg.Store.QueryTimeoutMs)*time.Millisecond, logger)

	modelClient, err := llm.NewClient(&cfg.Model, logger)
	if err != nil {
		logger.Fatal("failed to build model client", zap.Error(err))
	}

	catalog := agent.DefaultCatalog()
	runner := agent.NewToolRunner(exec, catalog, cfg.Agent.MaxRows, logger)
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Model.MaxRetries
	orchestrator := agent.New(&agent.Config{
		Client:       modelClient,
		Runner:       runner,
		Catalog:      catalog,
		MaxToolCalls: cfg.Agent.MaxToolCalls,
		MaxRows:      cfg.Agent.MaxRows,
		Retry:        retryCfg,
		Logger:       logger,
	})

	authMW := auth.NewMiddleware(&cfg.Auth, logger)

	mux := http.NewServeMux()
	chatHandler := handlers.NewChatHandler(orchestrator,
		time.Duration(cfg.Agent.RequestTimeoutMs)*time.Millisecond, cfg.Agent.DeepResearch, logger)
	handlers.RegisterRoutes(mux, chatHandler, handlers.NewHealthHandler(cfg.Version), authMW)

	// The MCP transport shares the runner, so external agents hit the same
	// guard and executor as chat turns.
	mcpSrv := mcpserver.NewServer("quarry-agent", cfg.Version, runner, catalog, logger)
	mcpHTTP := middleware.MCPRequestLogger(logger.Named("mcp"))(
		mcpauth.NewMiddleware(authMW, logger).RequireTenant(mcpSrv.NewStreamableHTTPServer()))
	mux.Handle("/mcp", mcpHTTP)

	handler := middleware.RequestLogger(logger.Named("http"))(mux)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting quarry-agent",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	// In-flight turns get a grace period to finish streaming.
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not complete cleanly", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
