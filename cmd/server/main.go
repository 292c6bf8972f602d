package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/madcti/cti-go/internal/aggregate"
	"github.com/madcti/cti-go/internal/classify"
	"github.com/madcti/cti-go/internal/feeds"
	"github.com/madcti/cti-go/internal/handlers"
	"github.com/madcti/cti-go/internal/llm"
	"github.com/madcti/cti-go/internal/pipeline"
	"github.com/madcti/cti-go/internal/predict"
	"github.com/madcti/cti-go/internal/ratelimit"
	"github.com/madcti/cti-go/internal/server"
	"github.com/madcti/cti-go/internal/store"
	"github.com/madcti/cti-go/internal/translate"
	"github.com/madcti/cti-go/internal/ws"
)

func main() {
	cfg := server.ConfigFromEnv()
	logger := server.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run history store (optional)
	var st *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		st, err = store.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer st.Close()
	} else {
		logger.Warn("DATABASE_URL not set, run history disabled")
	}

	// AI provider chain, in fallback order
	builders := []func() (llm.Provider, error){
		func() (llm.Provider, error) { return llm.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel) },
		func() (llm.Provider, error) { return llm.NewGroq(cfg.GroqKey) },
		func() (llm.Provider, error) { return llm.NewAnthropic(cfg.AnthropicKey, cfg.AnthropicModel) },
	}
	var providers []llm.Provider
	for _, build := range builders {
		if p, err := build(); err == nil {
			providers = append(providers, p)
		} else {
			logger.Warn("llm provider not configured", "err", err)
		}
	}
	invoker := llm.NewInvoker(logger, providers...)
	logger.Info("llm provider chain", "providers", invoker.ProviderNames())

	// Prediction model artifact (optional)
	var model *predict.Artifact
	if m, err := predict.LoadArtifact(cfg.ModelDir); err == nil {
		model = m
		logger.Info("prediction model loaded", "model", m.ModelName)
	} else {
		logger.Warn("prediction model unavailable, using deterministic gaps", "err", err)
	}

	classifier, err := classify.NewEngine(logger)
	if err != nil {
		logger.Error("failed to build classification engine", "err", err)
		os.Exit(1)
	}

	wsManager := ws.NewManager(st, logger)

	orch := pipeline.New(logger, wsManager,
		feeds.NewCollector(logger, invoker, feeds.DefaultSources(cfg.NVDAPIKey, cfg.TorProxyURL)...),
		translate.NewStage(invoker, logger),
		classifier,
		predict.NewEngine(logger, model),
		aggregate.NewEngine(logger),
	)

	limiter := ratelimit.New()
	analyzeHandler := handlers.NewAnalyzeHandler(orch, st, wsManager, limiter, logger)
	exportHandler := handlers.NewExportHandler(limiter, logger)
	runsHandler := handlers.NewRunsHandler(st, logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", handlers.Health)
	r.Get("/ws", wsManager.HandleWS)
	r.Route("/api", func(api chi.Router) {
		api.Post("/analyze", analyzeHandler.Analyze)
		api.Post("/export", exportHandler.Export)
		api.Get("/runs", runsHandler.ListRuns)
	})

	if st != nil {
		go server.RunWithRecovery(ctx, logger, "archive-pruner", st.PruneLoop)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // analysis runs and WebSocket need unbounded write time
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// corsMiddleware allows the dashboard frontend to call the API from another
// origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
