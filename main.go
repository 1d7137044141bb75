// Command nomi-bridge runs the character-chat bridge: it polls selected
// characters for new messages, answers their questions through a completion
// API, and records every handled message in Postgres. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the background poll job.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics,
//     the record feed, and the action surface.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/nomi-bridge/bridge"
	"github.com/onnwee/nomi-bridge/config"
	"github.com/onnwee/nomi-bridge/db"
	"github.com/onnwee/nomi-bridge/nomiapi"
	"github.com/onnwee/nomi-bridge/openaiapi"
	"github.com/onnwee/nomi-bridge/server"
	"github.com/onnwee/nomi-bridge/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("nomi-bridge", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to the embedded SQL for
	// deployments predating the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stored credentials fill in for absent env keys (the "system" user is
	// the shared fallback identity written by the set_credential action).
	if cfg.NomiAPIKey == "" {
		if key, _, err := db.GetCredential(ctx, database, "system", db.ProviderNomi); err == nil && key != "" {
			cfg.NomiAPIKey = key
			slog.Info("using stored nomi credential", slog.String("user", "system"))
		}
	}
	if cfg.LLMAPIKey == "" {
		if key, model, err := db.GetCredential(ctx, database, "system", db.ProviderLLM); err == nil && key != "" {
			cfg.LLMAPIKey = key
			if cfg.LLMModel == "" {
				cfg.LLMModel = model
			}
			slog.Info("using stored completion credential", slog.String("user", "system"))
		}
	}

	upstreamClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	chat := &nomiapi.Client{APIKey: cfg.NomiAPIKey, BaseURL: cfg.NomiBaseURL, HTTPClient: upstreamClient}
	llm := &openaiapi.Client{APIKey: cfg.LLMAPIKey, Model: cfg.LLMModel, BaseURL: cfg.LLMBaseURL, HTTPClient: upstreamClient}

	store := db.NewStore(database)
	orch := &bridge.Orchestrator{Chat: chat, LLM: llm, Store: store, Timeout: cfg.UpstreamTimeout}
	rooms := &bridge.Membership{Chat: chat, Store: store}

	if err := cfg.ValidatePollReady(); err != nil {
		slog.Warn("poll job disabled until credentials are configured", slog.Any("err", err))
	} else {
		go bridge.StartPollJob(ctx, orch, database, cfg.PollInterval)
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	handlers := server.NewHandlers(ctx, cfg, database, store, chat, orch, rooms)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
