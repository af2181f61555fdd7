// Concord negotiation server: exposes the HTTP API, runs the negotiation
// engine and streams per-negotiation events over WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/concordhq/concord/pkg/api"
	"github.com/concordhq/concord/pkg/archive"
	"github.com/concordhq/concord/pkg/cleanup"
	"github.com/concordhq/concord/pkg/config"
	"github.com/concordhq/concord/pkg/encoder"
	"github.com/concordhq/concord/pkg/engine"
	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/llm"
	"github.com/concordhq/concord/pkg/models"
	"github.com/concordhq/concord/pkg/profile"
	"github.com/concordhq/concord/pkg/registry"
	"github.com/concordhq/concord/pkg/resonance"
	"github.com/concordhq/concord/pkg/services"
	"github.com/concordhq/concord/pkg/session"
	"github.com/concordhq/concord/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting Concord",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"model", cfg.Model,
		"embed_model", cfg.EmbedModel,
		"default_scope", cfg.DefaultScope)

	ctx := context.Background()

	// Reasoning and embedding clients.
	reasoner, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.Model,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		slog.Error("Failed to initialize reasoning client", "error", err)
		os.Exit(1)
	}
	enc, err := encoder.NewOpenAIEncoder(encoder.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.EmbedModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		slog.Error("Failed to initialize encoder", "error", err)
		os.Exit(1)
	}

	// Registries, with precomputed vectors when an archive is configured.
	agents := registry.NewAgentRegistry(enc, slog.Default())
	scenes := registry.NewSceneRegistry(agents)
	if cfg.VectorsFile != "" {
		if err := agents.LoadVectors(cfg.VectorsFile); err != nil {
			slog.Error("Failed to load precomputed vectors", "path", cfg.VectorsFile, "error", err)
			os.Exit(1)
		}
	}

	// Agents answer in their own voice through the registry-backed twin.
	profiles := profile.NewTwinSource(agents, reasoner)

	store := session.NewManager()
	connManager := events.NewConnectionManager(store, 10*time.Second)

	// Optional archive sink.
	var sink archive.Sink
	if cfg.ArchiveEnabled {
		pgSink, err := archive.NewPostgresSink(ctx, archive.Config{
			Host:     cfg.ArchiveHost,
			Port:     cfg.ArchivePort,
			User:     cfg.ArchiveUser,
			Password: cfg.ArchivePassword,
			Database: cfg.ArchiveDatabase,
			SSLMode:  cfg.ArchiveSSLMode,
		}, slog.Default())
		if err != nil {
			slog.Error("Failed to initialize archive", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := pgSink.Close(); err != nil {
				slog.Error("Error closing archive", "error", err)
			}
		}()
		sink = pgSink
		slog.Info("Archive connected", "host", cfg.ArchiveHost, "database", cfg.ArchiveDatabase)
	}

	eng := engine.New(models.SessionConfig{
		OfferTimeout:         cfg.OfferTimeout,
		ConfirmTimeout:       cfg.ConfirmTimeout,
		MaxCoordinatorRounds: cfg.MaxCoordinatorRounds,
	}, slog.Default())

	negotiations := services.NewNegotiationService(services.Options{
		Store:        store,
		Engine:       eng,
		Agents:       agents,
		Scenes:       scenes,
		Profiles:     profiles,
		Reasoner:     reasoner,
		Encoder:      enc,
		Detector:     resonance.NewDetector(),
		Skills:       engine.DefaultSkills(),
		Archive:      sink,
		KStar:        cfg.KStar,
		MinScore:     cfg.MinScore,
		DefaultScope: cfg.DefaultScope,
	})

	// Bound process memory; the archive keeps the durable record.
	janitor := cleanup.NewService(store, cfg.SessionRetention, cfg.CleanupInterval, slog.Default())
	janitor.Start(ctx)
	defer janitor.Stop()

	server := api.NewServer(negotiations, store, agents, scenes, connManager, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.HTTPPort); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Cancel running negotiations, then drain HTTP.
	negotiations.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
