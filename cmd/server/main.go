package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Rrens/postbot/internal/api"
	"github.com/Rrens/postbot/internal/api/handler"
	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/llm"
	"github.com/Rrens/postbot/internal/llm/anthropic"
	"github.com/Rrens/postbot/internal/llm/gemini"
	"github.com/Rrens/postbot/internal/llm/ollama"
	"github.com/Rrens/postbot/internal/llm/openai"
	"github.com/Rrens/postbot/internal/logging"
	"github.com/Rrens/postbot/internal/prioritizer"
	"github.com/Rrens/postbot/internal/recordstore/airtable"
	"github.com/Rrens/postbot/internal/recordstore/mongo"
	"github.com/Rrens/postbot/internal/repository/postgres"
	"github.com/Rrens/postbot/internal/repository/redis"
	"github.com/Rrens/postbot/internal/repository/sqlite"
	"github.com/Rrens/postbot/internal/security"
	"github.com/Rrens/postbot/internal/service"
	"github.com/Rrens/postbot/internal/session"
	"github.com/Rrens/postbot/internal/telegram"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if cfg.Telegram.Token == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN is required")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("mode", cfg.Telegram.Mode).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting postbot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := map[string]handler.Pinger{}

	// Session store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer closeStore()
	ready["store"] = store

	// Redis is optional: it backs the session cache and the rate limiter
	var (
		cache   service.SessionCache
		flusher handler.CacheFlusher
		limiter telegram.RateLimiter
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		ready["redis"] = redisClient

		sessionCache := redis.NewSessionCache(redisClient, cfg.Redis.SessionTTL)
		cache, flusher = sessionCache, sessionCache
		if cfg.Security.RateLimit.RequestsPerMinute > 0 {
			limiter = redis.NewRateLimiter(redisClient, cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
		}
	}

	records, closeRecords, err := openRecords(ctx, cfg.Records)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record store")
	}
	defer closeRecords()

	// LLM providers
	llmRouter := llm.NewRouter(cfg.LLM.DefaultProvider)
	llmRouter.RegisterProvider(openai.NewProvider(cfg.LLM.OpenAI))
	llmRouter.RegisterProvider(gemini.NewProvider(cfg.LLM.Gemini))
	llmRouter.RegisterProvider(anthropic.NewProvider(cfg.LLM.Anthropic))
	llmRouter.RegisterProvider(ollama.NewProvider(cfg.LLM.Ollama))
	if len(llmRouter.Candidates(cfg.LLM.DefaultProvider)) == 0 {
		log.Warn().Msg("No LLM provider is configured, post generation will fail")
	}
	generator := llm.NewGenerator(llmRouter, cfg.LLM.DefaultProvider, cfg.LLM.Timeout)

	// Conversation core
	registry := service.NewRegistry(store, cache)
	machine := session.NewMachine(cfg.Session.Timeout, cfg.Session.MaxInputChars)
	bot := service.NewBot(registry, machine, generator, records, prioritizer.New(cfg.Session.ContextMaxTokens))

	maintainer := service.NewMaintainer(registry, cfg.Session.Retention, cfg.Session.Timeout, cfg.Storage.BackupDir)
	if cfg.Storage.BackupKey != "" {
		enc, err := security.NewEncryptorFromBase64(cfg.Storage.BackupKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid backup encryption key")
		}
		maintainer.WithEncryption(enc)
	}
	go maintainer.Run(ctx, cfg.Session.CleanupInterval)

	// Telegram
	tg := telegram.NewClient(cfg.Telegram)
	dispatcher := telegram.NewDispatcher(tg, bot, cfg.Telegram.MaxFileBytes)
	if limiter != nil {
		dispatcher.WithRateLimit(limiter)
	}
	queue := telegram.NewQueue(ctx, dispatcher, cfg.Telegram.Workers)

	// intake closes once nothing can submit to the queue any more
	intake := make(chan struct{})

	deps := api.Deps{
		Registry:   registry,
		Maintainer: maintainer,
		LLM:        llmRouter,
		JWT:        security.NewJWTManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL, cfg.Admin.Issuer),
		Cache:      flusher,
		Ready:      ready,
	}

	switch cfg.Telegram.Mode {
	case "webhook":
		deps.Webhook = queue
		hookURL := strings.TrimRight(cfg.Telegram.WebhookURL, "/") + "/telegram/webhook/" + cfg.Telegram.WebhookSecret
		if err := tg.SetWebhook(ctx, hookURL, cfg.Telegram.WebhookSecret); err != nil {
			log.Fatal().Err(err).Msg("Failed to register webhook")
		}
		log.Info().Str("url", cfg.Telegram.WebhookURL).Msg("Webhook registered")
	default:
		poller := telegram.NewPoller(tg, queue, cfg.Telegram.PollTimeout)
		go func() {
			defer close(intake)
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Polling stopped")
			}
		}()
	}

	if cfg.Admin.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty, admin API rejects every token")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Shutdown has drained the webhook handlers; in polling mode wait for the poller
	if cfg.Telegram.Mode == "webhook" {
		close(intake)
	}
	select {
	case <-intake:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Poller did not stop in time")
	}
	queue.Stop()

	log.Info().Msg("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (domain.SessionRepository, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
			return nil, nil, err
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewSessionRepository(db.Pool), db.Close, nil
	default:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}

func openRecords(ctx context.Context, cfg config.RecordsConfig) (domain.RecordStore, func(), error) {
	switch cfg.Backend {
	case "airtable":
		if cfg.Airtable.APIKey == "" || cfg.Airtable.BaseID == "" {
			return nil, nil, errors.New("airtable backend needs AIRTABLE_API_KEY and AIRTABLE_BASE_ID")
		}
		return airtable.NewClient(cfg.Airtable), func() {}, nil
	case "mongo":
		store, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close(context.Background()) }, nil
	default:
		return nil, func() {}, nil
	}
}
