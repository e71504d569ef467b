package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PostMiniApp/internal/api"
	"github.com/digkill/PostMiniApp/internal/cache"
	"github.com/digkill/PostMiniApp/internal/config"
	"github.com/digkill/PostMiniApp/internal/database"
	"github.com/digkill/PostMiniApp/internal/kie"
	"github.com/digkill/PostMiniApp/internal/llm"
	"github.com/digkill/PostMiniApp/internal/metrics"
	"github.com/digkill/PostMiniApp/internal/orchestrator"
	"github.com/digkill/PostMiniApp/internal/repository"
	"github.com/digkill/PostMiniApp/internal/scrape"
	"github.com/digkill/PostMiniApp/internal/service"
	"github.com/digkill/PostMiniApp/internal/storage"
	"github.com/digkill/PostMiniApp/internal/telegram"
	"github.com/digkill/PostMiniApp/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)
	m := metrics.Registry(cfg.MetricsNS)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.OutboxDriver, cfg.OutboxDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, cfg.OutboxDriver); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	var identityCache repository.IdentityCache
	if cfg.RedisAddr != "" {
		rdb := cache.New(cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, logr)
		defer rdb.Close()
		if err := rdb.Ping(ctx); err != nil {
			logr.Warn("redis unavailable, identity cache disabled", "err", err)
		} else {
			identityCache = rdb
		}
	}

	supabase, err := repository.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey)
	if err != nil {
		log.Fatalf("supabase: %v", err)
	}
	rpc := repository.NewRPCClient(cfg.SupabaseURL, cfg.SupabaseKey)

	userRepo := repository.NewUserRepository(supabase, identityCache, cfg.IdentityTTL, logr)
	ledgerRepo := repository.NewLedgerRepository(supabase, rpc)
	postRepo := repository.NewPostRepository(supabase)
	debitRepo := repository.NewDebitRepository(db)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	llmClient := llm.NewClient(cfg, m, logr)
	kieClient := kie.NewClient(cfg, logr)
	scrapeClient := scrape.NewClient(cfg, m, logr)

	outbox := service.NewOutbox(debitRepo, ledgerRepo, m, logr, cfg.OutboxFlushInterval, cfg.OutboxBatchSize, cfg.OutboxMaxAttempts)
	ledger := service.NewLedgerService(ledgerRepo, outbox, m, logr)
	generation := service.NewGenerationService(ledger, llmClient, kieClient, uploader, cfg.Prices, service.GenerationOptions{
		ImageMaxAttempts: cfg.ImageMaxAttempts,
		ImageRetryDelay:  cfg.ImageRetryDelay,
		ImageDeadline:    cfg.ImageDeadline,
	}, logr)
	analysis := service.NewAnalysisService(ledger, scrapeClient, llmClient, uploader, cfg.Prices, logr)
	speech := service.NewSpeechService(ledger, llmClient, cfg.Prices, cfg.SpeechMaxAttempts, cfg.SpeechBaseDelay, logr)

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Generation:       generation,
		Analysis:         analysis,
		Speech:           speech,
		Ledger:           ledger,
		Sessions:         postRepo,
		Notifier:         telegram.NewNotifier(botAPI),
		Metrics:          m,
		Logger:           logr,
		VoiceMaxDuration: cfg.VoiceMaxDuration,
	}, cfg.LaunchIdleTTL)

	go outbox.Run(ctx)
	go registry.Run(ctx)

	server := api.NewServer(api.Options{
		Addr:          cfg.ListenAddr,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	}, logr, userRepo, registry, debitRepo, outbox)
	go func() {
		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("api server stopped", "err", err)
			stop()
		}
	}()

	bot := telegram.NewBot(botAPI, logr, userRepo, ledgerRepo, cfg.MiniAppURL)
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
