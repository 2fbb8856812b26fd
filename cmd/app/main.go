package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telegram-outreach-fleet/internal/config"
	"telegram-outreach-fleet/internal/engine"
	aiAdapters "telegram-outreach-fleet/internal/infra/adapters/ai"
	tele "telegram-outreach-fleet/internal/infra/adapters/telegram"
	pg "telegram-outreach-fleet/internal/infra/db/postgres"
	"telegram-outreach-fleet/internal/infra/logging"
	"telegram-outreach-fleet/internal/infra/metrics"
	"telegram-outreach-fleet/internal/infra/ops"
	"telegram-outreach-fleet/internal/infra/proxy"
	red "telegram-outreach-fleet/internal/infra/redis"
	"telegram-outreach-fleet/internal/infra/results"
	"telegram-outreach-fleet/internal/infra/sched"
	"telegram-outreach-fleet/internal/infra/vault"
	"telegram-outreach-fleet/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed redaction)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	taskQueue := red.NewTaskQueue(redisClient, logger)
	sessionLocker := red.NewSessionLocker(redisClient)

	// ---- Session vault ----
	sessionVault, err := vault.New(cfg.Vault.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("vault init failed")
	}

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	accountRepo := pg.NewAccountRepo(pool)
	proxyRepo := pg.NewProxyRepo(pool)
	appRepo := pg.NewTelegramAppRepo(pool)
	campaignRepo := pg.NewCampaignRepo(pool)
	targetRepo := pg.NewTargetRepo(pool)
	dialogueRepo := pg.NewDialogueRepo(pool)
	warmupRepo := pg.NewWarmupRepo(pool)

	// ---- AI provider chain ----
	openAI, err := aiAdapters.NewOpenAIProvider(cfg.AI.OpenAIKey, cfg.AI.BaseURL, cfg.AI.Proxy, cfg.AI.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("openai provider init failed")
	}
	llm := aiAdapters.NewFallbackProvider(openAI, cfg.AI.DefaultModel, cfg.AI.FallbackModel, logger)
	processor := engine.NewProcessor(llm, logger)

	// ---- Metrics ----
	metrics.MustRegister()

	// ---- Fleet ----
	deps := worker.Deps{
		Accounts:  accountRepo,
		Proxies:   proxyRepo,
		Apps:      appRepo,
		Campaigns: campaignRepo,
		Targets:   targetRepo,
		Dialogues: dialogueRepo,
		Warmups:   warmupRepo,
		Tx:        txManager,
		Queue:     taskQueue,
		Clients:   tele.NewFactory(sessionVault, logger),
		Engine:    processor,
		Results:   results.NewRecorder(cfg.Results.Dir, logger),
		Locker:    sessionLocker,
		Log:       logger,
	}
	manager := worker.NewManager(deps, cfg.Fleet)

	// ---- Periodic jobs ----
	registry := proxy.NewRegistry(proxyRepo, proxy.NewHTTPChecker(), logger)
	scheduler := sched.New(accountRepo, registry, logger)
	scheduler.Start(ctx)

	// ---- Ops server ----
	opsServer := ops.NewServer(cfg.Ops.Port, func(ctx context.Context) interface{} {
		return manager.Stats(ctx)
	}, logger)
	opsServer.Start()

	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("manager start failed")
	}

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	manager.Stop(shutdownCtx)
	scheduler.Stop()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ops server shutdown failed")
	}
	cancel()
}
