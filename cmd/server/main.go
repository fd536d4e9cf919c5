package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/digkill/leadmail/internal/api"
	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/database"
	"github.com/digkill/leadmail/internal/limiter"
	"github.com/digkill/leadmail/internal/llm"
	"github.com/digkill/leadmail/internal/metrics"
	"github.com/digkill/leadmail/internal/notify"
	"github.com/digkill/leadmail/internal/payment"
	"github.com/digkill/leadmail/internal/prompt"
	"github.com/digkill/leadmail/internal/queue"
	"github.com/digkill/leadmail/internal/repository"
	"github.com/digkill/leadmail/internal/service"
	"github.com/digkill/leadmail/internal/storage"
	"github.com/digkill/leadmail/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	runRepo := repository.NewPromptRunRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)

	limiterSettings := limiter.Settings{
		Window:        cfg.RateWindow,
		MaxRequests:   cfg.RateMaxRequests,
		MaxConcurrent: cfg.MaxConcurrentJobs,
	}
	var lim limiter.Limiter = limiter.NewMemory(limiterSettings)
	if cfg.LimiterBackend == "mysql" {
		lim = limiter.NewSQL(db, limiterSettings)
	}

	counter, err := prompt.NewCounter()
	if err != nil {
		log.Fatalf("token counter: %v", err)
	}

	m := metrics.New()
	llmClient := llm.NewClient(cfg, logr)

	genDeps := service.GenerationDeps{
		Limiter:   lim,
		Users:     userRepo,
		Templates: templateRepo,
		Moderator: llmClient,
		Completer: llmClient,
		Counter:   counter,
		Metrics:   m,
	}
	if cfg.S3Enabled() {
		archiver, err := storage.NewRunArchiver(storage.ConfigFrom(cfg))
		if err != nil {
			log.Fatalf("run archiver: %v", err)
		}
		genDeps.Archiver = archiver
	}

	var notifier service.PurchaseNotifier
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg, logr)
		if err != nil {
			log.Fatalf("telegram notifier: %v", err)
		}
		notifier = tg
	}

	apiDeps := api.Deps{Metrics: m}
	var paymentService *service.PaymentService
	if cfg.StripeEnabled() {
		stripeClient, err := payment.NewStripe(cfg)
		if err != nil {
			log.Fatalf("stripe: %v", err)
		}
		paymentService = service.NewPaymentService(cfg, logr, userRepo, stripeClient, notifier, m)
		apiDeps.Webhooks = stripeClient
	} else {
		paymentService = service.NewPaymentService(cfg, logr, userRepo, nil, notifier, m)
	}

	generationService := service.NewGenerationService(cfg, logr, genDeps)
	apiDeps.Generator = generationService
	apiDeps.Leads = service.NewLeadService(cfg, logr, leadRepo, userRepo)
	apiDeps.Users = service.NewUserService(userRepo, purchaseRepo, runRepo)
	apiDeps.Templates = service.NewTemplateService(logr, templateRepo)
	apiDeps.Analytics = service.NewAnalyticsService(purchaseRepo)
	apiDeps.Payments = paymentService

	if cfg.RabbitMQEnabled() {
		consumer := queue.NewBillingConsumer(cfg, logr, paymentService)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("billing consumer stopped", "err", err)
			}
		}()
	}

	logr.Info("starting leadmail", "limiter", cfg.LimiterBackend, "model", llmClient.Model(),
		"stripe", cfg.StripeEnabled(), "s3", cfg.S3Enabled(), "telegram", cfg.TelegramEnabled(), "rabbitmq", cfg.RabbitMQEnabled())

	server := api.NewServer(cfg, logr, apiDeps)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
	}
	generationService.Wait()
}
