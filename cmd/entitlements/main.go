package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pairlingo/entitlements/internal/billing"
	"github.com/pairlingo/entitlements/internal/billing/revenuecat"
	"github.com/pairlingo/entitlements/internal/billing/stripeprovider"
	"github.com/pairlingo/entitlements/internal/config"
	"github.com/pairlingo/entitlements/internal/domain/accounts"
	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/ledger"
	"github.com/pairlingo/entitlements/internal/domain/notifications"
	"github.com/pairlingo/entitlements/internal/domain/partner"
	"github.com/pairlingo/entitlements/internal/domain/quota"
	"github.com/pairlingo/entitlements/internal/infra/alert"
	"github.com/pairlingo/entitlements/internal/infra/db"
	httpx "github.com/pairlingo/entitlements/internal/infra/http"
	"github.com/pairlingo/entitlements/internal/infra/logger"
	"github.com/pairlingo/entitlements/internal/infra/metrics"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

func productTable(mappings []config.ProductMapping) billing.ProductTable {
	t := make(billing.ProductTable, len(mappings))
	for _, m := range mappings {
		t[m.ID] = billing.PlanRef{
			Plan:   entitlement.Plan(m.Plan),
			Period: entitlement.Period(m.Period),
		}
	}
	return t
}

func main() {
	cfg, err := config.Load("config/example.yaml")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	mets := metrics.New(prometheus.DefaultRegisterer)

	alerts, err := alert.New(cfg.Telegram.Token, cfg.Telegram.AdminChatID, log)
	if err != nil {
		log.Error("telegram alerter init failed", "err", err)
		return
	}
	if alerts == nil {
		log.Info("telegram alerts disabled")
	}

	accountRepo := accounts.NewRepo(pool)
	ledgerRepo := ledger.NewRepo(pool, log, cfg.Ledger.FailOpenOnError)
	quotaRepo := quota.NewRepo(pool)
	inviteRepo := partner.NewRepo(pool)
	notifyRepo := notifications.NewRepo(pool)

	cascader := entitlement.NewCascader(accountRepo, log, alerts)
	processor := billing.NewProcessor(accountRepo, ledgerRepo, cascader, mets, alerts, log)
	quotaSvc := quota.NewService(quotaRepo, log, mets)
	partnerSvc := partner.NewService(accountRepo, inviteRepo, notifyRepo, alerts, log)

	stripeHandler := stripeprovider.NewHandler(
		cfg.Stripe.WebhookSecret,
		stripeprovider.NewNormalizer(productTable(cfg.Stripe.Prices), stripeprovider.NewAPIFetcher(cfg.Stripe.APIKey)),
		processor,
		log,
	)
	rcHandler := revenuecat.NewHandler(
		cfg.RevenueCat.WebhookSecret,
		revenuecat.NewNormalizer(productTable(cfg.RevenueCat.Products)),
		processor,
		log,
	)

	gate := httpx.NewQuotaGate(quotaSvc, accountRepo, log)
	srv := httpx.New(cfg.HTTP.Addr, httpx.Deps{
		Stripe:        stripeHandler,
		RevenueCat:    rcHandler,
		Accounts:      httpx.NewAccountHandlers(accountRepo, partnerSvc, quotaSvc, notifyRepo, log),
		Admin:         httpx.NewAdminHandlers(ledgerRepo, log),
		Gate:          gate,
		ServiceToken:  cfg.HTTP.ServiceToken,
		ExposeMetrics: cfg.Metrics.Enabled,
	})

	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
