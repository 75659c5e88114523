package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/auth"
	"github.com/modulpintar/modulpintar-server/internal/billing"
	billingpg "github.com/modulpintar/modulpintar-server/internal/billing/postgres"
	billingsql "github.com/modulpintar/modulpintar-server/internal/billing/sqlite"
	"github.com/modulpintar/modulpintar-server/internal/config"
	"github.com/modulpintar/modulpintar-server/internal/generator"
	"github.com/modulpintar/modulpintar-server/internal/generator/gemini"
	"github.com/modulpintar/modulpintar-server/internal/generator/loopback"
	"github.com/modulpintar/modulpintar-server/internal/hooks"
	"github.com/modulpintar/modulpintar-server/internal/httpserver"
	"github.com/modulpintar/modulpintar-server/internal/ledger"
	ledgerpg "github.com/modulpintar/modulpintar-server/internal/ledger/postgres"
	ledgersql "github.com/modulpintar/modulpintar-server/internal/ledger/sqlite"
	"github.com/modulpintar/modulpintar-server/internal/logging"
	"github.com/modulpintar/modulpintar-server/internal/mail"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
	pricingpg "github.com/modulpintar/modulpintar-server/internal/pricing/postgres"
	pricingsql "github.com/modulpintar/modulpintar-server/internal/pricing/sqlite"
	"github.com/modulpintar/modulpintar-server/internal/safety"
	"github.com/modulpintar/modulpintar-server/internal/store"
	"github.com/modulpintar/modulpintar-server/internal/userstore"
	userstorepg "github.com/modulpintar/modulpintar-server/internal/userstore/postgres"
	userstoresql "github.com/modulpintar/modulpintar-server/internal/userstore/sqlite"
)

func main() {
	cfg, err := config.LoadServerConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logTarget := strings.TrimSpace(cfg.LogFile)
	if logTarget != "" {
		rot, err := logging.NewWriter(logTarget, logging.DefaultMaxBytes)
		if err != nil {
			log.Fatalf("init log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[modulpintard] ")
		defer rot.Close()
	}

	users, pricingStore, billingStore, ledgerStore, err := openStores(cfg.Database)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer users.Close()
	defer pricingStore.Close()
	defer billingStore.Close()
	defer ledgerStore.Close()

	authManager := auth.NewManager(cfg.AuthSecret, cfg.TokenTTL, cfg.RootAdminEmail, cfg.RootAdminPassword)
	if cfg.RootAdminEmail == "" {
		log.Printf("root admin disabled: no root_admin_email configured")
	}

	var engine generator.Generator
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		g, err := gemini.New(gemini.Config{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
		})
		if err != nil {
			log.Fatalf("gemini init: %v", err)
		}
		engine = g
	} else {
		log.Printf("no gemini_api_key configured; using loopback engine")
		engine = loopback.New()
	}
	log.Printf("generation engine: %s", engine.Name())

	checker := safety.Default()
	if cfg.SafetyRulesFile != "" {
		checker, err = safety.Load(cfg.SafetyRulesFile)
		if err != nil {
			log.Fatalf("load safety rules: %v", err)
		}
		log.Printf("safety rules loaded from %s (%d rules)", cfg.SafetyRulesFile, checker.Len())
	}

	var mailer mail.Mailer = &mail.NopMailer{}
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:         cfg.SMTPHost,
			Port:         cfg.SMTPPort,
			Username:     cfg.SMTPUsername,
			Password:     cfg.SMTPPassword,
			FromAddress:  cfg.SMTPFromAddress,
			ResetURLBase: cfg.ResetURLBase,
		})
	} else {
		log.Printf("no smtp_host configured; outbound mail disabled")
	}

	var hookDispatcher *hooks.Dispatcher
	if handler := cfg.Hooks.BuildScriptHandler(); handler != nil {
		hookDispatcher = &hooks.Dispatcher{}
		hookDispatcher.Register(handler)
		log.Printf("hooks dispatcher enabled script=%s", cfg.Hooks.ScriptPath)
	}

	httpSrv := httpserver.New(httpserver.Options{
		Auth:          authManager,
		Users:         users,
		Pricing:       pricingStore,
		Billing:       billingStore,
		Ledger:        ledgerStore,
		Engine:        engine,
		Safety:        checker,
		Mailer:        mailer,
		Hooks:         hookDispatcher,
		InitialPoints: cfg.InitialPoints,
	})
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[modulpintard/http] ", log.LstdFlags|log.Lmicroseconds))

	srv := &http.Server{
		Addr:        cfg.HTTPAddress,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: streamed generations run for minutes.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("modulpintar server listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// openStores builds the four stores against a shared backend. A postgres
// DSN selects the postgres implementations; anything else is treated as a
// sqlite file path and all stores share one handle so purchase confirmation
// can span the users and transactions tables in a single transaction.
func openStores(target string) (userstore.Store, pricing.Store, billing.Store, ledger.Store, error) {
	if store.IsPostgres(target) {
		pgcfg := userstorepg.DefaultConfig()
		users, err := userstorepg.New(target, pgcfg)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		pricingStore, err := pricingpg.New(target)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		billingStore, err := billingpg.New(target, pgcfg.MaxOpenConns, pgcfg.MaxIdleConns, pgcfg.ConnMaxLifetime)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		ledgerStore, err := ledgerpg.New(target, pgcfg.MaxOpenConns, pgcfg.MaxIdleConns, pgcfg.ConnMaxLifetime)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return users, pricingStore, billingStore, ledgerStore, nil
	}

	db, err := store.OpenSQLite(target)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	users, err := userstoresql.New(db)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	pricingStore, err := pricingsql.New(db)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	billingStore, err := billingsql.New(db)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ledgerStore, err := ledgersql.New(db)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return users, pricingStore, billingStore, ledgerStore, nil
}
