package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-account/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account/internal/config"
	"github.com/ovaphlow/pitchfork/service-account/internal/notify"
	"github.com/ovaphlow/pitchfork/service-account/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-account/internal/router"
	"github.com/ovaphlow/pitchfork/service-account/internal/session"
	"github.com/ovaphlow/pitchfork/service-account/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

func main() {
	// .env is loaded inside config.Load, best-effort
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-account", "addr", cfg.HTTPAddr, "mail_driver", cfg.MailDriver)
	if cfg.GeneratedSecret {
		sugar.Warn("TOKEN_SECRET not set; using a random secret, sessions will not survive a restart")
	}

	// init db
	db, err := database.Connect(cfg.Database())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	if err := accountrepo.NewAccountRepo(db).EnsureTable(bootCtx); err != nil {
		cancelBoot()
		sugar.Fatalf("ensure tables: %v", err)
	}
	cancelBoot()

	notifier, err := notify.New(notify.Config{
		Driver:         cfg.MailDriver,
		From:           cfg.MailFrom,
		Timeout:        cfg.MailTimeout,
		MailgunDomain:  cfg.MailgunDomain,
		MailgunAPIKey:  cfg.MailgunAPIKey,
		MailgunAPIBase: cfg.MailgunAPIBase,
		SMTPHost:       cfg.SMTPHost,
		SMTPPort:       cfg.SMTPPort,
		SMTPUsername:   cfg.SMTPUsername,
		SMTPPassword:   cfg.SMTPPassword,
	}, sugar)
	if err != nil {
		sugar.Fatalf("notifier: %v", err)
	}
	mails := notify.Templates{AppName: cfg.AppName, FrontendURL: cfg.FrontendBaseURL}

	issuer := session.NewIssuer(cfg.TokenSecret, cfg.TokenTTL, cfg.SnowflakeNode)
	svc := account.NewService(account.NewSQLStore(db), account.BcryptHasher{Cost: cfg.BcryptCost}, notifier, mails, issuer, sugar,
		account.Options{
			MaxLoginAttempts: cfg.MaxLoginAttempts,
			LockDuration:     cfg.LockDuration,
			CodeTTL:          cfg.VerificationCodeTTL,
		})

	deps := router.Deps{
		Logger:   sugar,
		Accounts: account.NewHandler(svc, sugar),
		Issuer:   issuer,
		AppName:  cfg.AppName,
	}
	if cfg.GoogleEnabled() {
		provider := oauth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.PublicBaseURL+"/auth/google/callback")
		deps.OAuth = oauth.NewHandler(provider, svc, issuer, sugar, cfg.FrontendBaseURL, cfg.PublicBaseURL, cfg.AppName, cfg.TokenTTL)
	} else {
		sugar.Info("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set; google login disabled")
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// mount http server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.RegisterRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
