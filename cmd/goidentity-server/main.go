package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/httpapi"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/mailer"
	promexport "github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/userstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	db, err := userstore.Open(cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	defer sqlDB.Close()
	if cfg.DB.Migrate {
		if err := userstore.Migrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	sender, err := newSender(cfg.Mail, logger)
	if err != nil {
		return err
	}

	sessions, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.Session.TTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(cfg.Session.JWTSecret),
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
	})
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}

	builder := goIdentity.New().
		WithConfig(cfg.engineConfig()).
		WithRedis(rdb).
		WithUserStore(userstore.New(db)).
		WithEmailSender(sender).
		WithLogger(logger)
	if cfg.App.AuditLog {
		builder = builder.WithAuditSink(goIdentity.NewZapSink(logger))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	router := httpapi.NewRouter(engine, sessions, httpapi.Options{
		Logger:            logger,
		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
		RequestTimeout:    cfg.HTTP.RequestTimeout,
	})
	if cfg.HTTP.MetricsEnabled {
		router.Handle("/metrics", promexport.Handler(promexport.NewCollector(engine)))
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newSender(cfg MailConfig, logger *zap.Logger) (goIdentity.EmailSender, error) {
	if cfg.SMTPURL == "" {
		logger.Warn("SMTP_URL not set, verification emails are logged instead of sent")
		return mailer.NewLogSender(logger), nil
	}

	smtpCfg, err := mailer.ParseURL(cfg.SMTPURL, cfg.From)
	if err != nil {
		return nil, fmt.Errorf("smtp config: %w", err)
	}
	sender, err := mailer.NewSMTPSender(smtpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("smtp sender: %w", err)
	}
	return sender, nil
}
