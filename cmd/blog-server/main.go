// Package main is the entry point for the blog accounts server.
// It serves account registration, authentication, user administration
// and social sign-in over HTTP.
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
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/prn-tf/blog-accounts/internal/auth"
	"github.com/prn-tf/blog-accounts/internal/cache/memory"
	"github.com/prn-tf/blog-accounts/internal/cache/redis"
	"github.com/prn-tf/blog-accounts/internal/config"
	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/handler"
	"github.com/prn-tf/blog-accounts/internal/lock"
	"github.com/prn-tf/blog-accounts/internal/mail"
	"github.com/prn-tf/blog-accounts/internal/metrics"
	"github.com/prn-tf/blog-accounts/internal/pkg/crypto"
	"github.com/prn-tf/blog-accounts/internal/repository"
	"github.com/prn-tf/blog-accounts/internal/repository/cached"
	_ "github.com/prn-tf/blog-accounts/internal/repository/postgres"
	_ "github.com/prn-tf/blog-accounts/internal/repository/sqlite"
	"github.com/prn-tf/blog-accounts/internal/service"
	"github.com/prn-tf/blog-accounts/internal/social"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting blog accounts server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("Server stopped")
}

// setupLogger configures the global zerolog logger from the logging section.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return log.Logger
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m := metrics.New()

	// Database
	result, err := repository.NewFactory(cfg.Database, logger).Create(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer result.Database.Close()

	// Redis, cache and locks
	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var cache repository.Cache
	if cfg.Cache.Backend == "redis" {
		cache = redis.NewCache(redisClient, "blog:")
	} else {
		memCache := memory.NewCache(cfg.Cache.MaxEntries)
		defer memCache.Stop()
		cache = memCache
	}

	var locker lock.Locker
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient)
	} else {
		memLocker := lock.NewMemoryLocker()
		defer memLocker.Stop()
		locker = memLocker
	}

	store := cached.NewAccountStore(result.Repos.Accounts, cache, cfg.Cache.TTL, logger, m)
	clock := service.SystemClock()
	passwords := crypto.NewPasswordHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenProvider(cfg.Auth, logger, m)

	// Mail
	renderer, err := mail.NewRenderer(cfg.Mail.BaseURL)
	if err != nil {
		return err
	}
	sender, err := mail.NewSender(cfg.Mail, logger)
	if err != nil {
		return err
	}
	mailer := service.NewMailService(renderer, sender, cfg.Mail.SendTimeout, m, logger)
	defer mailer.Wait()

	var sealer service.TokenSealer
	if cfg.Auth.EncryptionKey != "" {
		key, err := cfg.Auth.GetEncryptionKey()
		if err != nil {
			return err
		}
		encryptor, err := crypto.NewEncryptor(key)
		if err != nil {
			return err
		}
		sealer = encryptor
	}

	// Services
	socialService := service.NewSocialService(store, result.Repos.Social, passwords, mailer,
		domain.NewLoginPolicy(cfg.Social.UsernameLoginProviders), sealer, clock, m, logger)
	accountService := service.NewAccountService(store, passwords, mailer, socialService, clock,
		service.AccountServiceConfig{ResetWindow: cfg.Account.ResetWindow}, m, logger)
	userService := service.NewUserService(store, result.Repos.Authorities, passwords, mailer, socialService, clock, m, logger)
	auditService := service.NewAuditService(result.Repos.Audit, clock, logger)
	authenticator := service.NewAuthenticator(store, passwords, tokens, auditService, m, logger)

	if cfg.Account.SweepEnabled {
		sweeper := service.NewActivationSweeper(nil, store, locker, clock, m, logger, service.SweepConfig{
			Interval:         cfg.Account.SweepInterval,
			ActivationWindow: cfg.Account.ActivationWindow,
			BatchSize:        cfg.Account.SweepBatchSize,
			FirstRunAt:       cfg.Account.SweepFirstRunAt,
		})
		sweeper.Start()
		defer sweeper.Stop()
	}

	// Social sign-in
	httpClient := &http.Client{Timeout: 15 * time.Second}
	providers, err := social.NewRegistry(cfg.Social, httpClient)
	if err != nil {
		return err
	}
	var socialHandler *handler.SocialHandler
	if len(providers.IDs()) > 0 {
		states := social.NewStateStore(cache, cfg.Social.StateTTL)
		socialHandler = handler.NewSocialHandler(socialService, providers, states, logger)
		logger.Info().Strs("providers", providers.IDs()).Msg("social sign-in enabled")
	}

	router := handler.NewRouter(handler.RouterConfig{
		AccountHandler: handler.NewAccountHandler(accountService, authenticator, socialService, logger),
		UserHandler:    handler.NewUserHandler(userService, logger),
		AuditHandler:   handler.NewAuditHandler(auditService, logger),
		SocialHandler:  socialHandler,
		Tokens:         tokens,
		Database:       result.Database,
		Metrics:        m,
		MaxBodySize:    cfg.Server.MaxBodySize,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", metricsServer.Addr).Str("path", cfg.Metrics.Path).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}
	return nil
}
