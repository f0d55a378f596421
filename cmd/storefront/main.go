package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logging"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/internal/tokenstore"
	"github.com/fjod/go_cart/storefront/internal/tracing"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		return 1
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{Enabled: cfg.TracingEnabled, Endpoint: cfg.OTLPEndpoint})
	if err != nil {
		log.WithError(err).Error("failed to set up tracing")
		return 1
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	}()

	repo, err := repository.NewRepository(cfg.SQLitePath)
	if err != nil {
		log.WithError(err).Error("failed to open local database")
		return 1
	}
	defer repo.Close()
	if err := repo.RunMigrations(); err != nil {
		log.WithError(err).Error("failed to migrate local database")
		return 1
	}

	store, closeStore, err := openTokenStore(ctx, cfg, repo, log)
	if err != nil {
		log.WithError(err).Error("failed to open token store")
		return 1
	}
	defer closeStore()

	client := backend.NewClient(backend.Config{
		BaseURL:         cfg.APIURL,
		Timeout:         cfg.RequestTimeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}, log)

	mgr := session.NewManager(client, store, log)
	carts := cart.NewSynchronizer(mgr, log)
	carts.ResetOn(mgr)
	mgr.Subscribe(func(ev session.Event) {
		if ev.Forced {
			fmt.Fprintln(os.Stderr, "Your session has expired. Sign in again with: storefront login -email EMAIL")
		}
	})

	if err := mgr.Restore(ctx); err != nil {
		log.WithError(err).Warn("could not restore previous session")
	}

	a := &app{
		session:  mgr,
		cart:     carts,
		checkout: checkout.NewOrchestrator(mgr, carts, repo, log),
		ledger:   repo,
		in:       os.Stdin,
		out:      os.Stdout,
	}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		report(os.Stderr, err)
		log.WithError(err).Debug("command failed")
		return 1
	}
	return 0
}

func openTokenStore(ctx context.Context, cfg config.Config, repo *repository.Repository, log logrus.FieldLogger) (tokenstore.Store, func(), error) {
	switch cfg.TokenStore {
	case config.StoreMemory:
		return tokenstore.NewMemoryStore(), func() {}, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		log.WithField("addr", cfg.RedisAddr).Debug("redis ping succeeded")
		return tokenstore.NewRedisStore(client, cfg.RedisPrefix, cfg.RedisTTL), func() { client.Close() }, nil
	default:
		return repo, func() {}, nil
	}
}

func report(out io.Writer, err error) {
	msg := domain.UserMessage(err)
	if msg == domain.MessageUnknown {
		// Usage and local errors are already readable.
		msg = err.Error()
	}
	fmt.Fprintln(out, msg)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		printValidation(out, verr)
	}
}
