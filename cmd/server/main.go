package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andyleap/authsessions/internal/admin"
	"github.com/andyleap/authsessions/internal/api"
	"github.com/andyleap/authsessions/internal/clients"
	"github.com/andyleap/authsessions/internal/credential"
	"github.com/andyleap/authsessions/internal/metrics"
	"github.com/andyleap/authsessions/internal/oauth"
	"github.com/andyleap/authsessions/internal/source"
	"github.com/andyleap/authsessions/internal/storage"
	"github.com/andyleap/authsessions/internal/tokens"
	"github.com/andyleap/authsessions/internal/ui"
	"github.com/andyleap/authsessions/internal/users"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.HashPassword != "" {
		if err := printEncodedPassword(os.Stdout, cfg.HashPassword); err != nil {
			slog.Error("Failed to hash password", "error", err)
			os.Exit(1)
		}
		return
	}

	// Setup structured logging
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// printEncodedPassword writes the value to paste into a password or secret field
func printEncodedPassword(w io.Writer, raw string) error {
	encoded, err := credential.Encode(raw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, encoded)
	return err
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	// Declarative sources
	resolverOpts := []source.Option{source.WithLogger(logger)}
	if cfg.S3.Enabled {
		s3Store, err := source.NewS3Store(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.UseSSL)
		if err != nil {
			return fmt.Errorf("failed to create S3 source: %w", err)
		}
		resolverOpts = append(resolverOpts, source.WithObjectStore(s3Store))
		slog.Info("Using S3 source tier", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
	}
	resolver := source.NewResolver(resolverOpts...)

	loaded, err := clients.NewLoader(logger).Load(ctx, resolver, cfg.ClientsPath)
	if err != nil {
		return err
	}
	registry, err := clients.NewRegistry(loaded)
	if err != nil {
		return fmt.Errorf("failed to build client registry: %w", err)
	}
	if cfg.PrintClients {
		if err := clients.RenderSummary(os.Stdout, registry.List()); err != nil {
			return err
		}
	}

	directory, err := users.NewLoader(logger).Load(ctx, resolver, cfg.UsersPath)
	if err != nil {
		return err
	}

	// Setup session storage
	var sessionStorage storage.SessionStorage
	switch cfg.SessionMode {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		// Test Redis connection
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		sessionStorage = storage.NewRedisStorage(redisClient, cfg.Redis.KeyPrefix)
		slog.Info("Using Redis sessions", "addr", cfg.Redis.Addr)
	case "memory":
		memoryStorage := storage.NewMemoryStorage()
		defer memoryStorage.Close()
		sessionStorage = memoryStorage
		slog.Warn("Using in-memory sessions (not persistent)")
	default:
		return fmt.Errorf("invalid SESSION_MODE %q", cfg.SessionMode)
	}

	// Setup services
	m := metrics.New()
	store := storage.NewAuthorizationStore(storage.WithLogger(logger), storage.WithObserver(m))
	m.WatchStore(store)

	facade := admin.NewFacade(directory, store, admin.WithLogger(logger), admin.WithRevocationObserver(m))
	synchronizer := tokens.NewSynchronizer(registry, tokens.WithSynchronizerLogger(logger))
	issuer := tokens.NewIssuer(store, synchronizer,
		tokens.WithIssuerURL(cfg.Issuer),
		tokens.WithSigningKey([]byte(cfg.SigningKey)),
		tokens.WithIssuerLogger(logger),
	)
	oauthService := oauth.NewOAuthService(registry, sessionStorage, store, issuer, oauth.WithLogger(logger))

	oauthUIHandlers, err := ui.NewOAuthUIHandlers(oauthService)
	if err != nil {
		return fmt.Errorf("failed to create OAuth UI handlers: %w", err)
	}

	routes := api.Routes{
		Server:    api.NewServer(sessionStorage, directory, facade, cfg.AdminRole, cfg.SessionTTL),
		OAuth:     api.NewOAuthAPIHandlers(oauthService),
		Auth:      api.NewAuthenticator(sessionStorage),
		Authorize: oauthUIHandlers.AuthorizeHandler,
		Metrics:   m.Handler(),
		AdminRole: cfg.AdminRole,
	}

	// Create HTTP server
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Authorization session service starting",
			"addr", server.Addr,
			"clients", registry.Len(),
			"users", directory.Len(),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
