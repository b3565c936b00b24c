package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"casedesk/internal/identity"
	"casedesk/internal/ratelimit"
	"casedesk/internal/util"
	"casedesk/pkg/notify"
	"casedesk/pkg/storage"
	"casedesk/pkg/store"
	"casedesk/services/case/internal/app"
	"casedesk/services/case/internal/config"
	"casedesk/services/case/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	presignExpiry, err := config.ParsePresignExpiry(cfg.PresignExpiry)
	if err != nil {
		log.Fatalf("failed to parse presign expiry: %v", err)
	}
	storeTimeout, err := config.ParseStoreTimeout(cfg.StoreTimeout)
	if err != nil {
		log.Fatalf("failed to parse store timeout: %v", err)
	}

	verifier, err := identity.NewVerifier(identity.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	blobs, err := storage.NewMinioBlobStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	notifier, err := notify.NewRedisStreamNotifier(notify.RedisStreamConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.NotifyStream,
	})
	if err != nil {
		log.Fatalf("failed to init notifier: %v", err)
	}
	dispatcher := notify.NewDispatcher(notifier, 256)
	dispatcher.Start(context.Background())
	defer dispatcher.Close()

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.MutationRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "casedesk:ratelimit", cfg.MutationRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	appCore, err := app.New(app.Config{
		Store:            dataStore,
		Blobs:            blobs,
		Events:           dispatcher,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
		PresignExpiry:    presignExpiry,
		StoreTimeout:     storeTimeout,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:      appCore,
		Verifier: verifier,
		Limiter:  limiter,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("case server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
