package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"qasheet/api/internal/app"
	"qasheet/api/internal/assets"
	"qasheet/api/internal/authpw"
	"qasheet/api/internal/config"
	"qasheet/api/internal/email"
	"qasheet/api/internal/export"
	"qasheet/api/internal/revisions"
	"qasheet/api/internal/search"
	"qasheet/api/internal/seen"
	"qasheet/api/internal/session"
	"qasheet/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		log.Fatalf("failed to create revisions dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	revisionService := revisions.New(cfg.RevisionsDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	opts := app.Options{
		AuthPW:    authpw.NewService(dataStore),
		Search:    searchService,
		Revisions: revisionService,
		Exporter:  export.NewService(app.NewExportStore(dataStore)),
	}

	mailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailService.IsConfigured() {
		log.Printf("SMTP notifications enabled via %s", cfg.SMTPHost)
	} else {
		log.Printf("SMTP not configured, notifications disabled")
	}
	opts.Email = mailService

	// One Redis connection pool backs both refresh sessions and the
	// thread seen-viewer index.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient := redis.NewClient(redisOpts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()

		log.Printf("Using Redis for refresh token storage")
		opts.Sessions = session.NewRedisStoreWithClient(redisClient)
		opts.Seen = seen.NewIndex(redisClient)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		assetStore, err := assets.NewStore(ctx, assets.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: attachment storage unavailable: %v", err)
		} else {
			log.Printf("Attachment storage enabled at %s", cfg.MinioEndpoint)
			opts.Assets = assetStore
		}
	}

	service := app.New(cfg, dataStore, opts)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("QASheet API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
