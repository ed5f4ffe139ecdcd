package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/api"
	"github.com/photo-gallery/backend/internal/cache"
	"github.com/photo-gallery/backend/internal/config"
	"github.com/photo-gallery/backend/internal/events"
	"github.com/photo-gallery/backend/internal/gallery"
	"github.com/photo-gallery/backend/internal/identity"
	"github.com/photo-gallery/backend/internal/records"
	"github.com/photo-gallery/backend/internal/storage"
	"github.com/photo-gallery/backend/internal/upload"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath, err := resolveConfigPath()
	if err != nil {
		fmt.Printf("Failed to resolve config path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Advanced)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, configPath, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// resolveConfigPath prefers GALLERY_CONFIG and falls back to gallery.yaml
// next to the executable.
func resolveConfigPath() (string, error) {
	if p := os.Getenv("GALLERY_CONFIG"); p != "" {
		return p, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exePath), "gallery.yaml"), nil
}

func newLogger(cfg config.AdvancedConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.AppConfig, configPath string, logger *zap.Logger) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	if cfg.Storage.CredentialsSecret != "" {
		sm, err := config.NewSecretsClient(ctx, cfg.Storage.Region)
		if err != nil {
			return err
		}
		if err := cfg.LoadStorageCredentials(ctx, sm); err != nil {
			return err
		}
		logger.Info("loaded storage credentials", zap.String("secret", cfg.Storage.CredentialsSecret))
	}

	objects, err := storage.Open(ctx, cfg.Storage, cfg.Server.PublicURL)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	recs, err := records.Open(ctx, cfg.Records)
	if err != nil {
		return fmt.Errorf("failed to open records: %w", err)
	}
	defer recs.Close()

	listingCache, err := cache.Open(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer listingCache.Close()

	publisher, err := events.Open(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("failed to open event publisher: %w", err)
	}
	defer publisher.Close()

	svc := gallery.NewService(objects, recs,
		gallery.WithURLTTL(cfg.URLTTL()),
		gallery.WithListingCache(listingCache, cfg.CacheTTL()),
		gallery.WithEvents(publisher),
		gallery.WithLogger(logger),
	)

	policy, err := upload.ParseRetryPolicy(cfg.Upload.RetryPolicy)
	if err != nil {
		return err
	}
	batches := upload.NewManager(svc.Transferer, logger,
		upload.WithMaxBytes(cfg.Upload.MaxBytes),
		upload.WithAllowedTypes(cfg.Upload.AllowedTypes...),
		upload.WithRetryPolicy(policy),
	)
	batches.OnFinished(func(b upload.Batch) {
		if b.Summary != nil {
			svc.BatchFinished(context.Background(), b.Owner, b.ID, *b.Summary)
		}
	})
	defer batches.Close()

	go cleanupBatches(ctx, batches, cfg.Upload, logger)

	ids := identity.NewProvider(cfg.Security.Users, cfg.Security.RequireAuth)
	defer watchSessions(ids, batches, logger)()

	deps := &api.Dependencies{
		Gallery:  svc,
		Batches:  batches,
		Identity: ids,
		Config:   cfg,
		Version:  Version,
		Logger:   logger,
	}
	if local, ok := objects.(*storage.LocalStore); ok {
		deps.MediaRoot = local.Root()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, cfg, logger)
	api.RegisterRoutes(e, api.NewHandlers(deps), deps)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath, svc.StorageName())

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// watchSessions drops a user's pending batches when their session ends.
func watchSessions(ids *identity.Provider, batches *upload.Manager, logger *zap.Logger) (unsubscribe func()) {
	return ids.Subscribe(func(e identity.Event) {
		log := logger.With(zap.String("user", e.User.ID))
		if e.SignedIn {
			log.Debug("session started")
			return
		}
		n := batches.DiscardOwner(e.User.ID)
		log.Debug("session ended", zap.Int("discarded", n))
	})
}

// cleanupBatches discards batches older than the configured age.
func cleanupBatches(ctx context.Context, batches *upload.Manager, cfg config.UploadConfig, logger *zap.Logger) {
	interval := time.Duration(cfg.CleanupIntervalMinutes) * time.Minute
	maxAge := time.Duration(cfg.BatchMaxAgeMinutes) * time.Minute
	if interval <= 0 || maxAge <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := batches.CleanupOldBatches(maxAge); n > 0 {
				logger.Info("discarded stale batches", zap.Int("count", n))
			}
		}
	}
}

func printBanner(cfg *config.AppConfig, configPath, backend string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Photo Gallery Server                            ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Storage:    %-45s║\n", backend)
	fmt.Printf("║  Records:    %-45s║\n", cfg.Records.Backend)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-39s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
