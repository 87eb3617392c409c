package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"linkvault/internal/bot"
	"linkvault/internal/category"
	"linkvault/internal/classify"
	"linkvault/internal/config"
	"linkvault/internal/scrape"
	"linkvault/internal/stager"
	"linkvault/internal/stats"
	"linkvault/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"storage_backend": cfg.StorageBackend,
		"pending_ttl":     cfg.PendingTTL().String(),
	}).Info("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer func() {
		log.Info("Closing storage...")
		if err := store.Close(); err != nil {
			log.WithError(err).Error("Error closing storage")
		}
	}()

	// Classifier
	var classifier classify.Classifier = classify.Disabled{}
	if cfg.ClassifierURL != "" {
		classifier = classify.NewHTTP(cfg.ClassifierURL, cfg.ClassifierAPIKey, log)
	} else {
		log.Info("No classifier endpoint configured, links will go unscored")
	}

	// Scraper
	var scraper scrape.Scraper = scrape.Disabled{}
	if cfg.ScraperEnabled {
		rodScraper, err := scrape.NewRodScraper(log)
		if err != nil {
			log.WithError(err).Warn("Headless browser unavailable, saves will go unenriched")
		} else {
			scraper = rodScraper
			defer func() {
				if err := rodScraper.Close(); err != nil {
					log.WithError(err).Error("Error closing browser")
				}
			}()
		}
	}

	// Staging and views
	st := stager.New(store, classifier, scraper, stager.Defaults{
		PendingTTL:           cfg.PendingTTL(),
		DeletePromptOnExpiry: cfg.DeletePromptOnExpiry,
		DefaultCategory:      cfg.DefaultCategory,
	}, log)
	defer st.Stop()

	ix := category.NewIndex(store, log)
	agg := stats.New(store)

	// Bot
	botHandler, err := bot.NewHandler(cfg, store, st, ix, agg, classifier, log)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram bot handler: %v", err)
	}

	log.Info("Starting LinkVault...")
	go botHandler.Start(ctx)

	log.Info("LinkVault is running. Press Ctrl+C to exit.")
	<-ctx.Done()

	log.Info("Shutting down LinkVault...")
	stop()

	log.Info("LinkVault shut down gracefully.")
}

// openStore picks the configured backend.
func openStore(ctx context.Context, cfg config.Config, log *logrus.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "file":
		return storage.NewFileStore(cfg.DataDir, log)
	case "badger":
		return storage.NewBadgerStore(cfg.BadgerDBPath, log)
	case "mongo":
		return storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
