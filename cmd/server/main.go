package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cardshelf/collector/backend/internal/api"
	"github.com/cardshelf/collector/backend/internal/config"
	"github.com/cardshelf/collector/backend/internal/database"
	"github.com/cardshelf/collector/backend/internal/logging"
	"github.com/cardshelf/collector/backend/internal/services"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.App.DebugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := database.Initialize(cfg.Database.Path, logger); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	db := database.GetDB()

	imageCache, err := services.NewImageCache(cfg.Images.Dir, logger)
	if err != nil {
		logger.Fatal("failed to initialize image cache", zap.Error(err))
	}

	scryfall := services.NewScryfallService(cfg.Scryfall.BaseURL)
	tcgplayer := services.NewTCGPlayerService(cfg.TCG.BaseURL, cfg.TCG.PublicKey, cfg.TCG.SecretKey, logger)
	rates := services.NewRatesService(cfg.Rates.BaseURL, cfg.Rates.AppID)

	reconciler := services.NewReconcilerService(db, scryfall, tcgplayer, logger)
	collection := services.NewCollectionService(db, scryfall, logger)
	decks := services.NewDeckService(db, logger)
	imports := services.NewImportService(db, scryfall, reconciler, collection, os.TempDir(), logger)

	priceWorker := services.NewPriceWorker(db, tcgplayer, cfg.PriceInterval(), logger)
	ratesWorker := services.NewRatesWorker(db, rates, cfg.RatesInterval(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorker(ctx, logger, "price worker", priceWorker.Start)
	startWorker(ctx, logger, "rates worker", ratesWorker.Start)

	router := api.SetupRouter(cfg, api.Services{
		DB:         db,
		Scryfall:   scryfall,
		Reconciler: reconciler,
		Collection: collection,
		Decks:      decks,
		Imports:    imports,
		Images:     imageCache,
		Prices:     priceWorker,
		Rates:      ratesWorker,
	}, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}

// startWorker runs a background loop with panic recovery, restarting it
// after a delay unless the context has been cancelled.
func startWorker(ctx context.Context, logger *zap.Logger, name string, run func(context.Context)) {
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("worker panicked",
							zap.String("worker", name), zap.Any("panic", r))
					}
				}()
				run(ctx)
			}()

			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
				logger.Info("restarting worker after panic", zap.String("worker", name))
			}
		}
	}()
}
