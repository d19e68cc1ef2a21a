package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardshelf/collector/backend/internal/api/handlers"
	"github.com/cardshelf/collector/backend/internal/config"
	"github.com/cardshelf/collector/backend/internal/services"
)

// Services bundles everything the HTTP layer depends on.
type Services struct {
	DB         *gorm.DB
	Scryfall   *services.ScryfallService
	Reconciler *services.ReconcilerService
	Collection *services.CollectionService
	Decks      *services.DeckService
	Imports    *services.ImportService
	Images     *services.ImageCache
	Prices     *services.PriceWorker
	Rates      *services.RatesWorker
}

func SetupRouter(cfg *config.Config, deps Services, log *zap.Logger) *gin.Engine {
	if !cfg.App.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-User-ID"}
	router.Use(cors.New(corsConfig))

	cardHandler := handlers.NewCardHandler(deps.DB, deps.Scryfall, deps.Reconciler, deps.Images, log)
	collectionHandler := handlers.NewCollectionHandler(deps.Collection, deps.Imports, log)
	deckHandler := handlers.NewDeckHandler(deps.Decks, deps.Scryfall, deps.Images, log)
	priceHandler := handlers.NewPriceHandler(deps.Prices, deps.Rates, log)

	router.Static("/images", deps.Images.Dir())

	api := router.Group("/api")
	{
		cards := api.Group("/cards")
		{
			cards.GET("/search", cardHandler.SearchPrintings)
			cards.POST("/refresh", cardHandler.RefreshCatalog)
			cards.GET("/sets", cardHandler.GetSets)
			cards.GET("/:id/image", cardHandler.GetCardImage)
			cards.POST("/:id/refresh-price", priceHandler.RefreshPrinting)
		}

		collection := api.Group("/collection")
		{
			collection.GET("", collectionHandler.GetCollection)
			collection.POST("", collectionHandler.AddToCollection)
			collection.POST("/remove", collectionHandler.RemoveFromCollection)
			collection.PUT("/:id", collectionHandler.EditCollectionItem)
			collection.GET("/:id", collectionHandler.GetCollectionItem)
			collection.GET("/:id/price-history", collectionHandler.GetItemPriceHistory)
			collection.POST("/upload", collectionHandler.UploadCSV)
			collection.GET("/imports", collectionHandler.GetImports)
			collection.POST("/imports/:id/resume", collectionHandler.ResumeImport)
		}

		decks := api.Group("/decks")
		{
			decks.GET("", deckHandler.GetDecks)
			decks.POST("/import", deckHandler.ImportDeck)
			decks.GET("/formats", deckHandler.GetFormats)
			decks.GET("/:id", deckHandler.GetDeck)
			decks.PUT("/:id", deckHandler.SaveDeck)
			decks.DELETE("/:id", deckHandler.DeleteDeck)
			decks.POST("/:id/restore", deckHandler.RestoreDeck)
			decks.POST("/:id/cards", deckHandler.AddDeckCard)
			decks.DELETE("/:id/cards/:cardid", deckHandler.RemoveDeckCard)
			decks.POST("/:id/cover-art", deckHandler.SetCoverArt)
		}

		prices := api.Group("/prices")
		{
			prices.GET("/status", priceHandler.GetStatus)
			prices.POST("/update", priceHandler.UpdatePrices)
			prices.POST("/update-rates", priceHandler.UpdateRates)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
