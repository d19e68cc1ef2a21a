package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardshelf/collector/backend/internal/models"
	"github.com/cardshelf/collector/backend/internal/services"
)

const searchResultLimit = 50

// refreshTimeout bounds a background catalog refresh kicked off by a request.
const refreshTimeout = 5 * time.Minute

type CardHandler struct {
	db         *gorm.DB
	scryfall   *services.ScryfallService
	reconciler *services.ReconcilerService
	images     *services.ImageCache
	log        *zap.Logger
}

func NewCardHandler(db *gorm.DB, scryfall *services.ScryfallService, reconciler *services.ReconcilerService, images *services.ImageCache, log *zap.Logger) *CardHandler {
	return &CardHandler{
		db:         db,
		scryfall:   scryfall,
		reconciler: reconciler,
		images:     images,
		log:        log,
	}
}

type searchResult struct {
	PrintingID      uint   `json:"printing_id"`
	Name            string `json:"name"`
	SetCode         string `json:"set_code"`
	SetName         string `json:"set_name"`
	CollectorNumber string `json:"collector_number"`
	Rarity          string `json:"rarity"`
	IconURL         string `json:"icon_url,omitempty"`
}

// SearchPrintings searches the local catalog by card name. Set icons are
// fetched to the image cache in the background on first sight.
func (h *CardHandler) SearchPrintings(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusOK, gin.H{"results": []searchResult{}})
		return
	}

	var results []searchResult
	err := h.db.WithContext(c.Request.Context()).Model(&models.Printing{}).
		Joins("JOIN cards ON cards.id = printings.card_id").
		Joins("JOIN card_sets ON card_sets.id = printings.card_set_id").
		Where("cards.name LIKE ?", "%"+query+"%").
		Select(`printings.id AS printing_id, cards.name, card_sets.code AS set_code,
			card_sets.name AS set_name, printings.collector_number, printings.rarity`).
		Order("cards.name ASC, card_sets.released_at DESC").
		Limit(searchResultLimit).
		Scan(&results).Error
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	for i := range results {
		filename := services.SetIconFilename(results[i].SetCode)
		if !h.images.Has(filename) {
			go h.cacheSetIcon(results[i].SetCode)
		}
		results[i].IconURL = "/images/" + filename
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// RefreshCatalog pulls catalog records matching a query and reconciles
// them in the background; the request returns immediately.
func (h *CardHandler) RefreshCatalog(c *gin.Context) {
	query := c.PostForm("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		records, err := h.scryfall.Search(ctx, query)
		if err != nil {
			h.log.Error("catalog search failed", zap.String("query", query), zap.Error(err))
			return
		}
		if err := h.reconciler.ImportCards(ctx, records); err != nil {
			h.log.Error("catalog refresh failed", zap.String("query", query), zap.Error(err))
		}
	}()

	c.JSON(http.StatusOK, gin.H{})
}

// GetSets lists the known sets.
func (h *CardHandler) GetSets(c *gin.Context) {
	var sets []models.CardSet
	err := h.db.WithContext(c.Request.Context()).
		Order("released_at DESC").
		Find(&sets).Error
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sets": sets})
}

// GetCardImage serves a printing's full card image, fetching it into the
// cache on first request.
func (h *CardHandler) GetCardImage(c *gin.Context) {
	printingID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var printing models.Printing
	err = h.db.WithContext(c.Request.Context()).
		Preload("CardSet").
		First(&printing, printingID).Error
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	filename := services.CardImageFilename(printing.ID)
	if !h.images.Has(filename) {
		images, err := h.scryfall.GetImages(c.Request.Context(), printing.CardSet.Code, printing.CollectorNumber)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		if err := h.images.Ensure(c.Request.Context(), filename, images.ImageURL); err != nil {
			respondError(c, h.log, err)
			return
		}
	}
	c.Redirect(http.StatusFound, "/images/"+filename)
}

func (h *CardHandler) cacheSetIcon(setCode string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	meta, err := h.scryfall.GetSet(ctx, setCode)
	if err != nil {
		h.log.Warn("set icon lookup failed", zap.String("set", setCode), zap.Error(err))
		return
	}
	if meta.IconURL == "" {
		return
	}
	err = h.images.Ensure(ctx, services.SetIconFilename(setCode), meta.IconURL)
	if err != nil {
		h.log.Warn("set icon fetch failed", zap.String("set", setCode), zap.Error(err))
	}
}
