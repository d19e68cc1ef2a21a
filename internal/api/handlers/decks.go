package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cardshelf/collector/backend/internal/models"
	"github.com/cardshelf/collector/backend/internal/services"
)

type DeckHandler struct {
	decks    *services.DeckService
	scryfall *services.ScryfallService
	images   *services.ImageCache
	log      *zap.Logger
}

func NewDeckHandler(decks *services.DeckService, scryfall *services.ScryfallService, images *services.ImageCache, log *zap.Logger) *DeckHandler {
	return &DeckHandler{decks: decks, scryfall: scryfall, images: images, log: log}
}

// GetDecks lists the user's decks; pass deleted=true for the trash.
func (h *DeckHandler) GetDecks(c *gin.Context) {
	deleted := c.Query("deleted") == "true"

	decks, err := h.decks.GetAll(c.Request.Context(), currentUser(c), deleted)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	type deckView struct {
		services.DeckSummary
		ArtURL string `json:"art_url,omitempty"`
	}
	views := make([]deckView, 0, len(decks))
	for _, deck := range decks {
		view := deckView{DeckSummary: deck}
		if deck.CardArtID != nil {
			view.ArtURL = h.coverArtURL(deck)
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"results": views})
}

// GetDeck returns one deck with its type-grouped card list.
func (h *DeckHandler) GetDeck(c *gin.Context) {
	deckID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	userID := currentUser(c)

	deck, err := h.decks.Get(c.Request.Context(), userID, deckID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	cards, err := h.decks.GetCards(c.Request.Context(), userID, deckID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	artURL := ""
	if deck.CardArtID != nil {
		artURL = h.coverArtURL(deck)
	}
	c.JSON(http.StatusOK, gin.H{
		"deck":      deck,
		"art_url":   artURL,
		"main":      cards.Main,
		"sideboard": cards.Sideboard,
	})
}

// ImportDeck creates a deck from a named card list.
func (h *DeckHandler) ImportDeck(c *gin.Context) {
	var req models.DeckImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deckID, err := h.decks.DoImport(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deck_id": deckID})
}

// SaveDeck updates a deck's name, format, and notes.
func (h *DeckHandler) SaveDeck(c *gin.Context) {
	deckID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req services.DeckUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.decks.Save(c.Request.Context(), currentUser(c), deckID, req); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// DeleteDeck soft-deletes a deck.
func (h *DeckHandler) DeleteDeck(c *gin.Context) {
	deckID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.decks.Delete(c.Request.Context(), currentUser(c), deckID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// RestoreDeck brings back a soft-deleted deck.
func (h *DeckHandler) RestoreDeck(c *gin.Context) {
	deckID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.decks.Restore(c.Request.Context(), currentUser(c), deckID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type deckCardRequest struct {
	CardID   uint               `json:"card_id" binding:"required"`
	Quantity int                `json:"quantity"`
	Section  models.DeckSection `json:"section"`
}

// AddDeckCard appends a card line to a deck.
func (h *DeckHandler) AddDeckCard(c *gin.Context) {
	deckID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req deckCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.decks.AddCard(c.Request.Context(), currentUser(c), deckID, req.CardID, req.Quantity, req.Section)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// RemoveDeckCard deletes a card line from a deck.
func (h *DeckHandler) RemoveDeckCard(c *gin.Context) {
	deckID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	deckCardID, err := pathID(c, "cardid")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card id"})
		return
	}

	err = h.decks.RemoveCard(c.Request.Context(), currentUser(c), deckID, deckCardID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type coverArtRequest struct {
	CardID uint `json:"card_id" binding:"required"`
}

// SetCoverArt pins a deck's cover art to one of its cards.
func (h *DeckHandler) SetCoverArt(c *gin.Context) {
	deckID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req coverArtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.decks.SetCoverArt(c.Request.Context(), currentUser(c), deckID, req.CardID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// GetFormats lists the known formats.
func (h *DeckHandler) GetFormats(c *gin.Context) {
	formats, err := h.decks.GetFormats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"formats": formats})
}

// coverArtURL returns the cached art URL for a deck's cover card, fetching
// the art in the background on first sight.
func (h *DeckHandler) coverArtURL(deck services.DeckSummary) string {
	filename := services.CardArtFilename(*deck.CardArtID)
	if !h.images.Has(filename) && deck.SetCode != nil && deck.CollectorNumber != nil {
		cardArtID := *deck.CardArtID
		setCode := *deck.SetCode
		collectorNumber := *deck.CollectorNumber
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()

			images, err := h.scryfall.GetImages(ctx, setCode, collectorNumber)
			if err != nil {
				h.log.Warn("cover art lookup failed", zap.Uint("card_id", cardArtID), zap.Error(err))
				return
			}
			err = h.images.Ensure(ctx, services.CardArtFilename(cardArtID), images.ArtURL)
			if err != nil {
				h.log.Warn("cover art fetch failed", zap.Uint("card_id", cardArtID), zap.Error(err))
			}
		}()
	}
	return "/images/" + filename
}
