package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/models"
	"github.com/cardshelf/collector/backend/internal/services"
)

const maxQuantity = 9999

type CollectionHandler struct {
	collection *services.CollectionService
	imports    *services.ImportService
	log        *zap.Logger
}

func NewCollectionHandler(collection *services.CollectionService, imports *services.ImportService, log *zap.Logger) *CollectionHandler {
	return &CollectionHandler{collection: collection, imports: imports, log: log}
}

// GetCollection returns one page of the user's collection.
func (h *CollectionHandler) GetCollection(c *gin.Context) {
	query := models.CollectionQuery{
		Page: 1,
		Sort: models.SortKey(c.Query("sort")),
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 0 {
		query.Page = page
	}
	query.Descending = c.Query("order") == "desc"
	query.Filter.Search = c.Query("search")
	query.Filter.Rarity = c.Query("rarity")
	if setID, err := strconv.ParseUint(c.Query("set_id"), 10, 64); err == nil {
		query.Filter.SetID = uint(setID)
	}

	page, err := h.collection.List(c.Request.Context(), currentUser(c), query)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// AddToCollection records copies of a printing variant.
func (h *CollectionHandler) AddToCollection(c *gin.Context) {
	var req models.AddCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity out of range"})
		return
	}

	err := h.collection.Add(c.Request.Context(), currentUser(c), req.PrintingID, req.Foil, req.Quantity)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// RemoveFromCollection subtracts copies of a printing variant.
func (h *CollectionHandler) RemoveFromCollection(c *gin.Context) {
	var req models.RemoveCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	err := h.collection.Remove(c.Request.Context(), currentUser(c), req.PrintingID, req.Foil, req.Quantity)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// EditCollectionItem sets quantity and foil flag on a ledger row.
func (h *CollectionHandler) EditCollectionItem(c *gin.Context) {
	userCardID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req models.EditCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Quantity > maxQuantity {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity out of range"})
		return
	}

	err = h.collection.Edit(c.Request.Context(), currentUser(c), userCardID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// GetCollectionItem returns the expanded view of one owned printing.
func (h *CollectionHandler) GetCollectionItem(c *gin.Context) {
	userCardID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	detail, err := h.collection.Detail(c.Request.Context(), currentUser(c), userCardID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetItemPriceHistory returns the recorded daily quotes for an owned printing.
func (h *CollectionHandler) GetItemPriceHistory(c *gin.Context) {
	userCardID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	history, err := h.collection.PriceHistory(c.Request.Context(), currentUser(c), userCardID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// UploadCSV applies an ownership CSV to the collection.
func (h *CollectionHandler) UploadCSV(c *gin.Context) {
	file, err := c.FormFile("upload")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing upload file"})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}
	defer src.Close()

	result, err := h.imports.Upload(c.Request.Context(), currentUser(c), file.Filename, src)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetImports lists past uploads.
func (h *CollectionHandler) GetImports(c *gin.Context) {
	imports, err := h.imports.GetAll(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imports": imports})
}

// ResumeImport re-applies an import's incomplete rows.
func (h *CollectionHandler) ResumeImport(c *gin.Context) {
	importID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	err = h.imports.CompleteImport(c.Request.Context(), currentUser(c), importID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// respondError maps service errors to HTTP responses. Unexpected errors
// log full detail server-side and return a generic message.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errs.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errs.IsExternal(err):
		log.Error("external service failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream service unavailable"})
	default:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
	}
}

func pathID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return uint(id), err
}
