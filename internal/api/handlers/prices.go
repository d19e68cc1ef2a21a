package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cardshelf/collector/backend/internal/services"
)

type PriceHandler struct {
	worker *services.PriceWorker
	rates  *services.RatesWorker
	log    *zap.Logger
}

func NewPriceHandler(worker *services.PriceWorker, rates *services.RatesWorker, log *zap.Logger) *PriceHandler {
	return &PriceHandler{worker: worker, rates: rates, log: log}
}

// GetStatus reports the price worker's last and next run.
func (h *PriceHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Status())
}

// RefreshPrinting queues a single printing for priority refresh.
func (h *PriceHandler) RefreshPrinting(c *gin.Context) {
	printingID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	position := h.worker.QueueRefresh(printingID)
	c.JSON(http.StatusOK, gin.H{"queue_position": position})
}

// UpdatePrices kicks off a full price batch in the background.
func (h *PriceHandler) UpdatePrices(c *gin.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		if updated, err := h.worker.RunBatch(ctx); err != nil {
			h.log.Error("requested price batch failed", zap.Error(err))
		} else {
			h.log.Info("requested price batch complete", zap.Int("updated", updated))
		}
	}()
	c.JSON(http.StatusOK, gin.H{})
}

// UpdateRates kicks off an exchange rate refresh in the background.
func (h *PriceHandler) UpdateRates(c *gin.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		if err := h.rates.Refresh(ctx); err != nil {
			h.log.Error("requested rate refresh failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusOK, gin.H{})
}
