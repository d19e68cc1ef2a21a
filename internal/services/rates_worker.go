package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardshelf/collector/backend/internal/metrics"
	"github.com/cardshelf/collector/backend/internal/models"
)

// RateSource fetches currency conversion rates relative to USD.
type RateSource interface {
	GetRates(ctx context.Context) (map[string]float64, error)
}

// RatesWorker keeps the stored exchange rates current so collection prices
// can be shown in the user's currency.
type RatesWorker struct {
	db       *gorm.DB
	source   RateSource
	interval time.Duration
	log      *zap.Logger
}

func NewRatesWorker(db *gorm.DB, source RateSource, interval time.Duration, log *zap.Logger) *RatesWorker {
	return &RatesWorker{db: db, source: source, interval: interval, log: log}
}

// Start runs the refresh loop until the context is cancelled. The first
// refresh runs immediately.
func (w *RatesWorker) Start(ctx context.Context) {
	w.log.Info("rates worker started", zap.Duration("interval", w.interval))

	if err := w.Refresh(ctx); err != nil {
		w.log.Error("initial rate refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("rates worker stopping")
			return
		case <-ticker.C:
			if err := w.Refresh(ctx); err != nil {
				w.log.Error("rate refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh fetches the current rates and upserts one row per currency.
func (w *RatesWorker) Refresh(ctx context.Context) error {
	rates, err := w.source.GetRates(ctx)
	if err != nil {
		return err
	}

	for code, rate := range rates {
		row := models.ExchangeRate{Code: code, Rate: rate}
		err := w.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				DoUpdates: clause.AssignmentColumns([]string{"rate", "updated_at"}),
			}).
			Create(&row).Error
		if err != nil {
			return err
		}
	}

	metrics.RateRefreshesTotal.Inc()
	w.log.Info("exchange rates refreshed", zap.Int("currencies", len(rates)))
	return nil
}
