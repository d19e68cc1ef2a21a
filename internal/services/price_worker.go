package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardshelf/collector/backend/internal/metrics"
	"github.com/cardshelf/collector/backend/internal/models"
)

// PriceWorker refreshes printing prices on a fixed interval. Owned
// printings are refreshed before the rest of the catalog, urgent
// user-requested refreshes jump the whole queue, and every successful
// refresh records one PriceHistory row per printing per day.
type PriceWorker struct {
	db       *gorm.DB
	prices   PriceClient
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	urgent  []uint
	lastRun time.Time
	updated int
}

func NewPriceWorker(db *gorm.DB, prices PriceClient, interval time.Duration, log *zap.Logger) *PriceWorker {
	return &PriceWorker{
		db:       db,
		prices:   prices,
		interval: interval,
		log:      log,
	}
}

// QueueRefresh puts a printing at the front of the next batch and returns
// its queue position.
func (w *PriceWorker) QueueRefresh(printingID uint) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, id := range w.urgent {
		if id == printingID {
			return i + 1
		}
	}
	w.urgent = append(w.urgent, printingID)
	metrics.PriceQueueSize.Set(float64(len(w.urgent)))
	w.log.Info("queued price refresh",
		zap.Uint("printing_id", printingID),
		zap.Int("queue_size", len(w.urgent)))
	return len(w.urgent)
}

// WorkerStatus reports the worker's last and next run.
type WorkerStatus struct {
	LastRun     time.Time `json:"last_run"`
	NextRun     time.Time `json:"next_run"`
	LastUpdated int       `json:"last_updated"`
	QueueSize   int       `json:"queue_size"`
}

func (w *PriceWorker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{
		LastRun:     w.lastRun,
		NextRun:     w.lastRun.Add(w.interval),
		LastUpdated: w.updated,
		QueueSize:   len(w.urgent),
	}
}

// Start runs the refresh loop until the context is cancelled. The first
// batch runs immediately.
func (w *PriceWorker) Start(ctx context.Context) {
	w.log.Info("price worker started", zap.Duration("interval", w.interval))

	if updated, err := w.RunBatch(ctx); err != nil {
		w.log.Error("initial price batch failed", zap.Error(err))
	} else {
		w.log.Info("initial price batch complete", zap.Int("updated", updated))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("price worker stopping")
			return
		case <-ticker.C:
			if updated, err := w.RunBatch(ctx); err != nil {
				w.log.Error("price batch failed", zap.Error(err))
			} else if updated > 0 {
				w.log.Info("price batch complete", zap.Int("updated", updated))
			}
		}
	}
}

type pricingRow struct {
	ID              uint
	Name            string
	TypeLine        string
	CollectorNumber string
	Rarity          string
	SetName         string
	SetCode         string
	GroupID         *int
	ProductID       *int
}

// RunBatch refreshes prices for every pricable printing: urgent requests
// first, then owned printings, then the rest of the catalog. Basic lands
// are skipped entirely.
func (w *PriceWorker) RunBatch(ctx context.Context) (int, error) {
	start := time.Now()

	urgent := w.takeUrgent()

	rows, err := w.pricingRows(ctx, urgent)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	token, err := w.prices.Login(ctx)
	if err != nil {
		return 0, err
	}

	products := make(map[string]int, len(rows))
	for i := range rows {
		row := &rows[i]
		if row.ProductID == nil {
			query := ProductQuery{
				Name:            row.Name,
				SetName:         row.SetName,
				SetCode:         row.SetCode,
				Rarity:          row.Rarity,
				CollectorNumber: row.CollectorNumber,
				GroupID:         row.GroupID,
			}
			productID, err := w.prices.SearchProduct(ctx, query, token)
			if err != nil {
				return 0, err
			}
			if productID == nil {
				continue
			}
			row.ProductID = productID
			err = w.db.WithContext(ctx).Model(&models.Printing{}).
				Where("id = ? AND tcg_product_id IS NULL", row.ID).
				Update("tcg_product_id", *productID).Error
			if err != nil {
				return 0, err
			}
		}
		products[strconv.FormatUint(uint64(row.ID), 10)] = *row.ProductID
	}

	quotes, err := w.prices.GetPrices(ctx, products, token)
	if err != nil {
		return 0, err
	}

	updated := 0
	day := time.Now().Format(models.DayFormat)
	for key, quote := range quotes {
		if quote.Normal == nil && quote.Foil == nil {
			continue
		}
		printingID, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			continue
		}

		err = w.db.WithContext(ctx).Model(&models.Printing{}).
			Where("id = ?", printingID).
			Updates(map[string]interface{}{
				"price":      quote.Normal,
				"foil_price": quote.Foil,
			}).Error
		if err != nil {
			return updated, err
		}

		history := models.PriceHistory{
			PrintingID: uint(printingID),
			Day:        day,
			Price:      quote.Normal,
			FoilPrice:  quote.Foil,
		}
		err = w.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&history).Error
		if err != nil {
			return updated, err
		}
		updated++
	}

	w.mu.Lock()
	w.lastRun = time.Now()
	w.updated = updated
	w.mu.Unlock()

	metrics.PriceUpdatesTotal.Add(float64(updated))
	metrics.PriceBatchDuration.Observe(time.Since(start).Seconds())

	var owned int64
	err = w.db.WithContext(ctx).Model(&models.UserCard{}).
		Select("COALESCE(SUM(quantity), 0)").Scan(&owned).Error
	if err == nil {
		metrics.CollectionCardsTotal.Set(float64(owned))
	}

	return updated, nil
}

// takeUrgent drains the urgent queue.
func (w *PriceWorker) takeUrgent() []uint {
	w.mu.Lock()
	defer w.mu.Unlock()
	urgent := w.urgent
	w.urgent = nil
	metrics.PriceQueueSize.Set(0)
	return urgent
}

// pricingRows loads the printings to refresh, urgent ids first, then owned
// printings, then the rest alphabetically. Basic lands never get prices.
func (w *PriceWorker) pricingRows(ctx context.Context, urgent []uint) ([]pricingRow, error) {
	query := w.db.WithContext(ctx).Model(&models.Printing{}).
		Joins("JOIN cards ON cards.id = printings.card_id").
		Joins("JOIN card_sets ON card_sets.id = printings.card_set_id").
		Select(`printings.id, cards.name, cards.type_line, printings.collector_number,
			printings.rarity, card_sets.name AS set_name, card_sets.code AS set_code,
			card_sets.tcg_group_id AS group_id, printings.tcg_product_id AS product_id`)

	query = query.
		Order("EXISTS(SELECT 1 FROM user_cards WHERE user_cards.printing_id = printings.id) DESC").
		Order("cards.name")

	var rows []pricingRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	urgentSet := make(map[uint]bool, len(urgent))
	for _, id := range urgent {
		urgentSet[id] = true
	}

	pricable := make([]pricingRow, 0, len(rows))
	var rest []pricingRow
	for _, row := range rows {
		card := models.Card{Name: row.Name, TypeLine: row.TypeLine}
		if card.IsBasicLand() {
			continue
		}
		if urgentSet[row.ID] {
			pricable = append(pricable, row)
		} else {
			rest = append(rest, row)
		}
	}
	return append(pricable, rest...), nil
}
