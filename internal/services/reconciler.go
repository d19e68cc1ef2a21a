package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/metrics"
	"github.com/cardshelf/collector/backend/internal/models"
)

// CatalogClient is the narrow contract the reconciler needs from the
// external card catalog.
type CatalogClient interface {
	GetSet(ctx context.Context, code string) (models.SetMeta, error)
}

// PriceClient is the narrow contract the reconciler needs from the price
// provider.
type PriceClient interface {
	Login(ctx context.Context) (string, error)
	SearchProduct(ctx context.Context, card ProductQuery, token string) (*int, error)
	GetPrices(ctx context.Context, products map[string]int, token string) (map[string]PriceQuote, error)
}

// ReconcilerService deduplicates incoming catalog records against the
// existing Card/CardSet/Printing tables and prices newly created printings.
// It is stateless; the database is the sole synchronization point, so every
// insert is guarded by a unique index and ON CONFLICT DO NOTHING.
type ReconcilerService struct {
	db      *gorm.DB
	catalog CatalogClient
	prices  PriceClient
	log     *zap.Logger
}

func NewReconcilerService(db *gorm.DB, catalog CatalogClient, prices PriceClient, log *zap.Logger) *ReconcilerService {
	return &ReconcilerService{db: db, catalog: catalog, prices: prices, log: log}
}

// ImportCards reconciles a batch of normalized external records. The
// operation is idempotent: records whose external id is already known are
// skipped, and re-running the same batch changes nothing. Rows committed
// before a failure remain valid; each record's insertion is independent.
func (s *ReconcilerService) ImportCards(ctx context.Context, records []models.ExternalCard) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.ImportBatchDuration.Observe(time.Since(start).Seconds())
	}()

	sets, err := s.resolveSets(ctx, records)
	if err != nil {
		return err
	}

	known, err := s.knownExternalIDs(records)
	if err != nil {
		return err
	}

	var created []models.Printing
	for _, record := range records {
		if known[record.ExternalID] {
			s.log.Debug("skipping known printing",
				zap.String("name", record.Name), zap.String("external_id", record.ExternalID))
			metrics.ImportRecordsTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		set, ok := sets[strings.ToUpper(record.SetCode)]
		if !ok {
			// Set resolution already failed and was logged; skip the record.
			metrics.ImportRecordsTotal.WithLabelValues("failed").Inc()
			continue
		}

		printing, inserted, err := s.insertPrinting(record, set)
		if err != nil {
			s.log.Error("failed to reconcile record",
				zap.String("name", record.Name), zap.String("set", record.SetCode), zap.Error(err))
			metrics.ImportRecordsTotal.WithLabelValues("failed").Inc()
			continue
		}
		if !inserted {
			// Lost a race or the key already existed under a different
			// external id; either way the row is present, nothing to price.
			metrics.ImportRecordsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		metrics.ImportRecordsTotal.WithLabelValues("inserted").Inc()
		created = append(created, printing)
	}

	return s.priceNewPrintings(ctx, created)
}

// resolveSets ensures a CardSet row exists for every distinct set code in
// the batch, fetching metadata for unknown codes. Two batches racing on the
// same new code cannot create duplicates; the insert is conditional on the
// unique code index.
func (s *ReconcilerService) resolveSets(ctx context.Context, records []models.ExternalCard) (map[string]models.CardSet, error) {
	codes := make(map[string]models.ExternalCard)
	for _, record := range records {
		codes[strings.ToUpper(record.SetCode)] = record
	}

	sets := make(map[string]models.CardSet, len(codes))
	for code, record := range codes {
		var set models.CardSet
		err := s.db.Where("code = ?", code).First(&set).Error
		if err == nil {
			sets[code] = set
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}

		meta, err := s.catalog.GetSet(ctx, code)
		if err != nil {
			if errs.IsExternal(err) {
				return nil, err
			}
			s.log.Error("failed to resolve set", zap.String("code", code), zap.Error(err))
			continue
		}

		set = models.CardSet{
			Name:       meta.Name,
			Code:       code,
			ReleasedAt: meta.ReleasedAt,
			TCGGroupID: meta.PriceGroupID,
		}
		if meta.IconURL != "" {
			set.IconURL = &meta.IconURL
		}
		if set.ReleasedAt == "" {
			set.ReleasedAt = record.ReleasedAt
		}

		result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&set)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected > 0 {
			metrics.SetsCreatedTotal.Inc()
		} else {
			// Benign: a concurrent batch won the insert.
			if err := s.db.Where("code = ?", code).First(&set).Error; err != nil {
				return nil, err
			}
		}
		sets[code] = set
	}
	return sets, nil
}

// knownExternalIDs returns the batch's external ids that already exist on
// some printing. Re-submitting an already-imported payload is a no-op.
func (s *ReconcilerService) knownExternalIDs(records []models.ExternalCard) (map[string]bool, error) {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ExternalID)
	}

	var existing []string
	if err := s.db.Model(&models.Printing{}).
		Where("external_id IN ?", ids).
		Pluck("external_id", &existing).Error; err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}
	return known, nil
}

// insertPrinting resolves the record's Card by case-insensitive name,
// creating it when missing, then conditionally inserts the Printing.
// Returns inserted=false when the printing row already existed.
func (s *ReconcilerService) insertPrinting(record models.ExternalCard, set models.CardSet) (models.Printing, bool, error) {
	var card models.Card
	err := s.db.Where("name = ?", record.Name).First(&card).Error
	if err == gorm.ErrRecordNotFound {
		card = models.Card{
			Name:       record.Name,
			Colors:     record.Colors,
			ManaCost:   record.ManaCost,
			CMC:        record.CMC,
			TypeLine:   stripNonASCII(record.TypeLine),
			Multifaced: record.Multifaced,
		}
		result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&card)
		if result.Error != nil {
			return models.Printing{}, false, result.Error
		}
		if result.RowsAffected > 0 {
			metrics.CardsCreatedTotal.Inc()
		} else {
			if err := s.db.Where("name = ?", record.Name).First(&card).Error; err != nil {
				return models.Printing{}, false, err
			}
		}
	} else if err != nil {
		return models.Printing{}, false, err
	}

	language := record.Language
	if language == "" {
		language = "English"
	}
	printing := models.Printing{
		CardID:          card.ID,
		CardSetID:       set.ID,
		CollectorNumber: record.CollectorNumber,
		ExternalID:      record.ExternalID,
		Rarity:          record.Rarity,
		Language:        language,
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&printing)
	if result.Error != nil {
		return models.Printing{}, false, result.Error
	}
	printing.Card = card
	return printing, result.RowsAffected > 0, nil
}

// priceNewPrintings resolves provider product ids for the freshly inserted
// printings and persists their first quotes. Basic lands are excluded; they
// have no meaningful individual market price. A record that cannot be
// matched proceeds without a price rather than failing the batch.
func (s *ReconcilerService) priceNewPrintings(ctx context.Context, printings []models.Printing) error {
	if len(printings) == 0 {
		return nil
	}

	token, err := s.prices.Login(ctx)
	if err != nil {
		return err
	}

	toPrice := make(map[string]int)
	for _, printing := range printings {
		if printing.Card.IsBasicLand() {
			continue
		}

		var set models.CardSet
		if err := s.db.First(&set, printing.CardSetID).Error; err != nil {
			return err
		}

		productID, err := s.prices.SearchProduct(ctx, ProductQuery{
			Name:            printing.Card.Name,
			SetName:         set.Name,
			SetCode:         set.Code,
			Rarity:          printing.Rarity,
			CollectorNumber: printing.CollectorNumber,
			GroupID:         set.TCGGroupID,
		}, token)
		if err != nil {
			return err
		}
		if productID == nil {
			continue
		}

		if err := s.db.Model(&models.Printing{}).
			Where("id = ? AND tcg_product_id IS NULL", printing.ID).
			Update("tcg_product_id", *productID).Error; err != nil {
			return err
		}
		toPrice[strconv.FormatUint(uint64(printing.ID), 10)] = *productID
	}

	quotes, err := s.prices.GetPrices(ctx, toPrice, token)
	if err != nil {
		return err
	}

	return s.persistQuotes(quotes)
}

// persistQuotes writes price fields for quotes carrying at least one
// non-null value. A double-null quote never clobbers stored prices.
func (s *ReconcilerService) persistQuotes(quotes map[string]PriceQuote) error {
	for key, quote := range quotes {
		if quote.Normal == nil && quote.Foil == nil {
			continue
		}
		printingID, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			continue
		}
		err = s.db.Model(&models.Printing{}).
			Where("id = ?", printingID).
			Updates(map[string]interface{}{
				"price":      quote.Normal,
				"foil_price": quote.Foil,
			}).Error
		if err != nil {
			return err
		}
		metrics.PriceUpdatesTotal.Inc()
	}
	return nil
}

var unicodeReplacements = map[string]string{
	"’": "'",
	"“": `"`,
	"”": `"`,
	"—": "-",
}

// stripNonASCII replaces common typographic characters with ASCII
// equivalents and drops the rest.
func stripNonASCII(s string) string {
	for from, to := range unicodeReplacements {
		s = strings.ReplaceAll(s, from, to)
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
