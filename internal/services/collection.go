package services

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/metrics"
	"github.com/cardshelf/collector/backend/internal/models"
)

const collectionPageSize = 50

// ImageSource supplies lazily-fetched image URLs for printings and sets.
type ImageSource interface {
	GetImages(ctx context.Context, setCode, collectorNumber string) (CardImages, error)
	GetSet(ctx context.Context, code string) (models.SetMeta, error)
}

// CollectionService is the ownership ledger. It maintains at most one
// UserCard row per (user, printing, foil) and never lets a row persist with
// quantity at or below zero. All mutations are atomic at the store level so
// concurrent requests on the same key cannot lose updates.
type CollectionService struct {
	db      *gorm.DB
	imagery ImageSource
	log     *zap.Logger
}

func NewCollectionService(db *gorm.DB, imagery ImageSource, log *zap.Logger) *CollectionService {
	return &CollectionService{db: db, imagery: imagery, log: log}
}

// Add records quantity copies of a printing variant. Merges into the
// existing row when one exists; otherwise inserts, guarded against a
// concurrent insert for the same key.
func (s *CollectionService) Add(ctx context.Context, userID, printingID uint, foil bool, quantity int) error {
	if quantity <= 0 {
		return errs.NotFoundf("quantity must be positive")
	}

	var printingCount int64
	if err := s.db.WithContext(ctx).Model(&models.Printing{}).
		Where("id = ?", printingID).Count(&printingCount).Error; err != nil {
		return err
	}
	if printingCount == 0 {
		return errs.NotFoundf("printing %d", printingID)
	}

	metrics.LedgerMutationsTotal.WithLabelValues("add").Inc()

	// Unconditional merge first: an atomic increment never creates a second
	// row for the key.
	result := s.db.WithContext(ctx).Model(&models.UserCard{}).
		Where("user_id = ? AND printing_id = ? AND foil = ?", userID, printingID, foil).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	row := models.UserCard{
		UserID:     userID,
		PrintingID: printingID,
		Foil:       foil,
		Quantity:   quantity,
	}
	result = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Lost the insert race; the winner's row takes the increment.
		return s.db.WithContext(ctx).Model(&models.UserCard{}).
			Where("user_id = ? AND printing_id = ? AND foil = ?", userID, printingID, foil).
			UpdateColumn("quantity", gorm.Expr("quantity + ?", quantity)).Error
	}
	return nil
}

// Remove subtracts quantity copies from the ledger row. Reports not-found
// both when the row does not exist and when it holds fewer copies than
// requested; the row is deleted when its quantity reaches zero.
func (s *CollectionService) Remove(ctx context.Context, userID, printingID uint, foil bool, quantity int) error {
	if quantity <= 0 {
		return errs.NotFoundf("quantity must be positive")
	}

	metrics.LedgerMutationsTotal.WithLabelValues("remove").Inc()

	result := s.db.WithContext(ctx).Model(&models.UserCard{}).
		Where("user_id = ? AND printing_id = ? AND foil = ? AND quantity >= ?",
			userID, printingID, foil, quantity).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NotFoundf("could not find card")
	}

	return s.db.WithContext(ctx).
		Where("user_id = ? AND printing_id = ? AND foil = ? AND quantity <= 0",
			userID, printingID, foil).
		Delete(&models.UserCard{}).Error
}

// editTransition enumerates the outcomes of an Edit: update the row where
// it is, delete it, or merge it into the row holding the opposite foil
// variant. Keeping the decision explicit makes the merge invariant testable
// on its own.
type editTransition int

const (
	editInPlace editTransition = iota
	editDelete
	editMergeOpposite
)

// decideEdit picks the transition for an edit request.
func decideEdit(currentFoil, newFoil, oppositeExists bool, newQuantity int) editTransition {
	if currentFoil != newFoil && oppositeExists {
		return editMergeOpposite
	}
	if newQuantity <= 0 {
		return editDelete
	}
	return editInPlace
}

// Edit sets a ledger row's quantity and foil flag. Flipping foil when a row
// for the opposite variant already exists merges this row's new quantity
// into that row and deletes this one, preserving at most one row per
// (user, printing, foil).
func (s *CollectionService) Edit(ctx context.Context, userID, userCardID uint, req models.EditCardRequest) error {
	metrics.LedgerMutationsTotal.WithLabelValues("edit").Inc()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.UserCard
		err := tx.Where("id = ? AND user_id = ?", userCardID, userID).First(&current).Error
		if err == gorm.ErrRecordNotFound {
			return errs.NotFoundf("user card %d", userCardID)
		}
		if err != nil {
			return err
		}

		if req.TCGProductID != nil {
			err := tx.Model(&models.Printing{}).
				Where("id = ? AND tcg_product_id IS NULL", current.PrintingID).
				Update("tcg_product_id", *req.TCGProductID).Error
			if err != nil {
				return err
			}
		}

		var opposite models.UserCard
		oppositeExists := false
		if current.Foil != req.Foil {
			err := tx.Where("user_id = ? AND printing_id = ? AND foil = ?",
				userID, current.PrintingID, req.Foil).First(&opposite).Error
			if err == nil {
				oppositeExists = true
			} else if err != gorm.ErrRecordNotFound {
				return err
			}
		}

		switch decideEdit(current.Foil, req.Foil, oppositeExists, req.Quantity) {
		case editMergeOpposite:
			err := tx.Model(&models.UserCard{}).
				Where("id = ?", opposite.ID).
				UpdateColumn("quantity", gorm.Expr("quantity + ?", req.Quantity)).Error
			if err != nil {
				return err
			}
			if err := tx.Delete(&current).Error; err != nil {
				return err
			}
			// An edit down to zero or below must not leave an empty row.
			return tx.Where("id = ? AND quantity <= 0", opposite.ID).
				Delete(&models.UserCard{}).Error

		case editDelete:
			return tx.Delete(&current).Error

		default:
			return tx.Model(&current).Updates(map[string]interface{}{
				"quantity": req.Quantity,
				"foil":     req.Foil,
			}).Error
		}
	})
}

type collectionRow struct {
	UserCardID      uint
	Name            string
	SetName         string
	SetCode         string
	SetID           uint
	CollectorNumber string
	Rarity          string
	Quantity        int
	Foil            bool
	Price           *float64
	FoilPrice       *float64
	ImageURL        *string
	SetIconURL      *string
	PrintingID      uint
}

// List returns one page of the user's collection with aggregate totals,
// prices converted to the user's currency, and image URLs populated on
// first read.
func (s *CollectionService) List(ctx context.Context, userID uint, query models.CollectionQuery) (models.CollectionPage, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * collectionPageSize

	base := s.db.WithContext(ctx).Model(&models.UserCard{}).
		Joins("JOIN printings ON printings.id = user_cards.printing_id").
		Joins("JOIN cards ON cards.id = printings.card_id").
		Joins("JOIN card_sets ON card_sets.id = printings.card_set_id").
		Where("user_cards.user_id = ?", userID)

	if query.Filter.Search != "" {
		base = base.Where("cards.name LIKE ?", "%"+query.Filter.Search+"%")
	}
	if query.Filter.SetID != 0 {
		base = base.Where("card_sets.id = ?", query.Filter.SetID)
	}
	if query.Filter.Rarity != "" {
		base = base.Where("printings.rarity = ?", query.Filter.Rarity)
	}

	var aggregate struct {
		Count int
		Total *int
	}
	err := base.Session(&gorm.Session{}).
		Select("COUNT(*) AS count, SUM(user_cards.quantity) AS total").
		Scan(&aggregate).Error
	if err != nil {
		return models.CollectionPage{}, err
	}

	direction := "ASC"
	if query.Descending {
		direction = "DESC"
	}

	var rows []collectionRow
	err = base.Session(&gorm.Session{}).
		Select(`user_cards.id AS user_card_id, cards.name, card_sets.name AS set_name,
			card_sets.code AS set_code, card_sets.id AS set_id, card_sets.icon_url AS set_icon_url,
			printings.collector_number, printings.rarity, printings.image_url, printings.id AS printing_id,
			printings.price, printings.foil_price, user_cards.quantity, user_cards.foil`).
		Order(query.Sort.Column() + " " + direction).
		Order("card_sets.code").
		Order("printings.collector_number").
		Limit(collectionPageSize).
		Offset(offset).
		Scan(&rows).Error
	if err != nil {
		return models.CollectionPage{}, err
	}

	currency, rate := s.userCurrency(ctx, userID)

	result := models.CollectionPage{
		Cards:     make([]models.CollectionEntry, 0, len(rows)),
		PageCount: (aggregate.Count + collectionPageSize - 1) / collectionPageSize,
	}
	if aggregate.Total != nil {
		result.TotalOwned = *aggregate.Total
	}

	for _, row := range rows {
		s.ensureImages(ctx, &row)

		price := row.Price
		if row.Foil {
			price = row.FoilPrice
		}
		var converted *float64
		if price != nil {
			v := *price * rate
			converted = &v
		}

		result.Cards = append(result.Cards, models.CollectionEntry{
			UserCardID:      row.UserCardID,
			Name:            row.Name,
			SetName:         row.SetName,
			SetCode:         row.SetCode,
			CollectorNumber: row.CollectorNumber,
			Rarity:          row.Rarity,
			Quantity:        row.Quantity,
			Foil:            row.Foil,
			Price:           converted,
			CurrencyCode:    currency,
			ImageURL:        row.ImageURL,
			SetIconURL:      row.SetIconURL,
		})
	}
	return result, nil
}

// userCurrency resolves the user's display currency and its USD rate.
// Unknown currencies fall back to USD at parity.
func (s *CollectionService) userCurrency(ctx context.Context, userID uint) (string, float64) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return "USD", 1
	}
	if user.CurrencyCode == "" || user.CurrencyCode == "USD" {
		return "USD", 1
	}

	var rate models.ExchangeRate
	if err := s.db.WithContext(ctx).Where("code = ?", user.CurrencyCode).First(&rate).Error; err != nil {
		return "USD", 1
	}
	return user.CurrencyCode, rate.Rate
}

// ensureImages populates missing printing image and set icon URLs from the
// catalog, persisting them for subsequent reads. Failures are logged and
// the listing proceeds without the image.
func (s *CollectionService) ensureImages(ctx context.Context, row *collectionRow) {
	if s.imagery == nil {
		return
	}

	if row.ImageURL == nil {
		images, err := s.imagery.GetImages(ctx, row.SetCode, row.CollectorNumber)
		if err != nil {
			s.log.Warn("failed to fetch card images",
				zap.String("set", row.SetCode), zap.String("number", row.CollectorNumber), zap.Error(err))
		} else {
			err = s.db.WithContext(ctx).Model(&models.Printing{}).
				Where("id = ?", row.PrintingID).
				Updates(map[string]interface{}{
					"image_url": images.ImageURL,
					"art_url":   images.ArtURL,
				}).Error
			if err == nil {
				row.ImageURL = &images.ImageURL
			}
		}
	}

	if row.SetIconURL == nil {
		meta, err := s.imagery.GetSet(ctx, row.SetCode)
		if err != nil {
			s.log.Warn("failed to fetch set icon", zap.String("set", row.SetCode), zap.Error(err))
			return
		}
		err = s.db.WithContext(ctx).Model(&models.CardSet{}).
			Where("id = ?", row.SetID).
			Update("icon_url", meta.IconURL).Error
		if err == nil {
			row.SetIconURL = &meta.IconURL
		}
	}
}

// CardDetail is the expanded view of one owned printing.
type CardDetail struct {
	UserCardID      uint     `json:"user_card_id"`
	PrintingID      uint     `json:"printing_id"`
	Name            string   `json:"name"`
	SetName         string   `json:"set_name"`
	Rarity          string   `json:"rarity"`
	Quantity        int      `json:"quantity"`
	Foil            bool     `json:"foil"`
	Price           *float64 `json:"price"`
	CurrencyCode    string   `json:"currency_code"`
	TCGProductID    *int     `json:"tcg_product_id"`
	PrintingsOwned  int      `json:"printings_owned"`
	Decks           []DeckRef `json:"decks"`
}

// DeckRef names a deck that uses the card.
type DeckRef struct {
	DeckID   uint   `json:"deck_id"`
	Name     string `json:"name"`
	Format   string `json:"format"`
	Quantity int    `json:"quantity"`
}

// Detail returns the expanded view of one ledger row, including how many
// printings of the card the user owns overall and the decks using it.
func (s *CollectionService) Detail(ctx context.Context, userID, userCardID uint) (CardDetail, error) {
	var row models.UserCard
	err := s.db.WithContext(ctx).
		Preload("Printing").Preload("Printing.Card").Preload("Printing.CardSet").
		Where("id = ? AND user_id = ?", userCardID, userID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return CardDetail{}, errs.NotFoundf("user card %d", userCardID)
	}
	if err != nil {
		return CardDetail{}, err
	}

	currency, rate := s.userCurrency(ctx, userID)

	detail := CardDetail{
		UserCardID:   row.ID,
		PrintingID:   row.PrintingID,
		Name:         row.Printing.Card.Name,
		SetName:      row.Printing.CardSet.Name,
		Rarity:       row.Printing.Rarity,
		Quantity:     row.Quantity,
		Foil:         row.Foil,
		CurrencyCode: currency,
		TCGProductID: row.Printing.TCGProductID,
	}

	price := row.Printing.Price
	if row.Foil {
		price = row.Printing.FoilPrice
	}
	if price != nil {
		v := *price * rate
		detail.Price = &v
	}

	var owned *int
	err = s.db.WithContext(ctx).Model(&models.UserCard{}).
		Joins("JOIN printings ON printings.id = user_cards.printing_id").
		Where("user_cards.user_id = ? AND printings.card_id = ?", userID, row.Printing.CardID).
		Select("SUM(user_cards.quantity)").
		Scan(&owned).Error
	if err != nil {
		return CardDetail{}, err
	}
	if owned != nil {
		detail.PrintingsOwned = *owned
	}

	err = s.db.WithContext(ctx).Model(&models.DeckCard{}).
		Joins("JOIN decks ON decks.id = deck_cards.deck_id").
		Joins("JOIN formats ON formats.id = decks.format_id").
		Where("decks.user_id = ? AND decks.deleted = ? AND deck_cards.card_id = ?",
			userID, false, row.Printing.CardID).
		Select(`decks.id AS deck_id, decks.name, formats.name AS format,
			SUM(deck_cards.quantity) AS quantity`).
		Group("decks.id").
		Order("decks.format_id, decks.name").
		Scan(&detail.Decks).Error
	if err != nil {
		return CardDetail{}, err
	}

	return detail, nil
}

// PriceHistory returns the recorded daily quotes for the printing behind a
// ledger row, converted to the user's currency.
func (s *CollectionService) PriceHistory(ctx context.Context, userID, userCardID uint) ([]models.PriceHistory, error) {
	var row models.UserCard
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", userCardID, userID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.NotFoundf("user card %d", userCardID)
	}
	if err != nil {
		return nil, err
	}

	var history []models.PriceHistory
	err = s.db.WithContext(ctx).
		Where("printing_id = ?", row.PrintingID).
		Order("day").
		Find(&history).Error
	if err != nil {
		return nil, err
	}

	_, rate := s.userCurrency(ctx, userID)
	if rate != 1 {
		for i := range history {
			if history[i].Price != nil {
				v := *history[i].Price * rate
				history[i].Price = &v
			}
			if history[i].FoilPrice != nil {
				v := *history[i].FoilPrice * rate
				history[i].FoilPrice = &v
			}
		}
	}
	return history, nil
}
