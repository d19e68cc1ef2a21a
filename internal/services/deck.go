package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/models"
)

// DeckService manages deck composition: importing deck lists by card name,
// retrieving type-grouped listings annotated with collection availability,
// and deck lifecycle (soft delete and restore).
type DeckService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewDeckService(db *gorm.DB, log *zap.Logger) *DeckService {
	return &DeckService{db: db, log: log}
}

// DeckSummary is a deck as presented in listings, with enough of its cover
// art printing to render an image.
type DeckSummary struct {
	ID              uint    `json:"id"`
	Name            string  `json:"name"`
	Format          string  `json:"format"`
	CardArtID       *uint   `json:"card_art_id"`
	CollectorNumber *string `json:"collector_number"`
	SetCode         *string `json:"set_code"`
	Notes           string  `json:"notes"`
}

// DeckCards is a deck listing partitioned into sections, each type-grouped.
type DeckCards struct {
	Main      []models.DeckEntry `json:"main"`
	Sideboard []models.DeckEntry `json:"sideboard"`
}

// GetAll lists the user's decks, ordered by format then name. Pass deleted
// to list the soft-deleted decks instead.
func (s *DeckService) GetAll(ctx context.Context, userID uint, deleted bool) ([]DeckSummary, error) {
	var decks []models.Deck
	err := s.db.WithContext(ctx).Preload("Format").
		Where("user_id = ? AND deleted = ?", userID, deleted).
		Order("format_id, name").
		Find(&decks).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]DeckSummary, 0, len(decks))
	for _, deck := range decks {
		summary := DeckSummary{
			ID:        deck.ID,
			Name:      deck.Name,
			Format:    deck.Format.Name,
			CardArtID: deck.CardArtID,
			Notes:     deck.Notes,
		}
		if deck.CardArtID != nil {
			number, code, err := s.latestPrinting(ctx, *deck.CardArtID)
			if err == nil {
				summary.CollectorNumber = &number
				summary.SetCode = &code
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Get returns one deck, scoped to the user.
func (s *DeckService) Get(ctx context.Context, userID, deckID uint) (DeckSummary, error) {
	var deck models.Deck
	err := s.db.WithContext(ctx).Preload("Format").
		Where("id = ? AND user_id = ?", deckID, userID).
		First(&deck).Error
	if err == gorm.ErrRecordNotFound {
		return DeckSummary{}, errs.NotFoundf("deck %d", deckID)
	}
	if err != nil {
		return DeckSummary{}, err
	}

	summary := DeckSummary{
		ID:        deck.ID,
		Name:      deck.Name,
		Format:    deck.Format.Name,
		CardArtID: deck.CardArtID,
		Notes:     deck.Notes,
	}
	if deck.CardArtID != nil {
		number, code, err := s.latestPrinting(ctx, *deck.CardArtID)
		if err == nil {
			summary.CollectorNumber = &number
			summary.SetCode = &code
		}
	}
	return summary, nil
}

// latestPrinting returns the collector number and set code of the card's
// most recent printing, used to render cover art.
func (s *DeckService) latestPrinting(ctx context.Context, cardID uint) (string, string, error) {
	var row struct {
		CollectorNumber string
		Code            string
	}
	err := s.db.WithContext(ctx).Model(&models.Printing{}).
		Joins("JOIN card_sets ON card_sets.id = printings.card_set_id").
		Where("printings.card_id = ?", cardID).
		Order("card_sets.released_at DESC").
		Select("printings.collector_number, card_sets.code").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return "", "", err
	}
	if row.Code == "" {
		return "", "", errs.NotFoundf("printing for card %d", cardID)
	}
	return row.CollectorNumber, row.Code, nil
}

// DoImport creates a deck from a list of named lines. The name defaults to
// a timestamped label, the format to the catch-all "Other", and each line's
// card name is resolved to a catalog id before insertion. An unresolvable
// name aborts the import. A pseudorandom card from the deck becomes its
// cover art.
func (s *DeckService) DoImport(ctx context.Context, userID uint, req models.DeckImportRequest) (uint, error) {
	name := req.Name
	if name == "" {
		name = "Imported Deck " + time.Now().Format("2006-01-02 15:04:05")
	}

	var deckID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var format models.Format
		err := tx.Where("name = ?", models.FormatOther).First(&format).Error
		if err != nil {
			return err
		}

		deck := models.Deck{
			UserID:   userID,
			Name:     name,
			FormatID: format.ID,
			Notes:    req.Notes,
		}
		if err := tx.Create(&deck).Error; err != nil {
			return err
		}
		deckID = deck.ID

		for _, line := range req.Cards {
			cardID, err := s.matchCard(tx, line.Name)
			if err != nil {
				return err
			}
			section := line.Section
			if section != models.SectionSideboard {
				section = models.SectionMain
			}
			quantity := line.Quantity
			if quantity < 1 {
				quantity = 1
			}
			entry := models.DeckCard{
				DeckID:   deckID,
				CardID:   cardID,
				Quantity: quantity,
				Section:  section,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}

		return setRandomCoverArt(tx, deckID)
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("imported deck",
		zap.Uint("deck_id", deckID),
		zap.String("name", name),
		zap.Int("cards", len(req.Cards)))
	return deckID, nil
}

// matchCard resolves a deck list name to a card id. Exact case-insensitive
// match wins; otherwise a single-faced name matches the front face of a
// multifaced card.
func (s *DeckService) matchCard(tx *gorm.DB, name string) (uint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errs.NotFoundf("empty card name")
	}

	var card models.Card
	err := tx.Where("name = ?", name).First(&card).Error
	if err == nil {
		return card.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}

	err = tx.Where("name LIKE ?", name+" // %").First(&card).Error
	if err == gorm.ErrRecordNotFound {
		return 0, errs.NotFoundf("card %q", name)
	}
	if err != nil {
		return 0, err
	}
	return card.ID, nil
}

// setRandomCoverArt picks a pseudorandom card among the deck's cards as the
// deck's cover art.
func setRandomCoverArt(tx *gorm.DB, deckID uint) error {
	var cardIDs []uint
	err := tx.Model(&models.DeckCard{}).
		Where("deck_id = ?", deckID).
		Order("RANDOM()").
		Limit(1).
		Pluck("card_id", &cardIDs).Error
	if err != nil {
		return err
	}
	if len(cardIDs) == 0 {
		return nil
	}
	return tx.Model(&models.Deck{}).Where("id = ?", deckID).
		Update("card_art_id", cardIDs[0]).Error
}

// typeOrder fixes the presentation order of type groups in a deck listing.
var typeOrder = map[string]int{
	"Creature":     0,
	"Planeswalker": 1,
	"Instant":      2,
	"Sorcery":      3,
	"Artifact":     4,
	"Enchantment":  5,
	"Battle":       6,
	"Land":         7,
	"Other":        8,
}

// cardType extracts the primary type from a type line. Multifaced type
// lines use the front face.
func cardType(typeLine string) string {
	if idx := strings.Index(typeLine, " // "); idx >= 0 {
		typeLine = typeLine[:idx]
	}
	for _, t := range []string{"Creature", "Planeswalker", "Instant", "Sorcery", "Artifact", "Enchantment", "Battle", "Land"} {
		if strings.Contains(typeLine, t) {
			return t
		}
	}
	return "Other"
}

type deckCardRow struct {
	DeckCardID uint
	CardID     uint
	Name       string
	TypeLine   string
	ManaCost   string
	Quantity   int
	Section    models.DeckSection
	Owned      *int
}

// GetCards returns the deck's cards partitioned into main and sideboard.
// Within each section, cards are grouped by primary type with a header row
// preceding each group; each line carries the count of copies owned across
// all printings, and lines where the deck needs more copies than the
// collection holds are flagged. Basic lands are always considered
// sufficient.
func (s *DeckService) GetCards(ctx context.Context, userID, deckID uint) (DeckCards, error) {
	var deckCount int64
	err := s.db.WithContext(ctx).Model(&models.Deck{}).
		Where("id = ? AND user_id = ?", deckID, userID).Count(&deckCount).Error
	if err != nil {
		return DeckCards{}, err
	}
	if deckCount == 0 {
		return DeckCards{}, errs.NotFoundf("deck %d", deckID)
	}

	var rows []deckCardRow
	err = s.db.WithContext(ctx).Model(&models.DeckCard{}).
		Joins("JOIN cards ON cards.id = deck_cards.card_id").
		Where("deck_cards.deck_id = ?", deckID).
		Select(`deck_cards.id AS deck_card_id, deck_cards.card_id, cards.name,
			cards.type_line, cards.mana_cost, deck_cards.quantity, deck_cards.section,
			(SELECT SUM(user_cards.quantity) FROM user_cards
				JOIN printings ON printings.id = user_cards.printing_id
				WHERE user_cards.user_id = ? AND printings.card_id = deck_cards.card_id) AS owned`,
			userID).
		Order("cards.name").
		Scan(&rows).Error
	if err != nil {
		return DeckCards{}, err
	}

	var main, sideboard []models.DeckEntry
	for _, row := range rows {
		card := models.Card{Name: row.Name, TypeLine: row.TypeLine}

		entry := models.DeckEntry{
			DeckCardID: row.DeckCardID,
			CardID:     row.CardID,
			Name:       row.Name,
			TypeLine:   row.TypeLine,
			ManaCost:   row.ManaCost,
			CardType:   cardType(row.TypeLine),
			Quantity:   row.Quantity,
			OwnedCount: row.Owned,
		}
		owned := 0
		if row.Owned != nil {
			owned = *row.Owned
		}
		entry.Insufficient = owned < row.Quantity
		if card.IsBasicLand() {
			entry.OwnedCount = nil
			entry.Insufficient = false
		}

		if row.Section == models.SectionSideboard {
			sideboard = append(sideboard, entry)
		} else {
			main = append(main, entry)
		}
	}

	return DeckCards{
		Main:      groupByType(main),
		Sideboard: groupByType(sideboard),
	}, nil
}

// groupByType orders entries by type group then name and interleaves a
// header row before each group carrying the group's total copy count.
func groupByType(entries []models.DeckEntry) []models.DeckEntry {
	if len(entries) == 0 {
		return entries
	}

	ordered := make([]models.DeckEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if typeOrder[ordered[i].CardType] != typeOrder[ordered[j].CardType] {
			return typeOrder[ordered[i].CardType] < typeOrder[ordered[j].CardType]
		}
		return ordered[i].Name < ordered[j].Name
	})

	counts := make(map[string]int)
	for _, e := range ordered {
		counts[e.CardType] += e.Quantity
	}

	result := make([]models.DeckEntry, 0, len(ordered)+len(counts))
	prevType := ""
	for _, e := range ordered {
		if e.CardType != prevType {
			prevType = e.CardType
			result = append(result, models.DeckEntry{
				IsTypeHeader: true,
				Label:        e.CardType,
				Count:        counts[e.CardType],
			})
		}
		result = append(result, e)
	}
	return result
}

// DeckUpdateRequest carries the editable deck fields.
type DeckUpdateRequest struct {
	Name     string `json:"name" binding:"required"`
	FormatID uint   `json:"format_id" binding:"required"`
	Notes    string `json:"notes"`
}

// Save updates a deck's name, format, and notes.
func (s *DeckService) Save(ctx context.Context, userID, deckID uint, req DeckUpdateRequest) error {
	result := s.db.WithContext(ctx).Model(&models.Deck{}).
		Where("id = ? AND user_id = ?", deckID, userID).
		Updates(map[string]interface{}{
			"name":      req.Name,
			"format_id": req.FormatID,
			"notes":     req.Notes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NotFoundf("deck %d", deckID)
	}
	return nil
}

// Delete soft-deletes a deck so it can be restored later.
func (s *DeckService) Delete(ctx context.Context, userID, deckID uint) error {
	return s.setDeleted(ctx, userID, deckID, true)
}

// Restore brings back a soft-deleted deck.
func (s *DeckService) Restore(ctx context.Context, userID, deckID uint) error {
	return s.setDeleted(ctx, userID, deckID, false)
}

func (s *DeckService) setDeleted(ctx context.Context, userID, deckID uint, deleted bool) error {
	result := s.db.WithContext(ctx).Model(&models.Deck{}).
		Where("id = ? AND user_id = ?", deckID, userID).
		Update("deleted", deleted)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NotFoundf("deck %d", deckID)
	}
	return nil
}

// SetCoverArt pins the deck's cover art to one of its cards.
func (s *DeckService) SetCoverArt(ctx context.Context, userID, deckID, cardID uint) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DeckCard{}).
		Joins("JOIN decks ON decks.id = deck_cards.deck_id").
		Where("deck_cards.deck_id = ? AND decks.user_id = ? AND deck_cards.card_id = ?",
			deckID, userID, cardID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return errs.NotFoundf("card %d in deck %d", cardID, deckID)
	}

	return s.db.WithContext(ctx).Model(&models.Deck{}).
		Where("id = ? AND user_id = ?", deckID, userID).
		Update("card_art_id", cardID).Error
}

// AddCard inserts or merges a deck line for a card.
func (s *DeckService) AddCard(ctx context.Context, userID, deckID, cardID uint, quantity int, section models.DeckSection) error {
	if quantity < 1 {
		quantity = 1
	}
	if section != models.SectionSideboard {
		section = models.SectionMain
	}

	var deckCount int64
	err := s.db.WithContext(ctx).Model(&models.Deck{}).
		Where("id = ? AND user_id = ?", deckID, userID).Count(&deckCount).Error
	if err != nil {
		return err
	}
	if deckCount == 0 {
		return errs.NotFoundf("deck %d", deckID)
	}

	result := s.db.WithContext(ctx).Model(&models.DeckCard{}).
		Where("deck_id = ? AND card_id = ? AND section = ?", deckID, cardID, section).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	return s.db.WithContext(ctx).Create(&models.DeckCard{
		DeckID:   deckID,
		CardID:   cardID,
		Quantity: quantity,
		Section:  section,
	}).Error
}

// RemoveCard deletes a deck line.
func (s *DeckService) RemoveCard(ctx context.Context, userID, deckID, deckCardID uint) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND deck_id = ? AND deck_id IN (SELECT id FROM decks WHERE user_id = ?)",
			deckCardID, deckID, userID).
		Delete(&models.DeckCard{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NotFoundf("deck card %d", deckCardID)
	}
	return nil
}

// GetFormats lists the known formats in seed order.
func (s *DeckService) GetFormats(ctx context.Context) ([]models.Format, error) {
	var formats []models.Format
	err := s.db.WithContext(ctx).Order("id").Find(&formats).Error
	return formats, err
}
