package models

import (
	"strings"
	"time"
)

// Card is a unique named game object. Alternate printings of the same card
// share one Card row; the row is never deleted once created.
type Card struct {
	ID         uint    `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string  `json:"name" gorm:"type:TEXT COLLATE NOCASE;uniqueIndex;not null"`
	Colors     string  `json:"colors"`
	ManaCost   string  `json:"mana_cost"`
	CMC        float64 `json:"cmc"`
	TypeLine   string  `json:"type_line"`
	Multifaced bool    `json:"multifaced"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var basicLandNames = map[string]bool{
	"plains":   true,
	"island":   true,
	"swamp":    true,
	"mountain": true,
	"forest":   true,
	"wastes":   true,
}

// IsBasicLand reports whether the card is a basic land. Basic lands are
// excluded from product-id lookup and pricing, and deck quantities for them
// are always considered sufficient.
func (c *Card) IsBasicLand() bool {
	if strings.HasPrefix(strings.ToLower(c.TypeLine), "basic land") {
		return true
	}
	return basicLandNames[strings.ToLower(c.Name)]
}

// CardSet is a named release/edition. At most one row per case-insensitive
// set code.
type CardSet struct {
	ID         uint    `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string  `json:"name" gorm:"not null"`
	Code       string  `json:"code" gorm:"type:TEXT COLLATE NOCASE;uniqueIndex;not null"`
	ReleasedAt string  `json:"released_at"`
	TCGGroupID *int    `json:"tcg_group_id"`
	IconURL    *string `json:"icon_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Printing is a specific appearance of a Card in a CardSet. Unique per
// (card, set, collector number) and per external identifier.
type Printing struct {
	ID              uint    `json:"id" gorm:"primaryKey;autoIncrement"`
	CardID          uint    `json:"card_id" gorm:"not null;uniqueIndex:idx_printing_card_set_number;index"`
	Card            Card    `json:"card" gorm:"foreignKey:CardID"`
	CardSetID       uint    `json:"card_set_id" gorm:"not null;uniqueIndex:idx_printing_card_set_number"`
	CardSet         CardSet `json:"card_set" gorm:"foreignKey:CardSetID"`
	CollectorNumber string  `json:"collector_number" gorm:"not null;uniqueIndex:idx_printing_card_set_number"`
	ExternalID      string  `json:"external_id" gorm:"uniqueIndex;not null"`
	Rarity          string  `json:"rarity"`
	Language        string  `json:"language" gorm:"default:'English'"`

	Price        *float64 `json:"price"`
	FoilPrice    *float64 `json:"foil_price"`
	TCGProductID *int     `json:"tcg_product_id"`

	// Lazily populated on read.
	ImageURL *string `json:"image_url"`
	ArtURL   *string `json:"art_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExternalCard is a card record normalized from the external catalog,
// the input shape of the reconciliation engine.
type ExternalCard struct {
	Name            string  `json:"name"`
	SetCode         string  `json:"set_code"`
	SetName         string  `json:"set_name"`
	CollectorNumber string  `json:"collector_number"`
	ExternalID      string  `json:"external_id"`
	Rarity          string  `json:"rarity"`
	Language        string  `json:"language"`
	Colors          string  `json:"colors"`
	ManaCost        string  `json:"mana_cost"`
	CMC             float64 `json:"cmc"`
	TypeLine        string  `json:"type_line"`
	Multifaced      bool    `json:"multifaced"`
	ReleasedAt      string  `json:"released_at"`
	PriceGroupID    *int    `json:"price_group_id"`
}

// SetMeta is the external catalog's record for a set.
type SetMeta struct {
	Name         string `json:"name"`
	Code         string `json:"code"`
	ReleasedAt   string `json:"released_at"`
	PriceGroupID *int   `json:"price_group_id"`
	IconURL      string `json:"icon_url"`
}
