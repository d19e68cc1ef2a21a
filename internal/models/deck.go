package models

import (
	"time"
)

type DeckSection string

const (
	SectionMain      DeckSection = "main"
	SectionSideboard DeckSection = "sideboard"
)

// Format is a named constructed format. The catch-all "Other" format is
// seeded at startup and used for imported decks.
type Format struct {
	ID   uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}

const FormatOther = "Other"

// Deck is a named collection of cards for a user. Decks are soft-deleted so
// they can be restored.
type Deck struct {
	ID        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    uint   `json:"user_id" gorm:"not null;index"`
	Name      string `json:"name" gorm:"not null"`
	FormatID  uint   `json:"format_id" gorm:"not null"`
	Format    Format `json:"format" gorm:"foreignKey:FormatID"`
	Deleted   bool   `json:"deleted" gorm:"not null;default:false"`
	CardArtID *uint  `json:"card_art_id"`
	Notes     string `json:"notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeckCard is a line item linking a Deck to a Card. Names are resolved to a
// stable card id once, at import time.
type DeckCard struct {
	ID       uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	DeckID   uint        `json:"deck_id" gorm:"not null;index"`
	CardID   uint        `json:"card_id" gorm:"not null"`
	Card     Card        `json:"card" gorm:"foreignKey:CardID"`
	Quantity int         `json:"quantity" gorm:"not null"`
	Section  DeckSection `json:"section" gorm:"not null;default:'main'"`
}

// DeckImportLine is one line of a deck list import.
type DeckImportLine struct {
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Section  DeckSection `json:"section"`
}

type DeckImportRequest struct {
	Name  string           `json:"name"`
	Notes string           `json:"notes"`
	Cards []DeckImportLine `json:"cards" binding:"required"`
}

// DeckEntry is one deck line as presented to the client.
type DeckEntry struct {
	DeckCardID   uint   `json:"deck_card_id"`
	CardID       uint   `json:"card_id"`
	Name         string `json:"name"`
	TypeLine     string `json:"type_line"`
	ManaCost     string `json:"mana_cost"`
	CardType     string `json:"card_type"`
	Quantity     int    `json:"quantity"`
	OwnedCount   *int   `json:"owned_count"`
	Insufficient bool   `json:"insufficient_quantity"`

	// Set on type-header rows that precede each type group.
	IsTypeHeader bool   `json:"is_type_header,omitempty"`
	Label        string `json:"label,omitempty"`
	Count        int    `json:"count,omitempty"`
}
