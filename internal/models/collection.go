package models

import (
	"time"
)

// UserCard is a user's ownership record of a Printing variant. At most one
// row exists per (user, printing, foil) and quantity is always positive; a
// row whose quantity would drop to zero or below is deleted instead.
type UserCard struct {
	ID         uint     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID     uint     `json:"user_id" gorm:"not null;uniqueIndex:idx_user_printing_foil;index"`
	PrintingID uint     `json:"printing_id" gorm:"not null;uniqueIndex:idx_user_printing_foil"`
	Printing   Printing `json:"printing" gorm:"foreignKey:PrintingID"`
	Foil       bool     `json:"foil" gorm:"not null;uniqueIndex:idx_user_printing_foil"`
	Quantity   int      `json:"quantity" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AddCardRequest struct {
	PrintingID uint `json:"printing_id" binding:"required"`
	Foil       bool `json:"foil"`
	Quantity   int  `json:"quantity"`
}

type RemoveCardRequest struct {
	PrintingID uint `json:"printing_id" binding:"required"`
	Foil       bool `json:"foil"`
	Quantity   int  `json:"quantity"`
}

type EditCardRequest struct {
	Quantity     int  `json:"quantity"`
	Foil         bool `json:"foil"`
	TCGProductID *int `json:"tcg_product_id"`
}

// SortKey is an enumerated collection sort order. Client-supplied sort
// parameters resolve through this whitelist; unknown values fall back to
// sorting by card name. Never interpolate the raw parameter into a query.
type SortKey string

const (
	SortByName     SortKey = "name"
	SortBySetName  SortKey = "setname"
	SortByRarity   SortKey = "rarity"
	SortByQuantity SortKey = "quantity"
	SortByFoil     SortKey = "foil"
	SortByPrice    SortKey = "price"
)

var sortColumns = map[SortKey]string{
	SortByName:     "cards.name",
	SortBySetName:  "card_sets.name",
	SortByRarity:   "printings.rarity",
	SortByQuantity: "user_cards.quantity",
	SortByFoil:     "user_cards.foil",
	SortByPrice:    "CASE WHEN user_cards.foil THEN printings.foil_price ELSE printings.price END",
}

// Column returns the SQL expression for the sort key, defaulting to the
// card name for unrecognized keys.
func (k SortKey) Column() string {
	if col, ok := sortColumns[k]; ok {
		return col
	}
	return sortColumns[SortByName]
}

// CollectionFilter narrows a collection listing.
type CollectionFilter struct {
	Search string
	SetID  uint
	Rarity string
}

// CollectionQuery is a paginated, sorted, filtered collection listing request.
type CollectionQuery struct {
	Page       int
	Sort       SortKey
	Descending bool
	Filter     CollectionFilter
}

// CollectionEntry is one owned printing as presented to the client, with
// prices converted to the user's currency.
type CollectionEntry struct {
	UserCardID      uint     `json:"user_card_id"`
	Name            string   `json:"name"`
	SetName         string   `json:"set_name"`
	SetCode         string   `json:"set_code"`
	CollectorNumber string   `json:"collector_number"`
	Rarity          string   `json:"rarity"`
	Quantity        int      `json:"quantity"`
	Foil            bool     `json:"foil"`
	Price           *float64 `json:"price"`
	CurrencyCode    string   `json:"currency_code"`
	ImageURL        *string  `json:"image_url"`
	SetIconURL      *string  `json:"set_icon_url"`
}

// CollectionPage is a page of collection entries plus aggregates over the
// whole filtered collection.
type CollectionPage struct {
	Cards      []CollectionEntry `json:"cards"`
	PageCount  int               `json:"page_count"`
	TotalOwned int               `json:"total_owned"`
}
