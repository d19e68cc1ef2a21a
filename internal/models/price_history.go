package models

import (
	"time"
)

// PriceHistory records one price observation per printing per day. The
// insert is guarded on (printing, day) so re-running a refresh within the
// same day does not duplicate points.
type PriceHistory struct {
	ID         uint     `json:"id" gorm:"primaryKey;autoIncrement"`
	PrintingID uint     `json:"printing_id" gorm:"not null;uniqueIndex:idx_price_history_printing_day"`
	Price      *float64 `json:"price"`
	FoilPrice  *float64 `json:"foil_price"`
	Day        string   `json:"day" gorm:"not null;uniqueIndex:idx_price_history_printing_day"`

	CreatedAt time.Time `json:"created_at"`
}

// DayFormat is the date layout used for PriceHistory.Day.
const DayFormat = "2006-01-02"

// ExchangeRate maps a currency code to its rate relative to USD.
type ExchangeRate struct {
	ID   uint    `json:"id" gorm:"primaryKey;autoIncrement"`
	Code string  `json:"code" gorm:"uniqueIndex;not null"`
	Rate float64 `json:"rate" gorm:"not null"`

	UpdatedAt time.Time `json:"updated_at"`
}
