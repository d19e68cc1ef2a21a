package models

import (
	"time"
)

// Import is the audit record of one bulk ownership upload.
type Import struct {
	ID       uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID   uint   `json:"user_id" gorm:"not null;index"`
	Filename string `json:"filename"`

	CreatedAt time.Time `json:"created_at"`
}

// ImportRow is one line of an Import. Complete flips once the corresponding
// ledger mutation has been applied, so a partially-failed import can be
// resumed without double-counting.
type ImportRow struct {
	ID         uint `json:"id" gorm:"primaryKey;autoIncrement"`
	ImportID   uint `json:"import_id" gorm:"not null;index"`
	PrintingID uint `json:"printing_id" gorm:"not null"`
	Foil       bool `json:"foil" gorm:"not null"`
	Quantity   int  `json:"quantity" gorm:"not null"`
	Complete   bool `json:"complete" gorm:"not null;default:false"`
}

// ImportLine is one parsed row of an ownership CSV upload.
type ImportLine struct {
	ExternalID   string
	Quantity     int
	FoilQuantity int
}

func (l ImportLine) Foil() bool {
	return l.FoilQuantity > 0
}
