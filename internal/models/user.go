package models

import (
	"time"
)

// User is the owner of collection and deck rows. Authentication is handled
// outside this service; requests carry the acting user's id.
type User struct {
	ID           uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Name         string `json:"name" gorm:"uniqueIndex;not null"`
	CurrencyCode string `json:"currency_code" gorm:"not null;default:'USD'"`

	CreatedAt time.Time `json:"created_at"`
}
