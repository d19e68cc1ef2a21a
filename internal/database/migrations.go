package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// cleanupDuplicateUserCards merges duplicate ledger rows before the unique
// (user, printing, foil) index is added. Databases written before the
// constraint existed can hold several rows for the same key; quantities are
// summed into the oldest row and the rest removed.
func cleanupDuplicateUserCards(db *gorm.DB, log *zap.Logger) error {
	if !db.Migrator().HasTable("user_cards") {
		return nil
	}

	result := db.Exec(`
		UPDATE user_cards SET quantity = (
			SELECT SUM(quantity) FROM user_cards d
			WHERE d.user_id = user_cards.user_id
			AND d.printing_id = user_cards.printing_id
			AND d.foil = user_cards.foil
		)
		WHERE id IN (
			SELECT MIN(id) FROM user_cards
			GROUP BY user_id, printing_id, foil
			HAVING COUNT(*) > 1
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	result = db.Exec(`
		DELETE FROM user_cards
		WHERE id NOT IN (
			SELECT MIN(id) FROM user_cards
			GROUP BY user_id, printing_id, foil
		)
	`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Info("merged duplicate ledger rows", zap.Int64("removed", result.RowsAffected))
	}

	// Rows at or below zero quantity predate the delete-on-zero rule.
	result = db.Exec(`DELETE FROM user_cards WHERE quantity <= 0`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Info("removed empty ledger rows", zap.Int64("removed", result.RowsAffected))
	}

	return nil
}
