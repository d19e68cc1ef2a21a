package database

import (
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cardshelf/collector/backend/internal/models"
)

var DB *gorm.DB

// Initialize opens the sqlite database, repairs legacy data, migrates the
// schema and seeds reference rows.
func Initialize(dbPath string, log *zap.Logger) error {
	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return err
	}

	log.Info("database connected", zap.String("path", dbPath))

	// Duplicate cleanup must run before AutoMigrate adds unique indexes.
	if err := cleanupDuplicateUserCards(DB, log); err != nil {
		return err
	}

	err = DB.AutoMigrate(
		&models.User{},
		&models.Card{},
		&models.CardSet{},
		&models.Printing{},
		&models.UserCard{},
		&models.Format{},
		&models.Deck{},
		&models.DeckCard{},
		&models.Import{},
		&models.ImportRow{},
		&models.PriceHistory{},
		&models.ExchangeRate{},
	)
	if err != nil {
		return err
	}

	if err := seed(DB); err != nil {
		return err
	}

	log.Info("database migration completed")
	return nil
}

func GetDB() *gorm.DB {
	return DB
}

var defaultFormats = []string{
	"Standard", "Modern", "Legacy", "Vintage", "Commander", "Pauper", models.FormatOther,
}

// seed inserts reference rows the application expects to exist: the deck
// formats and the default user. Insert-if-absent so restarts are no-ops.
func seed(db *gorm.DB) error {
	for _, name := range defaultFormats {
		if err := db.Where(models.Format{Name: name}).
			FirstOrCreate(&models.Format{}, models.Format{Name: name}).Error; err != nil {
			return err
		}
	}

	return db.Where(models.User{ID: 1}).
		FirstOrCreate(&models.User{}, models.User{ID: 1, Name: "collector", CurrencyCode: "USD"}).Error
}
