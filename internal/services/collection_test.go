package services

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/models"
)

var testDBCounter int

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBCounter++
	dsn := fmt.Sprintf("file:collection_test_%d?mode=memory&cache=shared", testDBCounter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
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
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedPrinting(t *testing.T, db *gorm.DB, name, setCode, number string) models.Printing {
	t.Helper()
	card := models.Card{Name: name, TypeLine: "Creature"}
	if err := db.Create(&card).Error; err != nil {
		t.Fatalf("failed to seed card: %v", err)
	}
	var set models.CardSet
	err := db.Where("code = ?", setCode).First(&set).Error
	if err == gorm.ErrRecordNotFound {
		set = models.CardSet{Code: setCode, Name: "Set " + setCode}
		if err := db.Create(&set).Error; err != nil {
			t.Fatalf("failed to seed set: %v", err)
		}
	} else if err != nil {
		t.Fatalf("failed to look up set: %v", err)
	}
	printing := models.Printing{
		CardID:          card.ID,
		CardSetID:       set.ID,
		CollectorNumber: number,
		ExternalID:      fmt.Sprintf("%s-%s", setCode, number),
		Rarity:          "common",
	}
	if err := db.Create(&printing).Error; err != nil {
		t.Fatalf("failed to seed printing: %v", err)
	}
	return printing
}

func ledgerRow(t *testing.T, db *gorm.DB, userID, printingID uint, foil bool) (models.UserCard, bool) {
	t.Helper()
	var row models.UserCard
	err := db.Where("user_id = ? AND printing_id = ? AND foil = ?", userID, printingID, foil).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return models.UserCard{}, false
	}
	if err != nil {
		t.Fatalf("failed to read ledger row: %v", err)
	}
	return row, true
}

func TestAddMergesIntoExistingRow(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	ctx := context.Background()

	if err := svc.Add(ctx, 1, printing.ID, false, 3); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := svc.Add(ctx, 1, printing.ID, false, 2); err != nil {
		t.Fatalf("second add failed: %v", err)
	}

	var count int64
	db.Model(&models.UserCard{}).Where("user_id = ? AND printing_id = ?", 1, printing.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected a single ledger row, got %d", count)
	}
	row, _ := ledgerRow(t, db, 1, printing.ID, false)
	if row.Quantity != 5 {
		t.Errorf("expected quantity 5, got %d", row.Quantity)
	}
}

func TestAddKeepsFoilVariantsSeparate(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	ctx := context.Background()

	if err := svc.Add(ctx, 1, printing.ID, false, 2); err != nil {
		t.Fatalf("nonfoil add failed: %v", err)
	}
	if err := svc.Add(ctx, 1, printing.ID, true, 1); err != nil {
		t.Fatalf("foil add failed: %v", err)
	}

	nonfoil, ok := ledgerRow(t, db, 1, printing.ID, false)
	if !ok || nonfoil.Quantity != 2 {
		t.Errorf("expected nonfoil quantity 2, got %+v", nonfoil)
	}
	foil, ok := ledgerRow(t, db, 1, printing.ID, true)
	if !ok || foil.Quantity != 1 {
		t.Errorf("expected foil quantity 1, got %+v", foil)
	}
}

func TestAddUnknownPrinting(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())

	err := svc.Add(context.Background(), 1, 999, false, 1)
	if !errs.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	tests := []struct {
		name        string
		start       int
		remove      int
		wantErr     bool
		wantRow     bool
		wantRemains int
	}{
		{name: "partial removal", start: 4, remove: 1, wantRow: true, wantRemains: 3},
		{name: "removal to zero deletes row", start: 2, remove: 2, wantRow: false},
		{name: "insufficient quantity", start: 1, remove: 3, wantErr: true, wantRow: true, wantRemains: 1},
		{name: "no row at all", start: 0, remove: 1, wantErr: true, wantRow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			svc := NewCollectionService(db, nil, zap.NewNop())
			printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
			ctx := context.Background()

			if tt.start > 0 {
				if err := svc.Add(ctx, 1, printing.ID, false, tt.start); err != nil {
					t.Fatalf("setup add failed: %v", err)
				}
			}

			err := svc.Remove(ctx, 1, printing.ID, false, tt.remove)
			if tt.wantErr {
				if !errs.IsNotFound(err) {
					t.Errorf("expected not-found error, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("remove failed: %v", err)
			}

			row, ok := ledgerRow(t, db, 1, printing.ID, false)
			if ok != tt.wantRow {
				t.Fatalf("row presence = %v, want %v", ok, tt.wantRow)
			}
			if ok && row.Quantity != tt.wantRemains {
				t.Errorf("expected remaining quantity %d, got %d", tt.wantRemains, row.Quantity)
			}
		})
	}
}

func TestDecideEdit(t *testing.T) {
	tests := []struct {
		name           string
		currentFoil    bool
		newFoil        bool
		oppositeExists bool
		quantity       int
		want           editTransition
	}{
		{name: "in-place quantity change", quantity: 4, want: editInPlace},
		{name: "quantity to zero deletes", quantity: 0, want: editDelete},
		{name: "negative quantity deletes", quantity: -1, want: editDelete},
		{name: "foil flip without opposite", newFoil: true, quantity: 2, want: editInPlace},
		{name: "foil flip to zero without opposite", newFoil: true, quantity: 0, want: editDelete},
		{name: "foil flip merges into opposite", newFoil: true, oppositeExists: true, quantity: 2, want: editMergeOpposite},
		{name: "unfoil merges into opposite", currentFoil: true, oppositeExists: true, quantity: 2, want: editMergeOpposite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decideEdit(tt.currentFoil, tt.newFoil, tt.oppositeExists, tt.quantity)
			if got != tt.want {
				t.Errorf("decideEdit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEditFoilFlipMergesRows(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	ctx := context.Background()

	if err := svc.Add(ctx, 1, printing.ID, false, 3); err != nil {
		t.Fatalf("nonfoil add failed: %v", err)
	}
	if err := svc.Add(ctx, 1, printing.ID, true, 2); err != nil {
		t.Fatalf("foil add failed: %v", err)
	}

	nonfoil, _ := ledgerRow(t, db, 1, printing.ID, false)

	// Flip the 3-copy nonfoil row to foil with quantity 5; it must merge
	// into the existing 2-copy foil row.
	err := svc.Edit(ctx, 1, nonfoil.ID, models.EditCardRequest{Quantity: 5, Foil: true})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	if _, ok := ledgerRow(t, db, 1, printing.ID, false); ok {
		t.Error("nonfoil row should have been deleted by the merge")
	}
	foil, ok := ledgerRow(t, db, 1, printing.ID, true)
	if !ok {
		t.Fatal("foil row missing after merge")
	}
	if foil.Quantity != 7 {
		t.Errorf("expected merged quantity 7, got %d", foil.Quantity)
	}

	var count int64
	db.Model(&models.UserCard{}).Where("printing_id = ?", printing.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected one row after merge, got %d", count)
	}
}

func TestEditInPlace(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	ctx := context.Background()

	if err := svc.Add(ctx, 1, printing.ID, false, 3); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	row, _ := ledgerRow(t, db, 1, printing.ID, false)

	// Foil flip with no opposite row keeps the id and changes in place.
	err := svc.Edit(ctx, 1, row.ID, models.EditCardRequest{Quantity: 4, Foil: true})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	updated, ok := ledgerRow(t, db, 1, printing.ID, true)
	if !ok {
		t.Fatal("expected row to exist as foil")
	}
	if updated.ID != row.ID {
		t.Errorf("expected row id %d to be preserved, got %d", row.ID, updated.ID)
	}
	if updated.Quantity != 4 {
		t.Errorf("expected quantity 4, got %d", updated.Quantity)
	}
}

func TestEditToZeroDeletes(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	ctx := context.Background()

	if err := svc.Add(ctx, 1, printing.ID, false, 3); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	row, _ := ledgerRow(t, db, 1, printing.ID, false)

	err := svc.Edit(ctx, 1, row.ID, models.EditCardRequest{Quantity: 0, Foil: false})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if _, ok := ledgerRow(t, db, 1, printing.ID, false); ok {
		t.Error("row should have been deleted when quantity reached zero")
	}
}

func TestEditSetsProductIDOnlyWhenNull(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	ctx := context.Background()

	if err := svc.Add(ctx, 1, printing.ID, false, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	row, _ := ledgerRow(t, db, 1, printing.ID, false)

	first := 12345
	err := svc.Edit(ctx, 1, row.ID, models.EditCardRequest{Quantity: 1, Foil: false, TCGProductID: &first})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	second := 99999
	err = svc.Edit(ctx, 1, row.ID, models.EditCardRequest{Quantity: 1, Foil: false, TCGProductID: &second})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	var got models.Printing
	if err := db.First(&got, printing.ID).Error; err != nil {
		t.Fatalf("failed to reload printing: %v", err)
	}
	if got.TCGProductID == nil || *got.TCGProductID != first {
		t.Errorf("expected product id to stay %d, got %v", first, got.TCGProductID)
	}
}

func TestEditWrongUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	ctx := context.Background()

	if err := svc.Add(ctx, 1, printing.ID, false, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	row, _ := ledgerRow(t, db, 1, printing.ID, false)

	err := svc.Edit(ctx, 2, row.ID, models.EditCardRequest{Quantity: 5, Foil: false})
	if !errs.IsNotFound(err) {
		t.Errorf("expected not-found for another user's row, got %v", err)
	}
}

func TestListPaginationAndAggregates(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		printing := seedPrinting(t, db, fmt.Sprintf("Card %03d", i), "lea", fmt.Sprintf("%d", i+1))
		if err := svc.Add(ctx, 1, printing.ID, false, 2); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	page, err := svc.List(ctx, 1, models.CollectionQuery{Page: 1, Sort: models.SortByName})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Cards) != collectionPageSize {
		t.Errorf("expected %d entries on page 1, got %d", collectionPageSize, len(page.Cards))
	}
	if page.PageCount != 2 {
		t.Errorf("expected 2 pages, got %d", page.PageCount)
	}
	if page.TotalOwned != 110 {
		t.Errorf("expected 110 total copies, got %d", page.TotalOwned)
	}
	if page.Cards[0].Name != "Card 000" {
		t.Errorf("expected name sort, first card was %q", page.Cards[0].Name)
	}

	page2, err := svc.List(ctx, 1, models.CollectionQuery{Page: 2, Sort: models.SortByName})
	if err != nil {
		t.Fatalf("list page 2 failed: %v", err)
	}
	if len(page2.Cards) != 5 {
		t.Errorf("expected 5 entries on page 2, got %d", len(page2.Cards))
	}
}

func TestListFilters(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	ctx := context.Background()

	bears := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	bolt := seedPrinting(t, db, "Lightning Bolt", "m10", "146")
	if err := svc.Add(ctx, 1, bears.ID, false, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := svc.Add(ctx, 1, bolt.ID, false, 4); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	page, err := svc.List(ctx, 1, models.CollectionQuery{
		Page:   1,
		Filter: models.CollectionFilter{Search: "bolt"},
	})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Cards) != 1 || page.Cards[0].Name != "Lightning Bolt" {
		t.Errorf("search filter returned wrong entries: %+v", page.Cards)
	}
	if page.TotalOwned != 4 {
		t.Errorf("aggregates should respect the filter, got total %d", page.TotalOwned)
	}
}

func TestListCurrencyConversion(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db, nil, zap.NewNop())
	ctx := context.Background()

	if err := db.Create(&models.User{ID: 1, Name: "collector", CurrencyCode: "EUR"}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if err := db.Create(&models.ExchangeRate{Code: "EUR", Rate: 0.5}).Error; err != nil {
		t.Fatalf("failed to seed rate: %v", err)
	}

	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	usd := 10.0
	if err := db.Model(&models.Printing{}).Where("id = ?", printing.ID).
		Update("price", usd).Error; err != nil {
		t.Fatalf("failed to set price: %v", err)
	}
	if err := svc.Add(ctx, 1, printing.ID, false, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	page, err := svc.List(ctx, 1, models.CollectionQuery{Page: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Cards) != 1 {
		t.Fatalf("expected one entry, got %d", len(page.Cards))
	}
	entry := page.Cards[0]
	if entry.CurrencyCode != "EUR" {
		t.Errorf("expected EUR, got %s", entry.CurrencyCode)
	}
	if entry.Price == nil || *entry.Price != 5.0 {
		t.Errorf("expected converted price 5.0, got %v", entry.Price)
	}
}

func TestSortKeyWhitelist(t *testing.T) {
	if got := models.SortKey("quantity").Column(); got != "user_cards.quantity" {
		t.Errorf("quantity sort column = %q", got)
	}
	if got := models.SortKey("cards.name; DROP TABLE cards").Column(); got != "cards.name" {
		t.Errorf("unknown sort key should fall back to name, got %q", got)
	}
}
