package services

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/models"
)

type fakeCatalog struct {
	sets     map[string]models.SetMeta
	getCalls int
	fail     bool
}

func (f *fakeCatalog) GetSet(ctx context.Context, code string) (models.SetMeta, error) {
	f.getCalls++
	if f.fail {
		return models.SetMeta{}, errs.Externalf("catalog unavailable")
	}
	meta, ok := f.sets[code]
	if !ok {
		return models.SetMeta{}, errs.NotFoundf("set %s", code)
	}
	return meta, nil
}

type fakePrices struct {
	products     map[string]int // card name -> product id
	quotes       map[int]PriceQuote
	logins       int
	searches     int
	priceCalls   int
	searchedKeys []string
}

func (f *fakePrices) Login(ctx context.Context) (string, error) {
	f.logins++
	return "token", nil
}

func (f *fakePrices) SearchProduct(ctx context.Context, card ProductQuery, token string) (*int, error) {
	f.searches++
	f.searchedKeys = append(f.searchedKeys, card.Name)
	id, ok := f.products[card.Name]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (f *fakePrices) GetPrices(ctx context.Context, products map[string]int, token string) (map[string]PriceQuote, error) {
	f.priceCalls++
	out := make(map[string]PriceQuote, len(products))
	for key, productID := range products {
		if quote, ok := f.quotes[productID]; ok {
			out[key] = quote
		}
	}
	return out, nil
}

func floatPtr(v float64) *float64 { return &v }

func alphaMeta() map[string]models.SetMeta {
	groupID := 7
	return map[string]models.SetMeta{
		"LEA": {
			Name:         "Limited Edition Alpha",
			Code:         "LEA",
			ReleasedAt:   "1993-08-05",
			PriceGroupID: &groupID,
		},
	}
}

func bearsRecord() models.ExternalCard {
	return models.ExternalCard{
		Name:            "Grizzly Bears",
		SetCode:         "lea",
		SetName:         "Limited Edition Alpha",
		CollectorNumber: "1",
		ExternalID:      "6800",
		Rarity:          "common",
		TypeLine:        "Creature — Bear",
	}
}

func TestImportCardsCreatesCatalogRows(t *testing.T) {
	db := newTestDB(t)
	catalog := &fakeCatalog{sets: alphaMeta()}
	prices := &fakePrices{
		products: map[string]int{"Grizzly Bears": 42},
		quotes:   map[int]PriceQuote{42: {Normal: floatPtr(1.25), Foil: floatPtr(9.5)}},
	}
	svc := NewReconcilerService(db, catalog, prices, zap.NewNop())

	err := svc.ImportCards(context.Background(), []models.ExternalCard{bearsRecord()})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	var card models.Card
	if err := db.Where("name = ?", "Grizzly Bears").First(&card).Error; err != nil {
		t.Fatalf("card not created: %v", err)
	}
	var set models.CardSet
	if err := db.Where("code = ?", "LEA").First(&set).Error; err != nil {
		t.Fatalf("set not created: %v", err)
	}
	if set.TCGGroupID == nil || *set.TCGGroupID != 7 {
		t.Errorf("expected group id 7, got %v", set.TCGGroupID)
	}

	var printing models.Printing
	if err := db.Where("external_id = ?", "6800").First(&printing).Error; err != nil {
		t.Fatalf("printing not created: %v", err)
	}
	if printing.CardID != card.ID || printing.CardSetID != set.ID {
		t.Errorf("printing not linked: %+v", printing)
	}
	if printing.Price == nil || *printing.Price != 1.25 {
		t.Errorf("expected price 1.25, got %v", printing.Price)
	}
	if printing.TCGProductID == nil || *printing.TCGProductID != 42 {
		t.Errorf("expected product id 42, got %v", printing.TCGProductID)
	}
}

func TestImportCardsIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	catalog := &fakeCatalog{sets: alphaMeta()}
	prices := &fakePrices{}
	svc := NewReconcilerService(db, catalog, prices, zap.NewNop())
	ctx := context.Background()

	batch := []models.ExternalCard{bearsRecord()}
	if err := svc.ImportCards(ctx, batch); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	if err := svc.ImportCards(ctx, batch); err != nil {
		t.Fatalf("second import failed: %v", err)
	}

	var cards, printings int64
	db.Model(&models.Card{}).Count(&cards)
	db.Model(&models.Printing{}).Count(&printings)
	if cards != 1 || printings != 1 {
		t.Errorf("expected 1 card and 1 printing, got %d and %d", cards, printings)
	}

	// The duplicate batch must not search or price anything again.
	if prices.searches != 1 {
		t.Errorf("expected 1 product search, got %d", prices.searches)
	}
}

func TestImportCardsSharesCardAcrossPrintings(t *testing.T) {
	db := newTestDB(t)
	meta := alphaMeta()
	meta["2ED"] = models.SetMeta{Name: "Unlimited Edition", Code: "2ED", ReleasedAt: "1993-12-01"}
	svc := NewReconcilerService(db, &fakeCatalog{sets: meta}, &fakePrices{}, zap.NewNop())

	second := bearsRecord()
	second.Name = "GRIZZLY BEARS"
	second.SetCode = "2ed"
	second.ExternalID = "6801"
	second.CollectorNumber = "2"

	err := svc.ImportCards(context.Background(), []models.ExternalCard{bearsRecord(), second})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	// Case-insensitive name match must not create a second card.
	var cards int64
	db.Model(&models.Card{}).Count(&cards)
	if cards != 1 {
		t.Errorf("expected 1 card across case variants, got %d", cards)
	}
	var printings int64
	db.Model(&models.Printing{}).Count(&printings)
	if printings != 2 {
		t.Errorf("expected 2 printings, got %d", printings)
	}
}

func TestImportCardsSkipsBasicLandPricing(t *testing.T) {
	db := newTestDB(t)
	prices := &fakePrices{products: map[string]int{"Forest": 99}}
	svc := NewReconcilerService(db, &fakeCatalog{sets: alphaMeta()}, prices, zap.NewNop())

	forest := bearsRecord()
	forest.Name = "Forest"
	forest.TypeLine = "Basic Land — Forest"
	forest.ExternalID = "6900"
	forest.CollectorNumber = "294"

	err := svc.ImportCards(context.Background(), []models.ExternalCard{forest})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if prices.searches != 0 {
		t.Errorf("basic lands must not be searched for products, got %d searches", prices.searches)
	}
}

func TestImportCardsProceedsWithoutProductMatch(t *testing.T) {
	db := newTestDB(t)
	prices := &fakePrices{} // no products resolve
	svc := NewReconcilerService(db, &fakeCatalog{sets: alphaMeta()}, prices, zap.NewNop())

	err := svc.ImportCards(context.Background(), []models.ExternalCard{bearsRecord()})
	if err != nil {
		t.Fatalf("unmatched product must not fail the batch: %v", err)
	}

	var printing models.Printing
	if err := db.Where("external_id = ?", "6800").First(&printing).Error; err != nil {
		t.Fatalf("printing not created: %v", err)
	}
	if printing.Price != nil || printing.TCGProductID != nil {
		t.Errorf("expected no price data, got %+v", printing)
	}
}

func TestImportCardsCatalogOutageAborts(t *testing.T) {
	db := newTestDB(t)
	svc := NewReconcilerService(db, &fakeCatalog{fail: true}, &fakePrices{}, zap.NewNop())

	err := svc.ImportCards(context.Background(), []models.ExternalCard{bearsRecord()})
	if !errs.IsExternal(err) {
		t.Fatalf("expected external error to abort the batch, got %v", err)
	}

	var printings int64
	db.Model(&models.Printing{}).Count(&printings)
	if printings != 0 {
		t.Errorf("expected no printings after aborted batch, got %d", printings)
	}
}

func TestPersistQuotesSkipsDoubleNull(t *testing.T) {
	db := newTestDB(t)
	svc := NewReconcilerService(db, &fakeCatalog{}, &fakePrices{}, zap.NewNop())

	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	if err := db.Model(&models.Printing{}).Where("id = ?", printing.ID).
		Updates(map[string]interface{}{"price": 3.0, "foil_price": 12.0}).Error; err != nil {
		t.Fatalf("failed to set prices: %v", err)
	}

	key := "1"
	if printing.ID != 1 {
		t.Fatalf("unexpected printing id %d", printing.ID)
	}
	err := svc.persistQuotes(map[string]PriceQuote{key: {}})
	if err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	var got models.Printing
	if err := db.First(&got, printing.ID).Error; err != nil {
		t.Fatalf("failed to reload printing: %v", err)
	}
	if got.Price == nil || *got.Price != 3.0 {
		t.Errorf("double-null quote clobbered price: %v", got.Price)
	}
	if got.FoilPrice == nil || *got.FoilPrice != 12.0 {
		t.Errorf("double-null quote clobbered foil price: %v", got.FoilPrice)
	}
}

func TestPersistQuotesHalfNull(t *testing.T) {
	db := newTestDB(t)
	svc := NewReconcilerService(db, &fakeCatalog{}, &fakePrices{}, zap.NewNop())
	printing := seedPrinting(t, db, "Grizzly Bears", "lea", "1")

	err := svc.persistQuotes(map[string]PriceQuote{
		"1": {Normal: floatPtr(2.5)},
	})
	if err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	var got models.Printing
	if err := db.First(&got, printing.ID).Error; err != nil {
		t.Fatalf("failed to reload printing: %v", err)
	}
	if got.Price == nil || *got.Price != 2.5 {
		t.Errorf("expected price 2.5, got %v", got.Price)
	}
	if got.FoilPrice != nil {
		t.Errorf("expected nil foil price, got %v", got.FoilPrice)
	}
}

func TestStripNonASCII(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Creature — Bear", "Creature - Bear"},
		{"Urza’s Saga", "Urza's Saga"},
		{"plain text", "plain text"},
		{"Æther", "ther"},
	}
	for _, tt := range tests {
		if got := stripNonASCII(tt.in); got != tt.want {
			t.Errorf("stripNonASCII(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
