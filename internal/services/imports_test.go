package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/models"
)

type fakeBulkCatalog struct {
	calls   [][]string
	records map[string]models.ExternalCard
}

func (f *fakeBulkCatalog) GetBulk(ctx context.Context, externalIDs []string) ([]models.ExternalCard, error) {
	f.calls = append(f.calls, externalIDs)
	out := make([]models.ExternalCard, 0, len(externalIDs))
	for _, id := range externalIDs {
		record, ok := f.records[id]
		if !ok {
			return nil, errs.Externalf("unknown ids in bulk lookup")
		}
		out = append(out, record)
	}
	return out, nil
}

// fakeImporter writes printings straight into the store, standing in for
// the reconciliation engine.
type fakeImporter struct {
	db *gorm.DB
}

func (f *fakeImporter) ImportCards(ctx context.Context, records []models.ExternalCard) error {
	for _, record := range records {
		card := models.Card{Name: record.Name, TypeLine: record.TypeLine}
		if err := f.db.Where("name = ?", record.Name).FirstOrCreate(&card).Error; err != nil {
			return err
		}
		set := models.CardSet{Code: record.SetCode, Name: record.SetName}
		if err := f.db.Where("code = ?", record.SetCode).FirstOrCreate(&set).Error; err != nil {
			return err
		}
		printing := models.Printing{
			CardID:          card.ID,
			CardSetID:       set.ID,
			CollectorNumber: record.CollectorNumber,
			ExternalID:      record.ExternalID,
			Rarity:          record.Rarity,
		}
		if err := f.db.Create(&printing).Error; err != nil {
			return err
		}
	}
	return nil
}

// failingLedger fails the first attempt for a chosen printing and then
// delegates, exercising import resume.
type failingLedger struct {
	inner      Ledger
	failOnce   uint
	failedOnce bool
}

func (f *failingLedger) Add(ctx context.Context, userID, printingID uint, foil bool, quantity int) error {
	if printingID == f.failOnce && !f.failedOnce {
		f.failedOnce = true
		return errs.Externalf("transient store failure")
	}
	return f.inner.Add(ctx, userID, printingID, foil, quantity)
}

func externalRecord(id, name string) models.ExternalCard {
	return models.ExternalCard{
		ExternalID:      id,
		Name:            name,
		SetCode:         "lea",
		SetName:         "Limited Edition Alpha",
		CollectorNumber: id,
		Rarity:          "common",
		TypeLine:        "Creature",
	}
}

func writeUpload(t *testing.T, contents string) (string, *os.File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collection.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write upload: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open upload: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return path, f
}

func TestParseImportCSV(t *testing.T) {
	path, _ := writeUpload(t, strings.Join([]string{
		"MultiverseID,Quantity,Foil quantity,Extra",
		"1234,3,0,ignored",
		"5678,1,2,",
		",4,0,",
		"9999,zero,0,",
	}, "\n"))

	lines, err := parseImportCSV(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 valid lines, got %d", len(lines))
	}
	if lines[0].ExternalID != "1234" || lines[0].Quantity != 3 || lines[0].Foil() {
		t.Errorf("unexpected first line: %+v", lines[0])
	}
	if lines[1].ExternalID != "5678" || !lines[1].Foil() {
		t.Errorf("unexpected second line: %+v", lines[1])
	}
}

func TestParseImportCSVMissingColumns(t *testing.T) {
	path, _ := writeUpload(t, "Name,Quantity\nGrizzly Bears,4\n")
	if _, err := parseImportCSV(path); err == nil {
		t.Error("expected an error for a missing MultiverseID column")
	}
}

func TestUploadAppliesLedgerAndAudit(t *testing.T) {
	db := newTestDB(t)
	ledger := NewCollectionService(db, nil, zap.NewNop())
	catalog := &fakeBulkCatalog{records: map[string]models.ExternalCard{
		"1234": externalRecord("1234", "Grizzly Bears"),
	}}
	svc := NewImportService(db, catalog, &fakeImporter{db: db}, ledger, t.TempDir(), zap.NewNop())
	ctx := context.Background()

	// One printing already known, one new.
	known := seedPrinting(t, db, "Lightning Bolt", "lea", "161")
	if err := db.Model(&models.Printing{}).Where("id = ?", known.ID).
		Update("external_id", "5678").Error; err != nil {
		t.Fatalf("failed to set external id: %v", err)
	}

	_, f := writeUpload(t, strings.Join([]string{
		"MultiverseID,Quantity,Foil quantity",
		"1234,3,0",
		"5678,1,2",
	}, "\n"))

	result, err := svc.Upload(ctx, 1, "collection.csv", f)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if result.Rows != 2 {
		t.Errorf("expected 2 rows, got %d", result.Rows)
	}
	if len(result.NewExternalIDs) != 1 || result.NewExternalIDs[0] != "1234" {
		t.Errorf("expected only the unknown id to be fetched, got %v", result.NewExternalIDs)
	}
	if len(catalog.calls) != 1 {
		t.Errorf("expected one bulk lookup, got %d", len(catalog.calls))
	}

	var bears models.Printing
	if err := db.Where("external_id = ?", "1234").First(&bears).Error; err != nil {
		t.Fatalf("new printing not reconciled: %v", err)
	}
	row, ok := ledgerRow(t, db, 1, bears.ID, false)
	if !ok || row.Quantity != 3 {
		t.Errorf("expected 3 nonfoil bears in ledger, got %+v", row)
	}
	foilRow, ok := ledgerRow(t, db, 1, known.ID, true)
	if !ok || foilRow.Quantity != 1 {
		t.Errorf("expected foil ledger row for known printing, got %+v", foilRow)
	}

	var incomplete int64
	db.Model(&models.ImportRow{}).Where("complete = ?", false).Count(&incomplete)
	if incomplete != 0 {
		t.Errorf("expected all import rows complete, got %d incomplete", incomplete)
	}
}

func TestUploadResumeSkipsCompletedRows(t *testing.T) {
	db := newTestDB(t)
	inner := NewCollectionService(db, nil, zap.NewNop())
	ctx := context.Background()

	first := seedPrinting(t, db, "Grizzly Bears", "lea", "1")
	second := seedPrinting(t, db, "Lightning Bolt", "lea", "161")
	for i, p := range []models.Printing{first, second} {
		err := db.Model(&models.Printing{}).Where("id = ?", p.ID).
			Update("external_id", fmt.Sprintf("%d", 1000+i)).Error
		if err != nil {
			t.Fatalf("failed to set external id: %v", err)
		}
	}

	ledger := &failingLedger{inner: inner, failOnce: second.ID}
	svc := NewImportService(db, &fakeBulkCatalog{}, &fakeImporter{db: db}, ledger, t.TempDir(), zap.NewNop())

	_, f := writeUpload(t, strings.Join([]string{
		"MultiverseID,Quantity,Foil quantity",
		"1000,2,0",
		"1001,4,0",
	}, "\n"))

	_, err := svc.Upload(ctx, 1, "collection.csv", f)
	if err == nil {
		t.Fatal("expected upload to fail on the transient ledger error")
	}

	// First row landed and was marked complete before the failure.
	row, ok := ledgerRow(t, db, 1, first.ID, false)
	if !ok || row.Quantity != 2 {
		t.Fatalf("expected first row applied, got %+v", row)
	}

	var importRecord models.Import
	if err := db.First(&importRecord).Error; err != nil {
		t.Fatalf("import record missing: %v", err)
	}

	if err := svc.CompleteImport(ctx, 1, importRecord.ID); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	// Resume must not double-apply the completed row.
	row, _ = ledgerRow(t, db, 1, first.ID, false)
	if row.Quantity != 2 {
		t.Errorf("resume double-applied a completed row: quantity %d", row.Quantity)
	}
	row, ok = ledgerRow(t, db, 1, second.ID, false)
	if !ok || row.Quantity != 4 {
		t.Errorf("expected second row applied on resume, got %+v", row)
	}
}

func TestCompleteImportUnknown(t *testing.T) {
	db := newTestDB(t)
	svc := NewImportService(db, &fakeBulkCatalog{}, &fakeImporter{db: db},
		NewCollectionService(db, nil, zap.NewNop()), t.TempDir(), zap.NewNop())

	err := svc.CompleteImport(context.Background(), 1, 42)
	if !errs.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}
