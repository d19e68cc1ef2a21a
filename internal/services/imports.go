package services

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardshelf/collector/backend/internal/errs"
	"github.com/cardshelf/collector/backend/internal/models"
)

// BulkCatalog fetches normalized card records for a batch of external ids.
type BulkCatalog interface {
	GetBulk(ctx context.Context, externalIDs []string) ([]models.ExternalCard, error)
}

// CardImporter reconciles normalized records into the catalog.
type CardImporter interface {
	ImportCards(ctx context.Context, records []models.ExternalCard) error
}

// Ledger applies ownership mutations.
type Ledger interface {
	Add(ctx context.Context, userID, printingID uint, foil bool, quantity int) error
}

// ImportService turns ownership CSV uploads into ledger entries. Uploads
// are staged to disk, unknown printings are fetched from the catalog and
// reconciled first, and every line is recorded as an ImportRow so a
// partially-applied import can be resumed.
type ImportService struct {
	db         *gorm.DB
	catalog    BulkCatalog
	reconciler CardImporter
	ledger     Ledger
	stagingDir string
	log        *zap.Logger
}

func NewImportService(db *gorm.DB, catalog BulkCatalog, reconciler CardImporter, ledger Ledger, stagingDir string, log *zap.Logger) *ImportService {
	return &ImportService{
		db:         db,
		catalog:    catalog,
		reconciler: reconciler,
		ledger:     ledger,
		stagingDir: stagingDir,
		log:        log,
	}
}

// UploadResult reports what a CSV upload did.
type UploadResult struct {
	ImportID       uint     `json:"import_id"`
	Rows           int      `json:"rows"`
	NewExternalIDs []string `json:"new_external_ids"`
}

// Upload stages and applies an ownership CSV. The file must carry
// MultiverseID, Quantity, and "Foil quantity" columns. Printings not yet in
// the catalog are fetched in bulk and reconciled before any ledger
// mutation happens.
func (s *ImportService) Upload(ctx context.Context, userID uint, filename string, upload io.Reader) (UploadResult, error) {
	staged := filepath.Join(s.stagingDir, "upload_"+uuid.NewString()+".csv")
	if err := stageFile(staged, upload); err != nil {
		return UploadResult{}, err
	}
	defer os.Remove(staged)

	lines, err := parseImportCSV(staged)
	if err != nil {
		return UploadResult{}, err
	}
	if len(lines) == 0 {
		return UploadResult{}, errs.NotFoundf("no rows in upload")
	}

	newIDs, err := s.unknownExternalIDs(ctx, lines)
	if err != nil {
		return UploadResult{}, err
	}

	for i := 0; i < len(newIDs); i += ScryfallBulkChunkSize {
		end := i + ScryfallBulkChunkSize
		if end > len(newIDs) {
			end = len(newIDs)
		}
		records, err := s.catalog.GetBulk(ctx, newIDs[i:end])
		if err != nil {
			return UploadResult{}, err
		}
		if err := s.reconciler.ImportCards(ctx, records); err != nil {
			return UploadResult{}, err
		}
	}

	record := models.Import{UserID: userID, Filename: filename}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return UploadResult{}, err
	}

	for _, line := range lines {
		var printing models.Printing
		err := s.db.WithContext(ctx).
			Where("external_id = ?", line.ExternalID).First(&printing).Error
		if err == gorm.ErrRecordNotFound {
			s.log.Warn("upload row has no printing after reconciliation",
				zap.String("external_id", line.ExternalID))
			continue
		}
		if err != nil {
			return UploadResult{}, err
		}

		row := models.ImportRow{
			ImportID:   record.ID,
			PrintingID: printing.ID,
			Foil:       line.Foil(),
			Quantity:   line.Quantity,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return UploadResult{}, err
		}
	}

	if err := s.CompleteImport(ctx, userID, record.ID); err != nil {
		return UploadResult{}, err
	}

	s.log.Info("applied collection upload",
		zap.Uint("import_id", record.ID),
		zap.Int("rows", len(lines)),
		zap.Int("new_printings", len(newIDs)))

	return UploadResult{
		ImportID:       record.ID,
		Rows:           len(lines),
		NewExternalIDs: newIDs,
	}, nil
}

// CompleteImport applies every not-yet-complete row of an import to the
// ledger, marking each row complete as it lands. Re-running after a partial
// failure skips the rows already applied.
func (s *ImportService) CompleteImport(ctx context.Context, userID, importID uint) error {
	var record models.Import
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", importID, userID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return errs.NotFoundf("import %d", importID)
	}
	if err != nil {
		return err
	}

	var rows []models.ImportRow
	err = s.db.WithContext(ctx).
		Where("import_id = ? AND complete = ?", importID, false).
		Find(&rows).Error
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := s.ledger.Add(ctx, userID, row.PrintingID, row.Foil, row.Quantity); err != nil {
			return err
		}
		err := s.db.WithContext(ctx).Model(&models.ImportRow{}).
			Where("id = ?", row.ID).Update("complete", true).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// GetAll lists a user's imports, newest first.
func (s *ImportService) GetAll(ctx context.Context, userID uint) ([]models.Import, error) {
	var imports []models.Import
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&imports).Error
	return imports, err
}

func stageFile(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, src); err != nil {
		return err
	}
	return f.Close()
}

// parseImportCSV reads the upload's header row and maps the columns the
// ledger needs. Extra columns are ignored.
func parseImportCSV(path string) ([]models.ImportLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errs.NotFoundf("upload has no header row")
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	idCol, ok := columns["multiverseid"]
	if !ok {
		return nil, errs.NotFoundf("upload missing MultiverseID column")
	}
	qtyCol, ok := columns["quantity"]
	if !ok {
		return nil, errs.NotFoundf("upload missing Quantity column")
	}
	foilCol, hasFoil := columns["foil quantity"]

	var lines []models.ImportLine
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if idCol >= len(record) || qtyCol >= len(record) {
			continue
		}

		externalID := strings.TrimSpace(record[idCol])
		if externalID == "" {
			continue
		}
		quantity, err := strconv.Atoi(strings.TrimSpace(record[qtyCol]))
		if err != nil || quantity <= 0 {
			continue
		}
		foilQuantity := 0
		if hasFoil && foilCol < len(record) {
			foilQuantity, _ = strconv.Atoi(strings.TrimSpace(record[foilCol]))
		}

		lines = append(lines, models.ImportLine{
			ExternalID:   externalID,
			Quantity:     quantity,
			FoilQuantity: foilQuantity,
		})
	}
	return lines, nil
}

// unknownExternalIDs returns the upload's external ids with no printing in
// the catalog yet, deduplicated, in first-seen order.
func (s *ImportService) unknownExternalIDs(ctx context.Context, lines []models.ImportLine) ([]string, error) {
	seen := make(map[string]bool, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if !seen[line.ExternalID] {
			seen[line.ExternalID] = true
			ids = append(ids, line.ExternalID)
		}
	}

	var known []string
	err := s.db.WithContext(ctx).Model(&models.Printing{}).
		Where("external_id IN ?", ids).
		Pluck("external_id", &known).Error
	if err != nil {
		return nil, err
	}
	knownSet := make(map[string]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}

	var unknown []string
	for _, id := range ids {
		if !knownSet[id] {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}
