// Package ingest parses analytics export workbooks in both known
// layouts and reconciles their rows into the shared post store with
// max-merge counter semantics. Authored text is never overwritten by
// an import, and a byte-identical file is never imported twice.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/content"
)

var errMissingDatabase = errors.New("ingest: database handle is required")

// Summary reports what one import changed.
type Summary struct {
	Format       Format   `json:"format"`
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	Rejected     int      `json:"rejected"`
	Demographics int      `json:"demographics"`
	Warnings     []string `json:"warnings,omitempty"`
}

// ServiceConfig configures the ingestion engine.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service ingests export files. Each file is applied in one
// transaction, so a failed import leaves no partial rows behind.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and returns an ingestion
// service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// IngestFile imports one workbook of either layout.
func (s *Service) IngestFile(ctx context.Context, filename string, data []byte) (Summary, error) {
	return s.ingest(ctx, filename, data, false)
}

// IngestPerPostFile imports one workbook and rejects anything that is
// not a per-post export. The batch upload surface uses it so a stray
// aggregate file fails loudly instead of merging under aggregate
// fallback rules.
func (s *Service) IngestPerPostFile(ctx context.Context, filename string, data []byte) (Summary, error) {
	return s.ingest(ctx, filename, data, true)
}

func (s *Service) ingest(ctx context.Context, filename string, data []byte, perPostOnly bool) (Summary, error) {
	fileHash := hashFile(data)
	if err := s.checkNotImported(ctx, fileHash); err != nil {
		return Summary{}, err
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Summary{}, apperr.Validation("file is not a readable workbook")
	}
	defer workbook.Close()

	format := DetectFormat(workbook)
	switch {
	case format == FormatUnknown:
		return Summary{}, apperr.Validation("workbook matches no known export layout")
	case perPostOnly && format != FormatPerPost:
		return Summary{}, apperr.Validation("expected a per-post export")
	}

	summary := Summary{Format: format}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		merge := &reconciler{tx: tx, now: s.clock()}

		switch format {
		case FormatAggregate:
			export := parseAggregate(workbook)
			summary.Warnings = export.Warnings
			if err := merge.applyAggregate(export); err != nil {
				return err
			}
		case FormatPerPost:
			export, err := parsePerPost(workbook)
			if err != nil {
				return err
			}
			summary.Warnings = export.Warnings
			if err := merge.applyPerPost(export); err != nil {
				return err
			}
		}

		summary.Created = merge.created
		summary.Updated = merge.updated
		summary.Rejected = merge.rejected
		summary.Demographics = merge.demographics

		batch := content.ImportBatch{
			Filename:        filename,
			FileHash:        fileHash,
			RecordsImported: summary.Created + summary.Updated,
			Status:          "completed",
		}
		return tx.Create(&batch).Error
	})
	if err != nil {
		return Summary{}, err
	}

	s.logger.Info("import applied",
		zap.String("filename", filename),
		zap.String("format", string(format)),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("rejected", summary.Rejected))
	return summary, nil
}

// checkNotImported enforces whole-file dedup via the content hash.
func (s *Service) checkNotImported(ctx context.Context, fileHash string) error {
	var batch content.ImportBatch
	err := s.db.WithContext(ctx).Where("file_hash = ?", fileHash).First(&batch).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	case err != nil:
		return err
	}
	return apperr.Conflict("this file has already been imported")
}

func hashFile(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
