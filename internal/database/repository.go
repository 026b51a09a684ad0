package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSnapshotNotFound indicates no document is stored under the key.
	ErrSnapshotNotFound = errors.New("database: snapshot not found")

	errMissingDatabase   = errors.New("database connection is required")
	errMissingStorageKey = errors.New("storage key is required")
)

var _ editor.Persistence = (*DocumentRepository)(nil)

// StoreError carries a dotted operation.reason code for storage failures.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opRepositoryNew = "database.documents.new"
	opSaveDocument  = "database.documents.save"
	opLoadDocument  = "database.documents.load"

	reasonMissingDatabase   = "missing_database"
	reasonMissingStorageKey = "missing_storage_key"
	reasonUpsertFailed      = "upsert_failed"
	reasonQueryFailed       = "query_failed"
	reasonNotFound          = "not_found"

	fieldStorageKey = "storage_key"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// DocumentRepositoryConfig describes the dependencies of a DocumentRepository.
type DocumentRepositoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// DocumentRepository persists one text snapshot per storage key. Each save overwrites the previous one.
type DocumentRepository struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewDocumentRepository constructs a repository over an opened database.
func NewDocumentRepository(cfg DocumentRepositoryConfig) (*DocumentRepository, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opRepositoryNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentRepository{db: cfg.Database, clock: clock, logger: logger}, nil
}

// SaveDocument upserts the text stored under key.
func (r *DocumentRepository) SaveDocument(ctx context.Context, key string, text string, version int64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return newStoreError(opSaveDocument, reasonMissingStorageKey, errMissingStorageKey)
	}
	record := DocumentSnapshot{
		StorageKey:       key,
		Text:             text,
		Version:          version,
		UpdatedAtSeconds: r.clock().UTC().Unix(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "storage_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "version", "updated_at_s"}),
		}).
		Create(&record).Error
	if err != nil {
		r.logError(opSaveDocument, reasonUpsertFailed, err, zap.String(fieldStorageKey, key))
		return newStoreError(opSaveDocument, reasonUpsertFailed, err)
	}
	return nil
}

// Load returns the snapshot stored under key or ErrSnapshotNotFound.
func (r *DocumentRepository) Load(ctx context.Context, key string) (DocumentSnapshot, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return DocumentSnapshot{}, newStoreError(opLoadDocument, reasonMissingStorageKey, errMissingStorageKey)
	}
	var record DocumentSnapshot
	err := r.db.WithContext(ctx).Where("storage_key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentSnapshot{}, newStoreError(opLoadDocument, reasonNotFound, ErrSnapshotNotFound)
	}
	if err != nil {
		r.logError(opLoadDocument, reasonQueryFailed, err, zap.String(fieldStorageKey, key))
		return DocumentSnapshot{}, newStoreError(opLoadDocument, reasonQueryFailed, err)
	}
	return record, nil
}

// LoadDocument adapts Load to the editor persistence contract; a missing key is not an error.
func (r *DocumentRepository) LoadDocument(ctx context.Context, key string) (string, int64, bool, error) {
	record, err := r.Load(ctx, key)
	if errors.Is(err, ErrSnapshotNotFound) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return record.Text, record.Version, true, nil
}

func (r *DocumentRepository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("document repository error", attrs...)
}
