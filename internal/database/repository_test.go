package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestRepository(testContext *testing.T) *DocumentRepository {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "notemate.db")
	db, err := OpenSQLite(databasePath, nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	testContext.Cleanup(func() {
		_ = Close(db)
	})
	repository, err := NewDocumentRepository(DocumentRepositoryConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0)
		},
	})
	if err != nil {
		testContext.Fatalf("failed to create repository: %v", err)
	}
	return repository
}

func TestNewDocumentRepositoryRequiresDatabase(testContext *testing.T) {
	_, err := NewDocumentRepository(DocumentRepositoryConfig{})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		testContext.Fatalf("expected StoreError, got %v", err)
	}
	if storeErr.Code() != "database.documents.new.missing_database" {
		testContext.Fatalf("unexpected code %q", storeErr.Code())
	}
}

func TestSaveDocumentOverwritesPreviousText(testContext *testing.T) {
	repository := newTestRepository(testContext)
	ctx := context.Background()

	if err := repository.SaveDocument(ctx, "notemate_doc_content", "first", 2); err != nil {
		testContext.Fatalf("first save failed: %v", err)
	}
	if err := repository.SaveDocument(ctx, "notemate_doc_content", "second", 3); err != nil {
		testContext.Fatalf("second save failed: %v", err)
	}

	text, version, found, err := repository.LoadDocument(ctx, "notemate_doc_content")
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if !found {
		testContext.Fatalf("expected stored document")
	}
	if text != "second" || version != 3 {
		testContext.Fatalf("unexpected stored document %q v%d", text, version)
	}

	record, err := repository.Load(ctx, "notemate_doc_content")
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if record.UpdatedAtSeconds != 1700000000 {
		testContext.Fatalf("unexpected update timestamp %d", record.UpdatedAtSeconds)
	}
}

func TestLoadDocumentMissingKey(testContext *testing.T) {
	repository := newTestRepository(testContext)

	_, _, found, err := repository.LoadDocument(context.Background(), "absent")
	if err != nil {
		testContext.Fatalf("missing key must not be an error: %v", err)
	}
	if found {
		testContext.Fatalf("expected no stored document")
	}

	_, err = repository.Load(context.Background(), "absent")
	if !errors.Is(err, ErrSnapshotNotFound) {
		testContext.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestSaveDocumentRejectsBlankKey(testContext *testing.T) {
	repository := newTestRepository(testContext)
	err := repository.SaveDocument(context.Background(), "  ", "text", 1)
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Code() != "database.documents.save.missing_storage_key" {
		testContext.Fatalf("unexpected error %v", err)
	}
}

func TestSaveDocumentFailsOnClosedDatabase(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "closed.db")
	db, err := OpenSQLite(databasePath, nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	repository, err := NewDocumentRepository(DocumentRepositoryConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to create repository: %v", err)
	}
	if err := Close(db); err != nil {
		testContext.Fatalf("failed to close database: %v", err)
	}

	err = repository.SaveDocument(context.Background(), "key", "text", 1)
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Code() != "database.documents.save.upsert_failed" {
		testContext.Fatalf("expected upsert failure, got %v", err)
	}
}
