package store

import (
	"context"
	"testing"

	"github.com/veilgate/veilgate/internal/config"
)

func TestFileStorageIsDisabledAndNeverErrorsOnWrites(t *testing.T) {
	s := NewFileStorage()
	ctx := context.Background()

	if s.Enabled() {
		t.Fatal("file storage must report Enabled() == false")
	}
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := s.PersistConfig(ctx, config.Defaults()); err != nil {
		t.Fatalf("PersistConfig: %v", err)
	}
	if err := s.PersistCookieUpsert(ctx, CookieRow{Cookie: "c"}); err != nil {
		t.Fatalf("PersistCookieUpsert: %v", err)
	}
	if err := s.DeleteCookieRow(ctx, "c"); err != nil {
		t.Fatalf("DeleteCookieRow: %v", err)
	}
}

func TestFileStorageLoadsReturnEmptySets(t *testing.T) {
	s := NewFileStorage()
	ctx := context.Background()

	valid, exhausted, invalid, err := s.LoadAllCookies(ctx)
	if err != nil || valid != nil || exhausted != nil || invalid != nil {
		t.Fatalf("expected empty nil sets, got %v %v %v err=%v", valid, exhausted, invalid, err)
	}
	keys, err := s.LoadAllKeys(ctx)
	if err != nil || keys != nil {
		t.Fatalf("expected nil keys, got %v err=%v", keys, err)
	}
}

func TestFileStorageImportExportAreUnsupported(t *testing.T) {
	s := NewFileStorage()
	ctx := context.Background()
	if err := s.ImportFromFile(ctx, "whatever.yaml"); err == nil {
		t.Fatal("expected an error: file mode has no database to import into")
	}
	if err := s.ExportToFile(ctx, "whatever.yaml"); err == nil {
		t.Fatal("expected an error: file mode has no database to export from")
	}
}

func TestNewRejectsMysqlAndUnknownModes(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, config.StorageConfig{Mode: "mysql", DSN: "user:pass@tcp(host)/db"}); err == nil {
		t.Fatal("expected an error: no mysql driver is wired into this build")
	}
	if _, err := New(ctx, config.StorageConfig{Mode: "oracle"}); err == nil {
		t.Fatal("expected an error for an unrecognized storage mode")
	}
}

func TestNewDefaultsToFileStorage(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, config.StorageConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Enabled() {
		t.Fatal("the zero-value storage mode must resolve to the disabled file backend")
	}
}
