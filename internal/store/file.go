package store

import (
	"context"
	"fmt"

	"github.com/veilgate/veilgate/internal/config"
)

// FileStorage is the no-op durable layer used when no database is
// configured: the in-memory actor pools and the YAML config file on disk
// are the only source of truth, matching the original's FileLayer.
type FileStorage struct{}

func NewFileStorage() *FileStorage { return &FileStorage{} }

func (s *FileStorage) Enabled() bool                                      { return false }
func (s *FileStorage) Bootstrap(ctx context.Context) error                 { return nil }
func (s *FileStorage) PersistConfig(context.Context, *config.Config) error { return nil }

func (s *FileStorage) PersistCookieUpsert(context.Context, CookieRow) error { return nil }
func (s *FileStorage) DeleteCookieRow(context.Context, string) error       { return nil }
func (s *FileStorage) PersistWastedUpsert(context.Context, WastedRow) error { return nil }
func (s *FileStorage) PersistCookiesBulk(context.Context, []CookieRow, []CookieRow, []WastedRow) error {
	return nil
}

func (s *FileStorage) PersistKeyUpsert(context.Context, KeyRow) error   { return nil }
func (s *FileStorage) DeleteKeyRow(context.Context, string) error      { return nil }
func (s *FileStorage) PersistKeysBulk(context.Context, []KeyRow) error { return nil }

func (s *FileStorage) PersistCliTokenUpsert(context.Context, CliTokenRow) error { return nil }
func (s *FileStorage) DeleteCliTokenRow(context.Context, string) error         { return nil }

func (s *FileStorage) PersistVertexUpsert(context.Context, VertexRow) error { return nil }
func (s *FileStorage) DeleteVertexRow(context.Context, string) error       { return nil }

func (s *FileStorage) LoadAllCookies(context.Context) ([]CookieRow, []CookieRow, []WastedRow, error) {
	return nil, nil, nil, nil
}
func (s *FileStorage) LoadAllKeys(context.Context) ([]KeyRow, error)           { return nil, nil }
func (s *FileStorage) LoadAllCliTokens(context.Context) ([]CliTokenRow, error) { return nil, nil }
func (s *FileStorage) LoadAllVertex(context.Context) ([]VertexRow, error)      { return nil, nil }

func (s *FileStorage) ImportFromFile(context.Context, string) error {
	return fmt.Errorf("store: import requires a database-backed storage mode")
}
func (s *FileStorage) ExportToFile(context.Context, string) error {
	return fmt.Errorf("store: export requires a database-backed storage mode")
}

func (s *FileStorage) Status(context.Context) map[string]any {
	return map[string]any{"enabled": false, "mode": "file", "healthy": false}
}

func (s *FileStorage) Close() error { return nil }
