// Package store implements the durable storage layer (spec component C3):
// a file no-op backend for single-node deployments and a relational
// backend (SQLite or PostgreSQL) that mirrors credential pool state so it
// survives restarts, grounded on the teacher's internal/store package and
// the original's persistence::StorageLayer trait.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/veilgate/veilgate/internal/config"
	"github.com/veilgate/veilgate/internal/credential"
)

// CookieRow is the persisted form of a WebCookie, valid or exhausted.
type CookieRow struct {
	Cookie        string
	ResetTime     *time.Time
	TokenAccess   string
	TokenRefresh  string
	TokenExpires  *time.Time
	TokenOrgID    string
	PremiumWindow credential.TriState
}

// WastedRow is the persisted form of a retired (invalid) WebCookie.
type WastedRow struct {
	Cookie string
	Reason credential.Reason
}

// KeyRow is the persisted form of an ApiKey.
type KeyRow struct {
	Key      string
	Count403 uint32
}

// CliTokenRow is the persisted form of a CliToken.
type CliTokenRow struct {
	AccessToken   string
	ExpiresAt     *time.Time
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	TokenEndpoint string
	ProjectID     string
	Count403      uint32
}

// VertexRow is the persisted form of a ServiceAccount, keyed by its stable ID.
type VertexRow struct {
	ID          string
	ClientEmail string
	ProjectID   string
	PrivateKey  string
	Count403    uint32
}

// Storage is the durable persistence contract every credential pool and
// the config layer write through. All methods must tolerate being called
// against a disabled (file-mode) backend as a no-op.
type Storage interface {
	Enabled() bool

	Bootstrap(ctx context.Context) error

	PersistConfig(ctx context.Context, cfg *config.Config) error

	PersistCookieUpsert(ctx context.Context, row CookieRow) error
	DeleteCookieRow(ctx context.Context, cookie string) error
	PersistWastedUpsert(ctx context.Context, row WastedRow) error
	PersistCookiesBulk(ctx context.Context, valid, exhausted []CookieRow, invalid []WastedRow) error

	PersistKeyUpsert(ctx context.Context, row KeyRow) error
	DeleteKeyRow(ctx context.Context, key string) error
	PersistKeysBulk(ctx context.Context, rows []KeyRow) error

	PersistCliTokenUpsert(ctx context.Context, row CliTokenRow) error
	DeleteCliTokenRow(ctx context.Context, accessToken string) error

	PersistVertexUpsert(ctx context.Context, row VertexRow) error
	DeleteVertexRow(ctx context.Context, id string) error

	LoadAllCookies(ctx context.Context) (valid, exhausted []CookieRow, invalid []WastedRow, err error)
	LoadAllKeys(ctx context.Context) ([]KeyRow, error)
	LoadAllCliTokens(ctx context.Context) ([]CliTokenRow, error)
	LoadAllVertex(ctx context.Context) ([]VertexRow, error)

	ImportFromFile(ctx context.Context, path string) error
	ExportToFile(ctx context.Context, path string) error

	Status(ctx context.Context) map[string]any

	Close() error
}

// New constructs the configured Storage backend. An unrecognized mode, or
// a dsn whose scheme names a dialect this build carries no driver for
// (notably mysql://), is a configuration error rather than a silent
// fallback to file mode.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "file":
		return NewFileStorage(), nil
	case "sqlite":
		return newSQLStorage(ctx, "sqlite", cfg.DSN, cfg.ObjectMirror, cfg.GitHistory)
	case "postgres", "postgresql":
		return newSQLStorage(ctx, "postgres", cfg.DSN, cfg.ObjectMirror, cfg.GitHistory)
	case "mysql":
		return nil, fmt.Errorf("store: mysql mode requested but no mysql driver is wired into this build; use sqlite or postgres")
	default:
		return nil, fmt.Errorf("store: unknown storage mode %q", cfg.Mode)
	}
}
