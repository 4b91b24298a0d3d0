package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/veilgate/veilgate/internal/config"
	"github.com/veilgate/veilgate/internal/credential"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// sqlStorage is a single implementation shared by the sqlite and postgres
// dialects: both speak standard SQL well enough that only placeholder
// syntax and the driver name differ, mirroring the teacher's
// PostgresStore pattern generalized across dialects.
type sqlStorage struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"

	objectMirror *config.ObjectMirrorConfig
	gitHistory   *config.GitHistoryConfig

	totalWrites     atomic.Uint64
	writeErrors     atomic.Uint64
	totalWriteNanos atomic.Uint64
	lastWriteUnix   atomic.Int64
	lastError       atomic.Value // string
}

func newSQLStorage(ctx context.Context, dialect, dsn string, objectMirror *config.ObjectMirrorConfig, gitHistory *config.GitHistoryConfig) (*sqlStorage, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store: %s mode requires a dsn", dialect)
	}

	driver := dialect
	if dialect == "postgres" {
		driver = "pgx"
	}
	if dialect == "sqlite" {
		if path, ok := strings.CutPrefix(dsn, "file:"); ok {
			if dir := dirOf(path); dir != "" {
				_ = os.MkdirAll(dir, 0o700)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s connection: %w", dialect, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dialect, err)
	}

	s := &sqlStorage{db: db, dialect: dialect, objectMirror: objectMirror, gitHistory: gitHistory}
	s.lastError.Store("")
	return s, nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func (s *sqlStorage) Enabled() bool { return true }

func (s *sqlStorage) Close() error { return s.db.Close() }

// ph returns the i-th (1-based) bind placeholder for this dialect.
func (s *sqlStorage) ph(i int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (s *sqlStorage) track(start time.Time, err error) error {
	s.totalWrites.Add(1)
	s.totalWriteNanos.Add(uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		s.writeErrors.Add(1)
		s.lastError.Store(err.Error())
		return err
	}
	s.lastWriteUnix.Store(time.Now().Unix())
	return nil
}

func (s *sqlStorage) exec(ctx context.Context, query string, args ...any) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, args...)
	return s.track(start, err)
}

// Bootstrap creates every table this layer owns. Each statement is
// best-effort IF NOT EXISTS, matching the original's migrate() which
// ignores per-statement errors from re-running the same schema.
func (s *sqlStorage) Bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS config (
			k TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS cookies (
			cookie TEXT PRIMARY KEY,
			reset_time BIGINT,
			token_access TEXT,
			token_refresh TEXT,
			token_expires_at BIGINT,
			token_org_id TEXT,
			premium_window SMALLINT
		)`,
		`CREATE TABLE IF NOT EXISTS wasted_cookies (
			cookie TEXT PRIMARY KEY,
			reason TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS keys (
			key TEXT PRIMARY KEY,
			count_403 BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cli_tokens (
			access_token TEXT PRIMARY KEY,
			expires_at BIGINT,
			client_id TEXT,
			client_secret TEXT,
			refresh_token TEXT,
			token_endpoint TEXT,
			project_id TEXT,
			count_403 BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS vertex_credentials (
			id TEXT PRIMARY KEY,
			client_email TEXT NOT NULL,
			project_id TEXT,
			private_key TEXT NOT NULL,
			count_403 BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			log.WithError(err).Warn("store: schema statement failed, continuing bootstrap")
		}
	}
	return nil
}

func (s *sqlStorage) PersistConfig(ctx context.Context, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: marshal config: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO config (k, data, updated_at) VALUES (%s, %s, %s)
		ON CONFLICT (k) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.ph(1), s.ph(2), s.ph(3))
	return s.exec(ctx, query, "main", string(data), time.Now().Unix())
}

func (s *sqlStorage) PersistCookieUpsert(ctx context.Context, row CookieRow) error {
	var resetTime, tokenExpires *int64
	if row.ResetTime != nil {
		v := row.ResetTime.Unix()
		resetTime = &v
	}
	if row.TokenExpires != nil {
		v := row.TokenExpires.Unix()
		tokenExpires = &v
	}
	query := fmt.Sprintf(`
		INSERT INTO cookies (cookie, reset_time, token_access, token_refresh, token_expires_at, token_org_id, premium_window)
		VALUES (%s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (cookie) DO UPDATE SET
			reset_time = excluded.reset_time,
			token_access = excluded.token_access,
			token_refresh = excluded.token_refresh,
			token_expires_at = excluded.token_expires_at,
			token_org_id = excluded.token_org_id,
			premium_window = excluded.premium_window`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	return s.exec(ctx, query, row.Cookie, resetTime, nullableString(row.TokenAccess),
		nullableString(row.TokenRefresh), tokenExpires, nullableString(row.TokenOrgID), int(row.PremiumWindow))
}

func (s *sqlStorage) DeleteCookieRow(ctx context.Context, cookie string) error {
	if err := s.exec(ctx, fmt.Sprintf("DELETE FROM cookies WHERE cookie = %s", s.ph(1)), cookie); err != nil {
		return err
	}
	return s.exec(ctx, fmt.Sprintf("DELETE FROM wasted_cookies WHERE cookie = %s", s.ph(1)), cookie)
}

func (s *sqlStorage) PersistWastedUpsert(ctx context.Context, row WastedRow) error {
	reasonJSON, err := json.Marshal(reasonDTO{Kind: row.Reason.Kind.String(), ResetAt: row.Reason.ResetAt.Unix(), Message: row.Reason.Message})
	if err != nil {
		return fmt.Errorf("store: marshal reason: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO wasted_cookies (cookie, reason) VALUES (%s, %s)
		ON CONFLICT (cookie) DO UPDATE SET reason = excluded.reason`, s.ph(1), s.ph(2))
	return s.exec(ctx, query, row.Cookie, string(reasonJSON))
}

type reasonDTO struct {
	Kind    string `json:"kind"`
	ResetAt int64  `json:"reset_at,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *sqlStorage) PersistCookiesBulk(ctx context.Context, valid, exhausted []CookieRow, invalid []WastedRow) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cookies"); err != nil {
		return s.track(time.Now(), err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM wasted_cookies"); err != nil {
		return s.track(time.Now(), err)
	}
	for _, row := range valid {
		if err := s.PersistCookieUpsert(ctx, row); err != nil {
			return err
		}
	}
	for _, row := range exhausted {
		if err := s.PersistCookieUpsert(ctx, row); err != nil {
			return err
		}
	}
	for _, row := range invalid {
		if err := s.PersistWastedUpsert(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStorage) PersistKeyUpsert(ctx context.Context, row KeyRow) error {
	query := fmt.Sprintf(`
		INSERT INTO keys (key, count_403) VALUES (%s, %s)
		ON CONFLICT (key) DO UPDATE SET count_403 = excluded.count_403`, s.ph(1), s.ph(2))
	return s.exec(ctx, query, row.Key, row.Count403)
}

func (s *sqlStorage) DeleteKeyRow(ctx context.Context, key string) error {
	return s.exec(ctx, fmt.Sprintf("DELETE FROM keys WHERE key = %s", s.ph(1)), key)
}

func (s *sqlStorage) PersistKeysBulk(ctx context.Context, rows []KeyRow) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM keys"); err != nil {
		return s.track(time.Now(), err)
	}
	for _, row := range rows {
		if err := s.PersistKeyUpsert(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStorage) PersistCliTokenUpsert(ctx context.Context, row CliTokenRow) error {
	var expiresAt *int64
	if row.ExpiresAt != nil {
		v := row.ExpiresAt.Unix()
		expiresAt = &v
	}
	query := fmt.Sprintf(`
		INSERT INTO cli_tokens (access_token, expires_at, client_id, client_secret, refresh_token, token_endpoint, project_id, count_403)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (access_token) DO UPDATE SET
			expires_at = excluded.expires_at,
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			refresh_token = excluded.refresh_token,
			token_endpoint = excluded.token_endpoint,
			project_id = excluded.project_id,
			count_403 = excluded.count_403`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8))
	return s.exec(ctx, query, row.AccessToken, expiresAt, row.ClientID, row.ClientSecret,
		row.RefreshToken, row.TokenEndpoint, row.ProjectID, row.Count403)
}

func (s *sqlStorage) DeleteCliTokenRow(ctx context.Context, accessToken string) error {
	return s.exec(ctx, fmt.Sprintf("DELETE FROM cli_tokens WHERE access_token = %s", s.ph(1)), accessToken)
}

func (s *sqlStorage) PersistVertexUpsert(ctx context.Context, row VertexRow) error {
	query := fmt.Sprintf(`
		INSERT INTO vertex_credentials (id, client_email, project_id, private_key, count_403)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (id) DO UPDATE SET
			client_email = excluded.client_email,
			project_id = excluded.project_id,
			private_key = excluded.private_key,
			count_403 = excluded.count_403`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	return s.exec(ctx, query, row.ID, row.ClientEmail, row.ProjectID, row.PrivateKey, row.Count403)
}

func (s *sqlStorage) DeleteVertexRow(ctx context.Context, id string) error {
	return s.exec(ctx, fmt.Sprintf("DELETE FROM vertex_credentials WHERE id = %s", s.ph(1)), id)
}

func (s *sqlStorage) LoadAllCookies(ctx context.Context) ([]CookieRow, []CookieRow, []WastedRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT cookie, reset_time, token_access, token_refresh, token_expires_at, token_org_id, premium_window FROM cookies")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("store: load cookies: %w", err)
	}
	defer rows.Close()

	var valid, exhausted []CookieRow
	for rows.Next() {
		var (
			cookie                                          string
			resetTime, tokenExpires                         sql.NullInt64
			tokenAccess, tokenRefresh, tokenOrgID            sql.NullString
			premiumWindow                                   sql.NullInt64
		)
		if err = rows.Scan(&cookie, &resetTime, &tokenAccess, &tokenRefresh, &tokenExpires, &tokenOrgID, &premiumWindow); err != nil {
			return nil, nil, nil, fmt.Errorf("store: scan cookie row: %w", err)
		}
		row := CookieRow{
			Cookie:        cookie,
			TokenAccess:   tokenAccess.String,
			TokenRefresh:  tokenRefresh.String,
			TokenOrgID:    tokenOrgID.String,
			PremiumWindow: credential.TriState(premiumWindow.Int64),
		}
		if resetTime.Valid {
			t := time.Unix(resetTime.Int64, 0)
			row.ResetTime = &t
		}
		if tokenExpires.Valid {
			t := time.Unix(tokenExpires.Int64, 0)
			row.TokenExpires = &t
		}
		if row.ResetTime != nil {
			exhausted = append(exhausted, row)
		} else {
			valid = append(valid, row)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("store: iterate cookie rows: %w", err)
	}

	wastedRows, err := s.db.QueryContext(ctx, "SELECT cookie, reason FROM wasted_cookies")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("store: load wasted cookies: %w", err)
	}
	defer wastedRows.Close()

	var invalid []WastedRow
	for wastedRows.Next() {
		var cookie, reasonJSON string
		if err = wastedRows.Scan(&cookie, &reasonJSON); err != nil {
			return nil, nil, nil, fmt.Errorf("store: scan wasted row: %w", err)
		}
		var dto reasonDTO
		reason := credential.Reason{Kind: credential.ReasonOther}
		if err = json.Unmarshal([]byte(reasonJSON), &dto); err == nil {
			reason.Message = dto.Message
			if dto.ResetAt > 0 {
				reason.ResetAt = time.Unix(dto.ResetAt, 0)
			}
		}
		invalid = append(invalid, WastedRow{Cookie: cookie, Reason: reason})
	}
	if err = wastedRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("store: iterate wasted rows: %w", err)
	}
	return valid, exhausted, invalid, nil
}

func (s *sqlStorage) LoadAllKeys(ctx context.Context) ([]KeyRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, count_403 FROM keys")
	if err != nil {
		return nil, fmt.Errorf("store: load keys: %w", err)
	}
	defer rows.Close()

	var out []KeyRow
	for rows.Next() {
		var row KeyRow
		if err = rows.Scan(&row.Key, &row.Count403); err != nil {
			return nil, fmt.Errorf("store: scan key row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *sqlStorage) LoadAllCliTokens(ctx context.Context) ([]CliTokenRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT access_token, expires_at, client_id, client_secret, refresh_token, token_endpoint, project_id, count_403 FROM cli_tokens")
	if err != nil {
		return nil, fmt.Errorf("store: load cli tokens: %w", err)
	}
	defer rows.Close()

	var out []CliTokenRow
	for rows.Next() {
		var row CliTokenRow
		var expiresAt sql.NullInt64
		var clientID, clientSecret, refreshToken, tokenEndpoint, projectID sql.NullString
		if err = rows.Scan(&row.AccessToken, &expiresAt, &clientID, &clientSecret, &refreshToken, &tokenEndpoint, &projectID, &row.Count403); err != nil {
			return nil, fmt.Errorf("store: scan cli token row: %w", err)
		}
		if expiresAt.Valid {
			t := time.Unix(expiresAt.Int64, 0)
			row.ExpiresAt = &t
		}
		row.ClientID, row.ClientSecret, row.RefreshToken, row.TokenEndpoint, row.ProjectID =
			clientID.String, clientSecret.String, refreshToken.String, tokenEndpoint.String, projectID.String
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *sqlStorage) LoadAllVertex(ctx context.Context) ([]VertexRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, client_email, project_id, private_key, count_403 FROM vertex_credentials")
	if err != nil {
		return nil, fmt.Errorf("store: load vertex credentials: %w", err)
	}
	defer rows.Close()

	var out []VertexRow
	for rows.Next() {
		var row VertexRow
		var projectID sql.NullString
		if err = rows.Scan(&row.ID, &row.ClientEmail, &projectID, &row.PrivateKey, &row.Count403); err != nil {
			return nil, fmt.Errorf("store: scan vertex row: %w", err)
		}
		row.ProjectID = projectID.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// ImportFromFile reads a YAML config document and seeds every table from
// it, matching the original's import_config_from_file.
func (s *sqlStorage) ImportFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read import file: %w", err)
	}
	cfg := config.Defaults()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("store: parse import file: %w", err)
	}
	return s.PersistConfig(ctx, cfg)
}

// ExportToFile reconstructs the current config from the database and
// writes it back to path, matching the original's export_config_to_file.
// When configured, the same bytes are mirrored to an object storage bucket
// and/or committed into a local git history directory; neither mirror
// participates in Bootstrap or any hot read path, only here.
func (s *sqlStorage) ExportToFile(ctx context.Context, path string) error {
	var data string
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM config WHERE k = %s", s.ph(1)), "main")
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("store: no config row to export")
		}
		return fmt.Errorf("store: read config row: %w", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		return fmt.Errorf("store: write export file: %w", err)
	}

	if s.objectMirror != nil {
		if err := mirrorExportToObjectStore(ctx, s.objectMirror, []byte(data)); err != nil {
			log.WithError(err).Warn("store: object mirror export failed, local export still succeeded")
		}
	}
	if s.gitHistory != nil {
		if err := mirrorExportToGitHistory(s.gitHistory, []byte(data)); err != nil {
			log.WithError(err).Warn("store: git history export failed, local export still succeeded")
		}
	}
	return nil
}

func (s *sqlStorage) Status(ctx context.Context) map[string]any {
	healthy := false
	var latencyMs int64
	start := time.Now()
	if err := s.db.PingContext(ctx); err == nil {
		healthy = true
		latencyMs = time.Since(start).Milliseconds()
	}
	total := s.totalWrites.Load()
	var avgMs float64
	if total > 0 {
		avgMs = float64(s.totalWriteNanos.Load()) / float64(total) / 1e6
	}
	var failureRatio float64
	errs := s.writeErrors.Load()
	if total > 0 {
		failureRatio = float64(errs) / float64(total)
	}
	lastErr, _ := s.lastError.Load().(string)
	return map[string]any{
		"enabled":           true,
		"mode":              s.dialect,
		"healthy":           healthy,
		"latency_ms":        latencyMs,
		"last_write_unix":   s.lastWriteUnix.Load(),
		"write_error_count": errs,
		"total_writes":      total,
		"avg_write_ms":      avgMs,
		"failure_ratio":     failureRatio,
		"last_error":        lastErr,
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
