package actor

import (
	"context"

	"github.com/veilgate/veilgate/internal/credential"
	"github.com/veilgate/veilgate/internal/store"
)

// Manager owns the four credential pools the orchestrator leases from,
// grounded on the original's AppState holding one ActorRef per credential
// kind (cookies, keys, cli tokens, vertex service accounts).
type Manager struct {
	Cookies         *Pool[*credential.WebCookie]
	Keys            *Pool[*credential.ApiKey]
	CliTokens       *Pool[*credential.CliToken]
	ServiceAccounts *Pool[*credential.ServiceAccount]
}

// Seed is the set of credentials loaded at startup, either from the YAML
// config document (file mode) or from the database (db mode), matching
// VertexActorHandle::start()'s storage-conditional load.
type Seed struct {
	Cookies         []*credential.WebCookie
	Keys            []*credential.ApiKey
	CliTokens       []*credential.CliToken
	ServiceAccounts []*credential.ServiceAccount
}

// NewManager starts all four pools and wires their persistence callbacks
// to the given storage backend. When db is disabled every callback is a
// cheap no-op, matching storage.Enabled() == false.
func NewManager(ctx context.Context, seed Seed, channelCapacity int, db store.Storage) *Manager {
	return &Manager{
		Cookies:         New[*credential.WebCookie](ctx, seed.Cookies, channelCapacity, cookiePersister(db)),
		Keys:            New[*credential.ApiKey](ctx, seed.Keys, channelCapacity, keyPersister(db)),
		CliTokens:       New[*credential.CliToken](ctx, seed.CliTokens, channelCapacity, cliTokenPersister(db)),
		ServiceAccounts: New[*credential.ServiceAccount](ctx, seed.ServiceAccounts, channelCapacity, serviceAccountPersister(db)),
	}
}

// Close stops every pool's goroutines.
func (m *Manager) Close() {
	m.Cookies.Close()
	m.Keys.Close()
	m.CliTokens.Close()
	m.ServiceAccounts.Close()
}

func cookiePersister(db store.Storage) Persister[*credential.WebCookie] {
	return Persister[*credential.WebCookie]{
		Upsert: func(ctx context.Context, e Entry[*credential.WebCookie]) error {
			if !db.Enabled() {
				return nil
			}
			c := e.Value
			if e.Reason.Bucket() == credential.BucketInvalid {
				return db.PersistWastedUpsert(ctx, store.WastedRow{Cookie: c.Cookie, Reason: e.Reason})
			}
			row := store.CookieRow{Cookie: c.Cookie, PremiumWindow: c.Features.PremiumWindow}
			if e.Reason.Kind == credential.ReasonTooManyRequests {
				reset := e.Reason.ResetAt
				row.ResetTime = &reset
			}
			if c.Token != nil {
				row.TokenAccess = c.Token.AccessToken
				row.TokenRefresh = c.Token.RefreshToken
				expires := c.Token.ExpiresAt
				row.TokenExpires = &expires
				row.TokenOrgID = c.Token.OrganizationID
			}
			return db.PersistCookieUpsert(ctx, row)
		},
		Delete: func(ctx context.Context, key string) error {
			if !db.Enabled() {
				return nil
			}
			return db.DeleteCookieRow(ctx, key)
		},
	}
}

func keyPersister(db store.Storage) Persister[*credential.ApiKey] {
	return Persister[*credential.ApiKey]{
		Upsert: func(ctx context.Context, e Entry[*credential.ApiKey]) error {
			if !db.Enabled() {
				return nil
			}
			return db.PersistKeyUpsert(ctx, store.KeyRow{Key: e.Value.Key, Count403: e.Value.Count403})
		},
		Delete: func(ctx context.Context, key string) error {
			if !db.Enabled() {
				return nil
			}
			return db.DeleteKeyRow(ctx, key)
		},
	}
}

func cliTokenPersister(db store.Storage) Persister[*credential.CliToken] {
	return Persister[*credential.CliToken]{
		Upsert: func(ctx context.Context, e Entry[*credential.CliToken]) error {
			if !db.Enabled() {
				return nil
			}
			t := e.Value
			row := store.CliTokenRow{AccessToken: t.AccessToken, ExpiresAt: t.ExpiresAt, Count403: t.Count403}
			if t.Refresh != nil {
				row.ClientID = t.Refresh.ClientID
				row.ClientSecret = t.Refresh.ClientSecret
				row.RefreshToken = t.Refresh.RefreshToken
				row.TokenEndpoint = t.Refresh.TokenEndpoint
				row.ProjectID = t.Refresh.ProjectID
			}
			return db.PersistCliTokenUpsert(ctx, row)
		},
		Delete: func(ctx context.Context, key string) error {
			if !db.Enabled() {
				return nil
			}
			return db.DeleteCliTokenRow(ctx, key)
		},
	}
}

func serviceAccountPersister(db store.Storage) Persister[*credential.ServiceAccount] {
	return Persister[*credential.ServiceAccount]{
		Upsert: func(ctx context.Context, e Entry[*credential.ServiceAccount]) error {
			if !db.Enabled() {
				return nil
			}
			s := e.Value
			return db.PersistVertexUpsert(ctx, store.VertexRow{
				ID:          s.ID,
				ClientEmail: s.Credential.ClientEmail,
				ProjectID:   s.Credential.ProjectID,
				PrivateKey:  s.Credential.PrivateKey,
				Count403:    s.Count403,
			})
		},
		Delete: func(ctx context.Context, key string) error {
			if !db.Enabled() {
				return nil
			}
			return db.DeleteVertexRow(ctx, key)
		},
	}
}

// LoadSeedFromStorage converts a database's persisted rows back into
// credential values for NewManager's seed, used when db.Enabled() so the
// pools resume from the last durable snapshot rather than the YAML file.
func LoadSeedFromStorage(ctx context.Context, db store.Storage) (Seed, error) {
	var seed Seed

	validRows, exhaustedRows, wastedRows, err := db.LoadAllCookies(ctx)
	if err != nil {
		return seed, err
	}
	for _, r := range validRows {
		seed.Cookies = append(seed.Cookies, cookieFromRow(r))
	}
	for _, r := range exhaustedRows {
		seed.Cookies = append(seed.Cookies, cookieFromRow(r))
	}
	for _, r := range wastedRows {
		seed.Cookies = append(seed.Cookies, &credential.WebCookie{Cookie: r.Cookie})
	}

	keyRows, err := db.LoadAllKeys(ctx)
	if err != nil {
		return seed, err
	}
	for _, r := range keyRows {
		seed.Keys = append(seed.Keys, &credential.ApiKey{Key: r.Key, Count403: r.Count403})
	}

	cliRows, err := db.LoadAllCliTokens(ctx)
	if err != nil {
		return seed, err
	}
	for _, r := range cliRows {
		t := &credential.CliToken{AccessToken: r.AccessToken, ExpiresAt: r.ExpiresAt, Count403: r.Count403}
		if r.RefreshToken != "" {
			t.Refresh = &credential.CliRefreshMeta{
				ClientID:      r.ClientID,
				ClientSecret:  r.ClientSecret,
				RefreshToken:  r.RefreshToken,
				TokenEndpoint: r.TokenEndpoint,
				ProjectID:     r.ProjectID,
			}
		}
		seed.CliTokens = append(seed.CliTokens, t)
	}

	vertexRows, err := db.LoadAllVertex(ctx)
	if err != nil {
		return seed, err
	}
	for _, r := range vertexRows {
		seed.ServiceAccounts = append(seed.ServiceAccounts, &credential.ServiceAccount{
			ID:       r.ID,
			Count403: r.Count403,
			Credential: credential.ServiceAccountKey{
				ClientEmail: r.ClientEmail,
				ProjectID:   r.ProjectID,
				PrivateKey:  r.PrivateKey,
			},
		})
	}

	return seed, nil
}

func cookieFromRow(r store.CookieRow) *credential.WebCookie {
	c := &credential.WebCookie{Cookie: r.Cookie, ResetTime: r.ResetTime, Features: credential.FeatureFlags{PremiumWindow: r.PremiumWindow}}
	if r.TokenAccess != "" {
		c.Token = &credential.OAuthToken{
			AccessToken:    r.TokenAccess,
			RefreshToken:   r.TokenRefresh,
			OrganizationID: r.TokenOrgID,
		}
		if r.TokenExpires != nil {
			c.Token.ExpiresAt = *r.TokenExpires
		}
	}
	return c
}
