// Package reconciler implements the background reconciliation loops
// (spec component C9): three independent periodic tasks that keep each
// credential pool converged with the durable storage layer when a
// database is configured, grounded on the original's services/sync.rs.
package reconciler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/config"
	"github.com/veilgate/veilgate/internal/credential"
	"github.com/veilgate/veilgate/internal/store"
)

// Run starts the three reconciliation ticks and blocks until ctx is
// canceled or one of the errgroup's goroutines returns a non-nil error.
// Per spec.md §4.8, a single tick's failure is logged and skipped, never
// escalated — only a goroutine that panics past its own recover would
// surface here, which is why the errgroup itself never collects errors
// from inside the tick bodies.
func Run(ctx context.Context, mgr *actor.Manager, db store.Storage, cfg config.ReconcileConfig) error {
	if !db.Enabled() {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tick(ctx, cfg.KeysInterval, func() { reconcileKeys(ctx, mgr, db) }) })
	g.Go(func() error { return tick(ctx, cfg.CookiesInterval, func() { reconcileCookies(ctx, mgr, db) }) })
	g.Go(func() error {
		return tick(ctx, cfg.ServiceAccountsInterval, func() { reconcileServiceAccounts(ctx, mgr, db) })
	})
	return g.Wait()
}

func tick(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// reconcileKeys adds DB keys missing from the pool and removes pool keys
// no longer present in the DB, matching sync.rs's keys sync task.
func reconcileKeys(ctx context.Context, mgr *actor.Manager, db store.Storage) {
	dbKeys, err := db.LoadAllKeys(ctx)
	if err != nil {
		logrus.WithError(err).Warn("reconciler: load keys failed, skipping tick")
		return
	}
	status, err := mgr.Keys.GetStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("reconciler: keys status failed, skipping tick")
		return
	}

	dbSet := make(map[string]store.KeyRow, len(dbKeys))
	for _, k := range dbKeys {
		dbSet[k.Key] = k
	}
	curSet := make(map[string]struct{}, len(status.Valid))
	for _, k := range status.Valid {
		curSet[k.Key] = struct{}{}
	}

	for key, row := range dbSet {
		if _, ok := curSet[key]; !ok {
			mgr.Keys.Submit(ctx, &credential.ApiKey{Key: row.Key, Count403: row.Count403})
		}
	}
	for key := range curSet {
		if _, ok := dbSet[key]; !ok {
			_ = mgr.Keys.Delete(ctx, key)
		}
	}
}

// reconcileCookies conservatively syncs cookies: add missing, reclassify
// exhausted/invalid rows the pool doesn't already agree on, never
// hard-delete (matches sync.rs: cookies are never pruned by this tick,
// only the admin Delete RPC removes one).
func reconcileCookies(ctx context.Context, mgr *actor.Manager, db store.Storage) {
	validRows, exhaustedRows, wastedRows, err := db.LoadAllCookies(ctx)
	if err != nil {
		logrus.WithError(err).Warn("reconciler: load cookies failed, skipping tick")
		return
	}
	status, err := mgr.Cookies.GetStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("reconciler: cookies status failed, skipping tick")
		return
	}

	curValid := keySetOf(status.Valid)
	curExhausted := entryKeySetOf(status.Exhausted)
	curInvalid := entryKeySetOf(status.Invalid)

	for _, row := range validRows {
		key := row.Cookie
		if curValid[key] || curExhausted[key] || curInvalid[key] {
			continue
		}
		mgr.Cookies.Submit(ctx, cookieFromRow(row))
	}

	for _, row := range exhaustedRows {
		if curExhausted[row.Cookie] {
			continue
		}
		resetAt := time.Now().Add(time.Hour)
		if row.ResetTime != nil {
			resetAt = *row.ResetTime
		}
		mgr.Cookies.Return(ctx, cookieFromRow(row), credential.Reason{Kind: credential.ReasonTooManyRequests, ResetAt: resetAt})
	}

	for _, row := range wastedRows {
		if curInvalid[row.Cookie] {
			continue
		}
		mgr.Cookies.Return(ctx, &credential.WebCookie{Cookie: row.Cookie}, row.Reason)
	}
}

// reconcileServiceAccounts mirrors the DB as the source of truth for
// vertex credentials: imports new or count_403-changed rows, prunes
// entries removed from the DB, matching sync.rs's vertex task exactly
// (full upsert-by-stable-id semantics, unlike the conservative cookie
// sync above).
func reconcileServiceAccounts(ctx context.Context, mgr *actor.Manager, db store.Storage) {
	dbRows, err := db.LoadAllVertex(ctx)
	if err != nil {
		logrus.WithError(err).Warn("reconciler: load vertex credentials failed, skipping tick")
		return
	}
	status, err := mgr.ServiceAccounts.GetStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("reconciler: vertex status failed, skipping tick")
		return
	}

	dbByID := make(map[string]store.VertexRow, len(dbRows))
	for _, r := range dbRows {
		dbByID[r.ID] = r
	}
	actorByID := make(map[string]*credential.ServiceAccount, len(status.Valid)+len(status.Exhausted)+len(status.Invalid))
	for _, sa := range status.Valid {
		actorByID[sa.ID] = sa
	}
	for _, e := range status.Exhausted {
		actorByID[e.Value.ID] = e.Value
	}
	for _, e := range status.Invalid {
		actorByID[e.Value.ID] = e.Value
	}

	for id, row := range dbByID {
		existing, ok := actorByID[id]
		switch {
		case !ok:
			mgr.ServiceAccounts.Submit(ctx, serviceAccountFromRow(row))
		case existing.Count403 != row.Count403:
			mgr.ServiceAccounts.Update(ctx, serviceAccountFromRow(row))
		}
	}
	for id := range actorByID {
		if _, ok := dbByID[id]; !ok {
			_ = mgr.ServiceAccounts.Delete(ctx, id)
		}
	}
}

func keySetOf(cookies []*credential.WebCookie) map[string]bool {
	s := make(map[string]bool, len(cookies))
	for _, c := range cookies {
		s[c.Cookie] = true
	}
	return s
}

func entryKeySetOf(entries []actor.Entry[*credential.WebCookie]) map[string]bool {
	s := make(map[string]bool, len(entries))
	for _, e := range entries {
		s[e.Value.Cookie] = true
	}
	return s
}

func cookieFromRow(r store.CookieRow) *credential.WebCookie {
	c := &credential.WebCookie{Cookie: r.Cookie, ResetTime: r.ResetTime, Features: credential.FeatureFlags{PremiumWindow: r.PremiumWindow}}
	if r.TokenAccess != "" {
		c.Token = &credential.OAuthToken{AccessToken: r.TokenAccess, RefreshToken: r.TokenRefresh, OrganizationID: r.TokenOrgID}
		if r.TokenExpires != nil {
			c.Token.ExpiresAt = *r.TokenExpires
		}
	}
	return c
}

func serviceAccountFromRow(r store.VertexRow) *credential.ServiceAccount {
	return &credential.ServiceAccount{
		ID:       r.ID,
		Count403: r.Count403,
		Credential: credential.ServiceAccountKey{
			ClientEmail: r.ClientEmail,
			ProjectID:   r.ProjectID,
			PrivateKey:  r.PrivateKey,
		},
	}
}
