// Package credential defines the value objects for every credential kind
// the proxy leases to dispatch upstream requests (spec component C2), plus
// the reason taxonomy carried when a credential is returned to its pool.
//
// Every type here is a plain value record: mutation happens exclusively
// inside the owning actor's handler (package actor), never on these types
// directly, matching the "per-credential smart object" re-architecture
// called out in spec.md §9.
package credential

import (
	"strings"
	"time"
)

// Family classifies a model for usage accounting.
type Family string

const (
	FamilySonnet Family = "sonnet"
	FamilyOpus   Family = "opus"
	FamilyOther  Family = "other"
)

// FamilyOf maps a model name to its accounting family.
func FamilyOf(model string) Family {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "opus"):
		return FamilyOpus
	case strings.Contains(lower, "sonnet"):
		return FamilySonnet
	default:
		return FamilyOther
	}
}

// TriState models an explicit Unknown/Enabled/Disabled flag rather than a
// nullable boolean, per the "feature probe as implicit tri-state" redesign
// flag in spec.md §9.
type TriState int

const (
	Unknown TriState = iota
	True
	False
)

// OAuthToken is the OAuth access/refresh pair paired with a WebCookie.
type OAuthToken struct {
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	OrganizationID string
}

// TokenState classifies an OAuthToken's freshness (spec.md §4.4).
type TokenState int

const (
	TokenNone TokenState = iota
	TokenExpired
	TokenValid
)

// Classify returns the token's lifecycle state relative to now.
func (t *OAuthToken) Classify(now time.Time) TokenState {
	if t == nil {
		return TokenNone
	}
	if !now.Before(t.ExpiresAt) {
		return TokenExpired
	}
	return TokenValid
}

// FeatureFlags holds learned capability flags cached on a credential (C6).
type FeatureFlags struct {
	PremiumWindow TriState
}

// PermissionFlags holds learned permission flags (e.g. count-tokens).
type PermissionFlags struct {
	CountTokensAllowed TriState
}

// UsageBreakdown is a raw input/output token tally.
type UsageBreakdown struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates usage into the breakdown.
func (b *UsageBreakdown) Add(input, output int64) {
	b.InputTokens += input
	b.OutputTokens += output
}

// Window is a rolling usage bucket with its own reset boundary (spec.md §4.7).
type Window struct {
	Breakdown UsageBreakdown
	ResetsAt  *time.Time
	HasReset  TriState
}

// NeedsReset reports whether now has crossed the window's reset boundary.
func (w *Window) NeedsReset(now time.Time) bool {
	return w.ResetsAt != nil && !now.Before(*w.ResetsAt)
}

// Reset zeroes the breakdown and applies a new boundary, enforcing
// invariant 5: has_reset=true iff resets_at is Some.
func (w *Window) Reset(resetsAt *time.Time) {
	w.Breakdown = UsageBreakdown{}
	w.ResetsAt = resetsAt
	if resetsAt != nil {
		w.HasReset = True
	} else {
		w.HasReset = False
	}
}

// RollingUsage is the credential's full usage accounting state.
type RollingUsage struct {
	Session         Window
	Weekly          Window
	WeeklyPerFamily map[Family]Window
}

// AddFamily accumulates usage into the per-family weekly sub-bucket,
// creating it on first use.
func (u *RollingUsage) AddFamily(family Family, input, output int64) {
	if u.WeeklyPerFamily == nil {
		u.WeeklyPerFamily = make(map[Family]Window)
	}
	w := u.WeeklyPerFamily[family]
	w.Breakdown.Add(input, output)
	u.WeeklyPerFamily[family] = w
}

// WebCookie is a browser-session credential, optionally paired with an
// OAuth token exchanged against the upstream's authorization endpoints.
type WebCookie struct {
	Cookie      string
	Token       *OAuthToken
	ResetTime   *time.Time
	Features    FeatureFlags
	Permissions PermissionFlags
	Usage       RollingUsage
	// OrgCapabilities mirrors the original's is_pro() helper: capability
	// strings observed on the account, used to skip redundant feature probes.
	OrgCapabilities []string
}

// PrimaryKey implements Credential.
func (c *WebCookie) PrimaryKey() string { return c.Cookie }

// Redacted implements Credential.
func (c *WebCookie) Redacted() string { return ellipse(c.Cookie) }

// IsPro reports whether any observed capability implies a premium plan,
// restored from the original's context.rs is_pro() helper.
func (c *WebCookie) IsPro() bool {
	for _, cap := range c.OrgCapabilities {
		lower := strings.ToLower(cap)
		if strings.Contains(lower, "pro") || strings.Contains(lower, "enterprise") ||
			strings.Contains(lower, "raven") || strings.Contains(lower, "max") {
			return true
		}
	}
	return false
}

// ApiKey is a bare opaque key credential (e.g. for the Gemini native API).
type ApiKey struct {
	Key      string
	Count403 uint32
}

func (k *ApiKey) PrimaryKey() string { return k.Key }
func (k *ApiKey) Redacted() string   { return ellipse(k.Key) }

// BumpForbidden implements Forbiddable.
func (k *ApiKey) BumpForbidden() uint32 { k.Count403++; return k.Count403 }

// CliRefreshMeta carries the fields needed to refresh a CLI bearer token.
type CliRefreshMeta struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenEndpoint string
	Scopes       []string
	ProjectID    string
}

// CliToken is an OAuth bearer access token (e.g. the Gemini CLI / Code
// Assist credential), optionally refreshable.
type CliToken struct {
	AccessToken string
	ExpiresAt   *time.Time
	Refresh     *CliRefreshMeta
	Count403    uint32
}

func (t *CliToken) PrimaryKey() string { return t.AccessToken }
func (t *CliToken) Redacted() string   { return ellipse(t.AccessToken) }

// BumpForbidden implements Forbiddable.
func (t *CliToken) BumpForbidden() uint32 { t.Count403++; return t.Count403 }

// NeedsRefresh reports whether the token should be refreshed before the
// next dispatch (spec.md §4.4: now + 5m >= expires_at).
func (t *CliToken) NeedsRefresh(now time.Time) bool {
	if t.ExpiresAt == nil || t.Refresh == nil {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-5 * time.Minute))
}

// ServiceAccountKey is the embedded service-account key document.
type ServiceAccountKey struct {
	ClientEmail string
	ProjectID   string
	PrivateKey  string
}

// ServiceAccount is a Vertex service-account credential with a stable id
// that survives re-import (spec.md §4.8 "full upsert by stable id").
type ServiceAccount struct {
	ID         string
	Credential ServiceAccountKey
	Count403   uint32
}

func (s *ServiceAccount) PrimaryKey() string { return s.ID }
func (s *ServiceAccount) Redacted() string   { return ellipse(s.Credential.ClientEmail) }

// BumpForbidden implements Forbiddable.
func (s *ServiceAccount) BumpForbidden() uint32 { s.Count403++; return s.Count403 }

// Credential is the common contract every pool entry satisfies: a stable
// primary key (invariant 1) and a redacted form safe to log.
type Credential interface {
	PrimaryKey() string
	Redacted() string
}

// Forbiddable is implemented by the three credential kinds that carry a
// count_403 counter (spec.md §3 invariant 4): ApiKey, CliToken, and
// ServiceAccount. WebCookie has no such counter — a 403 against it is
// terminal immediately, handled by internal/orchestrator directly.
type Forbiddable interface {
	Credential
	BumpForbidden() uint32
}

// ellipse truncates a secret to its first 10 characters for safe logging,
// restored from the original's CliBearerToken::ellipse().
func ellipse(s string) string {
	const n = 10
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
