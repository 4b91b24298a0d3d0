// Package tokenlifecycle implements credential token lifecycle management
// (spec component C5): authorization-code exchange and refresh for
// WebCookie-paired OAuth tokens, and bearer-token refresh for CliToken
// credentials, grounded on the teacher's internal/auth/gemini package and
// the pack's oauth_refresh.go provider helpers.
package tokenlifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veilgate/veilgate/internal/credential"
)

// tokenResponse is the shape every refresh_token / authorization_code
// grant response is decoded into, matching the field names the original
// and the pack's oauth_refresh.go both expect.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Refresher executes the token-endpoint HTTP calls for both credential
// kinds. The zero value uses http.DefaultClient.
type Refresher struct {
	HTTPClient *http.Client
}

func New(client *http.Client) *Refresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Refresher{HTTPClient: client}
}

// RefreshWebCookieToken implements spec.md §4.4's Expired branch: POST the
// refresh token to the token endpoint, replace both access and refresh,
// recompute expires_at. The endpoint and client credentials are supplied
// by the caller since a WebCookie's OAuthToken does not itself carry them
// (unlike CliToken.Refresh, which is self-describing).
func (r *Refresher) RefreshWebCookieToken(ctx context.Context, tok *credential.OAuthToken, tokenEndpoint, clientID, clientSecret string) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.RefreshToken)
	if clientID != "" {
		form.Set("client_id", clientID)
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	resp, err := r.postForm(ctx, tokenEndpoint, form)
	if err != nil {
		return err
	}

	tok.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		tok.RefreshToken = resp.RefreshToken
	}
	tok.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return nil
}

// RefreshCliToken implements spec.md §4.4's CLI bearer-token branch: POST
// grant_type=refresh_token to the token endpoint named in Refresh, then
// overwrite the access token and expiry in place.
func (r *Refresher) RefreshCliToken(ctx context.Context, t *credential.CliToken) error {
	if t.Refresh == nil {
		return fmt.Errorf("tokenlifecycle: cli token has no refresh metadata")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", t.Refresh.RefreshToken)
	if t.Refresh.ClientID != "" {
		form.Set("client_id", t.Refresh.ClientID)
	}
	if t.Refresh.ClientSecret != "" {
		form.Set("client_secret", t.Refresh.ClientSecret)
	}

	resp, err := r.postForm(ctx, t.Refresh.TokenEndpoint, form)
	if err != nil {
		return err
	}

	t.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		t.Refresh.RefreshToken = resp.RefreshToken
	}
	expires := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	t.ExpiresAt = &expires
	return nil
}

// EnsureCliTokenFresh refreshes t in place only if CliToken.NeedsRefresh
// reports true for now, matching spec.md's "before each dispatch" timing.
func (r *Refresher) EnsureCliTokenFresh(ctx context.Context, t *credential.CliToken, now time.Time) error {
	if !t.NeedsRefresh(now) {
		return nil
	}
	return r.RefreshCliToken(ctx, t)
}

func (r *Refresher) postForm(ctx context.Context, tokenEndpoint string, form url.Values) (tokenResponse, error) {
	var out tokenResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return out, &credential.Error{Kind: credential.Transient, Cause: err, Message: "building refresh request"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return out, &credential.Error{Kind: credential.Transient, Cause: err, Message: "refresh request failed"}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// spec.md §4.4: a non-2xx with a refresh-specific error classifies as
		// InvalidAuth (the refresh token itself is no longer usable); any
		// other non-2xx is Transient (server hiccup, try again later).
		if looksLikeRefreshRejection(resp.StatusCode, body) {
			return out, &credential.Error{Kind: credential.InvalidAuth, Status: resp.StatusCode, Body: string(body)}
		}
		return out, &credential.Error{Kind: credential.Transient, Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, &credential.Error{Kind: credential.Transient, Cause: err, Message: "decoding refresh response"}
	}
	if out.AccessToken == "" {
		return out, &credential.Error{Kind: credential.InvalidAuth, Message: "refresh response carried no access_token"}
	}
	return out, nil
}

func looksLikeRefreshRejection(status int, body []byte) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	var errDoc struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errDoc); err == nil {
		switch errDoc.Error {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
	}
	return false
}

// AuthorizationCodeExchange swaps an authorization code for an access and
// refresh token at tokenEndpoint, implementing the exchange half of
// spec.md §4.4's None branch (run authorization-code flow). The
// interactive "obtain a code" half lives in LoginHelper below, since it
// requires a browser and a local callback listener; this function is the
// pure HTTP step both the login helper and any automated test can share.
func (r *Refresher) AuthorizationCodeExchange(ctx context.Context, tokenEndpoint, clientID, clientSecret, redirectURI, code string) (*credential.OAuthToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	if clientID != "" {
		form.Set("client_id", clientID)
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	resp, err := r.postForm(ctx, tokenEndpoint, form)
	if err != nil {
		return nil, err
	}

	return &credential.OAuthToken{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// FetchOrganizationID performs the "fetch organization id" step spec.md
// §4.4 lists before the authorization-code exchange: a GET against the
// upstream's user-info-shaped endpoint, matching the teacher's
// createTokenStorage GET-then-gjson-field-read pattern. orgIDPath is a
// gjson-style path the caller supplies for the id field (e.g.
// "organization.uuid"), so this helper stays vendor-agnostic.
func (r *Refresher) FetchOrganizationID(ctx context.Context, userInfoURL, bearerToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, &credential.Error{Kind: credential.Transient, Cause: err, Message: "fetching organization id"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &credential.Error{Kind: credential.UpstreamHTTP, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
