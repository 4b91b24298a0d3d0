package tokenlifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/veilgate/veilgate/internal/credential"
)

func TestRefreshWebCookieTokenUpdatesAccessAndExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Fatalf("expected grant_type=refresh_token, got %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "R1" {
			t.Fatalf("expected refresh_token=R1, got %q", r.Form.Get("refresh_token"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "A2",
			"refresh_token": "R2",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	r := New(srv.Client())
	tok := &credential.OAuthToken{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: time.Now().Add(-time.Second)}

	if err := r.RefreshWebCookieToken(context.Background(), tok, srv.URL, "client-id", "client-secret"); err != nil {
		t.Fatalf("RefreshWebCookieToken: %v", err)
	}
	if tok.AccessToken != "A2" || tok.RefreshToken != "R2" {
		t.Fatalf("expected A2/R2, got %s/%s", tok.AccessToken, tok.RefreshToken)
	}
	if !tok.ExpiresAt.After(time.Now().Add(3500 * time.Second)) {
		t.Fatalf("expected expiry roughly 3600s out, got %v", tok.ExpiresAt)
	}
}

func TestRefreshCliTokenRequiresRefreshMetadata(t *testing.T) {
	r := New(nil)
	err := r.RefreshCliToken(context.Background(), &credential.CliToken{AccessToken: "A1"})
	if err == nil {
		t.Fatal("expected an error when Refresh metadata is nil")
	}
}

func TestRefreshCliTokenOverwritesAccessTokenAndExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "A2", "expires_in": 1800})
	}))
	defer srv.Close()

	r := New(srv.Client())
	expires := time.Now().Add(-time.Minute)
	tok := &credential.CliToken{
		AccessToken: "A1",
		ExpiresAt:   &expires,
		Refresh:     &credential.CliRefreshMeta{RefreshToken: "R1", TokenEndpoint: srv.URL},
	}

	if err := r.RefreshCliToken(context.Background(), tok); err != nil {
		t.Fatalf("RefreshCliToken: %v", err)
	}
	if tok.AccessToken != "A2" {
		t.Fatalf("expected A2, got %s", tok.AccessToken)
	}
	if tok.ExpiresAt == nil || !tok.ExpiresAt.After(time.Now()) {
		t.Fatal("expected a future expiry after refresh")
	}
}

func TestEnsureCliTokenFreshSkipsWhenNotDue(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(map[string]any{"access_token": "A2", "expires_in": 3600})
	}))
	defer srv.Close()

	r := New(srv.Client())
	farFuture := time.Now().Add(time.Hour)
	tok := &credential.CliToken{
		AccessToken: "A1",
		ExpiresAt:   &farFuture,
		Refresh:     &credential.CliRefreshMeta{RefreshToken: "R1", TokenEndpoint: srv.URL},
	}

	if err := r.EnsureCliTokenFresh(context.Background(), tok, time.Now()); err != nil {
		t.Fatalf("EnsureCliTokenFresh: %v", err)
	}
	if called {
		t.Fatal("expected no refresh call when the token is not yet due")
	}
}

func TestPostFormClassifiesInvalidGrantAsInvalidAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer srv.Close()

	r := New(srv.Client())
	tok := &credential.OAuthToken{RefreshToken: "stale"}
	err := r.RefreshWebCookieToken(context.Background(), tok, srv.URL, "", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	credErr, ok := err.(*credential.Error)
	if !ok || credErr.Kind != credential.InvalidAuth {
		t.Fatalf("expected InvalidAuth, got %v", err)
	}
}

func TestPostFormClassifiesServerErrorAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	r := New(srv.Client())
	tok := &credential.OAuthToken{RefreshToken: "anything"}
	err := r.RefreshWebCookieToken(context.Background(), tok, srv.URL, "", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	credErr, ok := err.(*credential.Error)
	if !ok || credErr.Kind != credential.Transient {
		t.Fatalf("expected Transient, got %v", err)
	}
}

func TestAuthorizationCodeExchangeBuildsOAuthToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Fatalf("expected grant_type=authorization_code, got %q", r.Form.Get("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "A1",
			"refresh_token": "R1",
			"expires_in":    7200,
		})
	}))
	defer srv.Close()

	r := New(srv.Client())
	tok, err := r.AuthorizationCodeExchange(context.Background(), srv.URL, "cid", "secret", "http://localhost/callback", "code-123")
	if err != nil {
		t.Fatalf("AuthorizationCodeExchange: %v", err)
	}
	if tok.AccessToken != "A1" || tok.RefreshToken != "R1" {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestFetchOrganizationIDPropagatesUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer srv.Close()

	r := New(srv.Client())
	_, err := r.FetchOrganizationID(context.Background(), srv.URL, "bearer-token")
	if err == nil {
		t.Fatal("expected an error")
	}
	credErr, ok := err.(*credential.Error)
	if !ok || credErr.Kind != credential.UpstreamHTTP || credErr.Status != http.StatusForbidden {
		t.Fatalf("expected UpstreamHTTP/403, got %v", err)
	}
}
