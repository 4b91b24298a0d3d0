package tokenlifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/skratchdot/open-golang/open"

	"github.com/veilgate/veilgate/internal/credential"
)

// LoginHelperConfig describes the authorization-code flow's client
// registration and callback listener, grounded on the teacher's
// internal/auth/gemini getTokenFromWeb.
type LoginHelperConfig struct {
	AuthorizeURL  string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	CallbackPort  int
	CallbackPath  string // defaults to "/oauth2callback"
	NoBrowser     bool
	Timeout       time.Duration // defaults to 5 minutes
}

// RunAuthorizationCodeLogin starts a local HTTP callback listener, opens
// the system browser to the authorize URL, and exchanges the returned
// code for a token once the callback fires. This is the interactive half
// of spec.md §4.4's None branch; call sites that already hold a code
// (e.g. a headless environment) should call AuthorizationCodeExchange
// directly instead.
func (r *Refresher) RunAuthorizationCodeLogin(ctx context.Context, cfg LoginHelperConfig) (*credential.OAuthToken, error) {
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/oauth2callback"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	redirectURI := fmt.Sprintf("http://localhost:%d%s", cfg.CallbackPort, cfg.CallbackPath)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.CallbackPort), Handler: mux}
	mux.HandleFunc(cfg.CallbackPath, func(w http.ResponseWriter, req *http.Request) {
		if msg := req.URL.Query().Get("error"); msg != "" {
			fmt.Fprintf(w, "Authentication failed: %s", msg)
			trySend(errChan, fmt.Errorf("authorization server returned error: %s", msg))
			return
		}
		code := req.URL.Query().Get("code")
		if code == "" {
			fmt.Fprint(w, "Authentication failed: code not found.")
			trySend(errChan, errors.New("callback carried no code"))
			return
		}
		fmt.Fprint(w, "<html><body><h1>Authentication successful</h1><p>You can close this window.</p></body></html>")
		trySend(codeChan, code)
	})

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			trySend(errChan, err)
		}
	}()
	defer server.Close()

	authURL := buildAuthCodeURL(cfg, redirectURI)
	if !cfg.NoBrowser {
		if err := open.Run(authURL); err != nil {
			fmt.Printf("could not open a browser automatically: %v\nopen this URL manually:\n%s\n", err, authURL)
		}
	} else {
		fmt.Printf("open this URL in your browser:\n%s\n", authURL)
	}

	select {
	case code := <-codeChan:
		return r.AuthorizationCodeExchange(ctx, cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, redirectURI, code)
	case err := <-errChan:
		return nil, err
	case <-time.After(cfg.Timeout):
		return nil, errors.New("tokenlifecycle: timed out waiting for the authorization callback")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func buildAuthCodeURL(cfg LoginHelperConfig, redirectURI string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	if len(cfg.Scopes) > 0 {
		scopes := cfg.Scopes[0]
		for _, s := range cfg.Scopes[1:] {
			scopes += " " + s
		}
		q.Set("scope", scopes)
	}
	return cfg.AuthorizeURL + "?" + q.Encode()
}

func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
