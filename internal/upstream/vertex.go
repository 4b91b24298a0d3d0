package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/veilgate/veilgate/internal/credential"
)

// cloudPlatformScope is the OAuth scope Vertex dispatch exchanges the
// service-account key for, per spec §6's Vertex entry.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// VertexClient dispatches ServiceAccount-authenticated requests against
// Vertex AI. Unlike the other families, the bearer token here is a
// short-lived exchange of the credential's embedded key material, never
// stored back on the ServiceAccount value — so using x/oauth2/google's
// JWT token source does not violate the "mutated only inside its owning
// actor" invariant documented for WebCookie/CliToken in tokenlifecycle.
type VertexClient struct {
	endpoint string
	proxyURL string
}

// NewVertexClient builds a client bound to endpoint, routed through
// proxyURL.
func NewVertexClient(endpoint, proxyURL string) *VertexClient {
	return &VertexClient{endpoint: endpoint, proxyURL: proxyURL}
}

type serviceAccountKeyJSON struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	ProjectID   string `json:"project_id"`
	TokenURI    string `json:"token_uri"`
}

// exchangeAccessToken builds the service-account JSON document from the
// embedded key fields and exchanges it for a cloud-platform access token.
func exchangeAccessToken(ctx context.Context, sa *credential.ServiceAccount, proxyURL string) (*http.Client, error) {
	doc := serviceAccountKeyJSON{
		Type:        "service_account",
		ClientEmail: sa.Credential.ClientEmail,
		PrivateKey:  sa.Credential.PrivateKey,
		ProjectID:   sa.Credential.ProjectID,
		TokenURI:    "https://oauth2.googleapis.com/token",
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal service account key: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(raw, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("upstream: parse service account key: %w", err)
	}

	base := newPlainHTTPClient(proxyURL)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return cfg.Client(ctx), nil
}

// GenerateContent issues POST {endpoint}/v1/projects/{pid}/locations/global/publishers/google/models/{model}:{method}.
func (c *VertexClient) GenerateContent(ctx context.Context, sa *credential.ServiceAccount, model, method string, body []byte) (*http.Response, error) {
	client, err := exchangeAccessToken(ctx, sa, c.proxyURL)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/projects/%s/locations/global/publishers/google/models/%s:%s",
		c.endpoint, sa.Credential.ProjectID, model, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}
