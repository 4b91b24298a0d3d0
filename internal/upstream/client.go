package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/veilgate/veilgate/internal/credential"
)

// Endpoints holds the upstream base URLs the orchestrator dispatches
// against, each independently overridable (tests, regional mirrors, or a
// self-hosted compatible backend).
type Endpoints struct {
	Anthropic  string // default https://api.anthropic.com
	Gemini     string // default https://generativelanguage.googleapis.com
	CodeAssist string // default https://cloudcode-pa.googleapis.com
	Vertex     string // default https://aiplatform.googleapis.com
}

// DefaultEndpoints returns the production upstream hosts named in spec §6.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Anthropic:  "https://api.anthropic.com",
		Gemini:     "https://generativelanguage.googleapis.com",
		CodeAssist: "https://cloudcode-pa.googleapis.com",
		Vertex:     "https://aiplatform.googleapis.com",
	}
}

const anthropicVersion = "2023-06-01"

// AnthropicClient dispatches WebCookie-authenticated requests against the
// Anthropic-style messages API, through the utls-fronted transport.
type AnthropicClient struct {
	endpoint string
	http     *http.Client
}

// NewAnthropicClient builds a client bound to endpoint, routed through
// proxyURL (empty disables proxying).
func NewAnthropicClient(endpoint, proxyURL string) *AnthropicClient {
	return &AnthropicClient{endpoint: endpoint, http: newWebCookieHTTPClient(proxyURL)}
}

// Messages issues POST {endpoint}/v1/messages using cookie's paired OAuth
// access token, per spec §6's Anthropic-style messages entry. betaHeader,
// when non-empty, is sent verbatim as anthropic-beta (C6's probe plan).
func (c *AnthropicClient) Messages(ctx context.Context, cookie *credential.WebCookie, body []byte, betaHeader string) (*http.Response, error) {
	if cookie.Token == nil || cookie.Token.AccessToken == "" {
		return nil, fmt.Errorf("upstream: anthropic dispatch requires a paired oauth access token")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cookie.Token.AccessToken)
	req.Header.Set("anthropic-version", anthropicVersion)
	if betaHeader != "" {
		req.Header.Set("anthropic-beta", betaHeader)
	}
	return c.http.Do(req)
}

// GeminiClient dispatches ApiKey-authenticated requests against the
// Gemini native and OpenAI-compat surfaces.
type GeminiClient struct {
	endpoint string
	http     *http.Client
}

// NewGeminiClient builds a client bound to endpoint, routed through
// proxyURL.
func NewGeminiClient(endpoint, proxyURL string) *GeminiClient {
	return &GeminiClient{endpoint: endpoint, http: newPlainHTTPClient(proxyURL)}
}

// GenerateContent issues POST {endpoint}/v1beta/models/{model}:{method}?key=...
// per spec §6's Gemini native entry, selecting streamGenerateContent when
// stream is true.
func (c *GeminiClient) GenerateContent(ctx context.Context, key *credential.ApiKey, model string, stream bool, body []byte) (*http.Response, error) {
	method := "generateContent"
	sep := "?"
	if stream {
		method = "streamGenerateContent"
		sep = "&"
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:%s", c.endpoint, model, method)
	if stream {
		url += "?alt=sse"
	}
	url += sep + "key=" + key.Key

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// OpenAIChatCompletions issues POST {endpoint}/v1beta/openai/chat/completions,
// the Gemini OpenAI-compat surface named in spec §6.
func (c *GeminiClient) OpenAIChatCompletions(ctx context.Context, key *credential.ApiKey, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1beta/openai/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key.Key)
	return c.http.Do(req)
}

// CodeAssistClient dispatches CliToken-authenticated requests against the
// Gemini CLI / Code Assist internal API.
type CodeAssistClient struct {
	endpoint string
	http     *http.Client
}

// NewCodeAssistClient builds a client bound to endpoint, routed through
// proxyURL.
func NewCodeAssistClient(endpoint, proxyURL string) *CodeAssistClient {
	return &CodeAssistClient{endpoint: endpoint, http: newPlainHTTPClient(proxyURL)}
}

// CodeAssistRequest is the {model, project, request} envelope the Code
// Assist internal API expects, per spec §6.
type CodeAssistRequest struct {
	Model   string `json:"model"`
	Project string `json:"project"`
	Request any    `json:"request"`
}

// GenerateContent issues POST {endpoint}/v1internal:{stream,}GenerateContent[?alt=sse].
func (c *CodeAssistClient) GenerateContent(ctx context.Context, tok *credential.CliToken, stream bool, body []byte) (*http.Response, error) {
	action := "generateContent"
	if stream {
		action = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/v1internal:%s", c.endpoint, action)
	if stream {
		url += "?alt=sse"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return c.http.Do(req)
}
