package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/config"
	"github.com/veilgate/veilgate/internal/credential"
	"github.com/veilgate/veilgate/internal/upstream"
)

func TestGeminiPathPatternExtractsModelAndMethod(t *testing.T) {
	cases := []struct {
		path       string
		wantModel  string
		wantMethod string
		wantMatch  bool
	}{
		{"models/gemini-2.5-pro:generateContent", "gemini-2.5-pro", "generateContent", true},
		{"models/gemini-2.5-pro:streamGenerateContent", "gemini-2.5-pro", "streamGenerateContent", true},
		{"models/gemini-2.5-pro:countTokens", "", "", false},
		{"not-a-model-path", "", "", false},
	}
	for _, tc := range cases {
		match := geminiPathPattern.FindStringSubmatch(tc.path)
		if tc.wantMatch && len(match) != 3 {
			t.Errorf("path %q: expected a match, got %v", tc.path, match)
			continue
		}
		if !tc.wantMatch {
			if len(match) == 3 {
				t.Errorf("path %q: expected no match, got %v", tc.path, match)
			}
			continue
		}
		if match[1] != tc.wantModel || match[2] != tc.wantMethod {
			t.Errorf("path %q: got model=%q method=%q, want model=%q method=%q", tc.path, match[1], match[2], tc.wantModel, tc.wantMethod)
		}
	}
}

func TestGeminiNativeHandlerDispatchesAndRelaysResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "key-1" {
			t.Errorf("unexpected key query param: %s", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	pool := actor.New[*credential.ApiKey](t.Context(), []*credential.ApiKey{{Key: "key-1"}}, 8, actor.Persister[*credential.ApiKey]{})
	t.Cleanup(pool.Close)

	deps := &Dependencies{
		Manager: &actor.Manager{Keys: pool},
		Config:  &config.Config{MaxRetries: 1, ForbiddenThreshold: 2},
		Gemini:  upstream.NewGeminiClient(srv.URL, ""),
	}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/v1/v1beta/*path", geminiNativeHandler(deps))

	req := httptest.NewRequest(http.MethodPost, "/v1/v1beta/models/gemini-2.5-pro:generateContent", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"candidates":[]}` {
		t.Fatalf("unexpected relayed body: %s", rec.Body.String())
	}
}

func TestRelayResponseCopiesHeadersAndBodyNonStreaming(t *testing.T) {
	upstreamResp := &http.Response{
		StatusCode: http.StatusCreated,
		Header:     http.Header{"X-Custom": []string{"yes"}},
		Body:       http.NoBody,
	}

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	relayResponse(c, upstreamResp, false)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "yes" {
		t.Fatalf("expected upstream header to be copied through")
	}
}
