package upstream

import (
	"net/http"
	"testing"
)

func TestNewPlainHTTPClientAppliesProxy(t *testing.T) {
	client := newPlainHTTPClient("http://proxy.invalid:8080")
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	req, _ := http.NewRequest(http.MethodGet, "https://example.invalid/", nil)
	proxyURL, err := transport.Proxy(req)
	if err != nil {
		t.Fatalf("Proxy: %v", err)
	}
	if proxyURL == nil || proxyURL.String() != "http://proxy.invalid:8080" {
		t.Fatalf("expected proxy url to be applied, got %v", proxyURL)
	}
}

func TestNewPlainHTTPClientWithoutProxyURLReturnsHTTPTransport(t *testing.T) {
	client := newPlainHTTPClient("")
	if _, ok := client.Transport.(*http.Transport); !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
}

func TestNewUtlsRoundTripperFallsBackToDirectOnBadProxyURL(t *testing.T) {
	rt := newUtlsRoundTripper("://not-a-url")
	if rt.dialer == nil {
		t.Fatal("expected a direct dialer fallback when the proxy url fails to parse")
	}
}

func TestNewUtlsRoundTripperInitializesConnectionState(t *testing.T) {
	rt := newUtlsRoundTripper("")
	if rt.connections == nil || rt.pending == nil {
		t.Fatal("expected connections and pending maps to be initialized")
	}
}
