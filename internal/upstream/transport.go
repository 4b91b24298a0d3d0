// Package upstream holds the per-credential-family HTTP dispatch clients
// the orchestrator (C7) uses to actually reach the upstream APIs, plus the
// browser-fingerprint TLS transport WebCookie dispatch requires.
package upstream

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	tls "github.com/refraction-networking/utls"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// utlsRoundTripper implements http.RoundTripper using utls with a Firefox
// fingerprint, grounded on the teacher's Anthropic web-session transport:
// Cloudflare fronts the upstream's web-cookie endpoints and fingerprints
// Go's native TLS stack, so WebCookie dispatch needs a browser-shaped
// ClientHello to avoid being challenged before the request ever lands.
type utlsRoundTripper struct {
	mu          sync.Mutex
	connections map[string]*http2.ClientConn
	pending     map[string]*sync.Cond
	dialer      proxy.Dialer
}

// newUtlsRoundTripper builds a utls-based round tripper, routing through
// proxyURL (as configured via Config.ProxyURL) when set.
func newUtlsRoundTripper(proxyURL string) *utlsRoundTripper {
	dialer := proxy.Dialer(proxy.Direct)
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			log.Errorf("upstream: failed to parse proxy url %q: %v", proxyURL, err)
		} else if d, err := proxy.FromURL(parsed, proxy.Direct); err != nil {
			log.Errorf("upstream: failed to build proxy dialer for %q: %v", proxyURL, err)
		} else {
			dialer = d
		}
	}
	return &utlsRoundTripper{
		connections: make(map[string]*http2.ClientConn),
		pending:     make(map[string]*sync.Cond),
		dialer:      dialer,
	}
}

// getOrCreateConnection returns a cached HTTP/2 connection for host, or
// dials a new one. A per-host sync.Cond prevents two goroutines racing
// to open a connection to the same host simultaneously.
func (t *utlsRoundTripper) getOrCreateConnection(host, addr string) (*http2.ClientConn, error) {
	t.mu.Lock()
	if h2Conn, ok := t.connections[host]; ok && h2Conn.CanTakeNewRequest() {
		t.mu.Unlock()
		return h2Conn, nil
	}
	if cond, ok := t.pending[host]; ok {
		cond.Wait()
		if h2Conn, ok := t.connections[host]; ok && h2Conn.CanTakeNewRequest() {
			t.mu.Unlock()
			return h2Conn, nil
		}
	}
	cond := sync.NewCond(&t.mu)
	t.pending[host] = cond
	t.mu.Unlock()

	h2Conn, err := t.createConnection(host, addr)

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, host)
	cond.Broadcast()
	if err != nil {
		return nil, err
	}
	t.connections[host] = h2Conn
	return h2Conn, nil
}

// createConnection dials addr and performs a Firefox-fingerprinted TLS
// handshake before negotiating HTTP/2 over the resulting connection.
func (t *utlsRoundTripper) createConnection(host, addr string) (*http2.ClientConn, error) {
	conn, err := t.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloFirefox_Auto)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	tr := &http2.Transport{}
	h2Conn, err := tr.NewClientConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}
	return h2Conn, nil
}

// RoundTrip implements http.RoundTripper.
func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr += ":443"
	}
	hostname := req.URL.Hostname()

	h2Conn, err := t.getOrCreateConnection(hostname, addr)
	if err != nil {
		return nil, err
	}

	resp, err := h2Conn.RoundTrip(req)
	if err != nil {
		t.mu.Lock()
		if cached, ok := t.connections[hostname]; ok && cached == h2Conn {
			delete(t.connections, hostname)
		}
		t.mu.Unlock()
		return nil, err
	}
	return resp, nil
}

// newWebCookieHTTPClient returns the utls-fronted client used for every
// WebCookie-authenticated dispatch.
func newWebCookieHTTPClient(proxyURL string) *http.Client {
	return &http.Client{Transport: newUtlsRoundTripper(proxyURL)}
}

// newPlainHTTPClient returns an ordinary proxy-aware client for credential
// families that don't need TLS fingerprint emulation (ApiKey, CliToken,
// ServiceAccount all talk to Google endpoints that don't fingerprint Go's
// native stack).
func newPlainHTTPClient(proxyURL string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		} else {
			log.Errorf("upstream: failed to parse proxy url %q: %v", proxyURL, err)
		}
	}
	return &http.Client{Transport: transport}
}
