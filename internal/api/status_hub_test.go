package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/credential"
	"github.com/veilgate/veilgate/internal/store"
)

func newTestHub(t *testing.T) *statusHub {
	t.Helper()
	mgr := &actor.Manager{
		Cookies:         actor.New[*credential.WebCookie](t.Context(), nil, 8, actor.Persister[*credential.WebCookie]{}),
		Keys:            actor.New[*credential.ApiKey](t.Context(), nil, 8, actor.Persister[*credential.ApiKey]{}),
		CliTokens:       actor.New[*credential.CliToken](t.Context(), nil, 8, actor.Persister[*credential.CliToken]{}),
		ServiceAccounts: actor.New[*credential.ServiceAccount](t.Context(), nil, 8, actor.Persister[*credential.ServiceAccount]{}),
	}
	t.Cleanup(mgr.Close)
	return newStatusHub(mgr, store.NewFileStorage(), 0)
}

func TestStatusHubServeWSSendsImmediateSnapshot(t *testing.T) {
	hub := newTestHub(t)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/ws", hub.serveWS)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), `"cookies"`) {
		t.Fatalf("expected the snapshot to include a cookies field, got %s", data)
	}
}

func TestStatusHubBroadcastIfChangedSkipsWhenUnchanged(t *testing.T) {
	hub := newTestHub(t)
	hub.broadcastIfChanged()
	first := hub.last

	hub.broadcastIfChanged()
	if hub.last != first {
		t.Fatal("expected an unchanged snapshot to leave last untouched")
	}
}

func TestStatusHubBroadcastIfChangedDetectsCredentialChange(t *testing.T) {
	hub := newTestHub(t)
	hub.broadcastIfChanged()
	before := hub.last

	hub.mgr.Keys.Submit(t.Context(), &credential.ApiKey{Key: "new-key"})
	hub.broadcastIfChanged()
	if hub.last == before {
		t.Fatal("expected the snapshot to change after submitting a new credential")
	}
}
