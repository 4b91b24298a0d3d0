// Package api wires the credential-lifecycle engine to the outside world:
// thin gin handlers for the Anthropic/Gemini/Code-Assist/Vertex dispatch
// surfaces (spec.md §6), the admin CRUD surface over the four credential
// pools (C10), and the storage import/export/status bridge, grounded on
// the teacher's internal/api package layout (one file per concern, a
// router constructor taking an explicit dependency struct rather than
// globals).
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/config"
	"github.com/veilgate/veilgate/internal/credential"
	"github.com/veilgate/veilgate/internal/logging"
	"github.com/veilgate/veilgate/internal/orchestrator"
	"github.com/veilgate/veilgate/internal/store"
	"github.com/veilgate/veilgate/internal/tokenlifecycle"
	"github.com/veilgate/veilgate/internal/upstream"
)

// Dependencies collects everything the router needs to construct its
// handlers. Nothing here is a package-level global, so multiple routers
// (as in tests) can coexist.
type Dependencies struct {
	Manager      *actor.Manager
	Storage      store.Storage
	Config       *config.Config
	Anthropic    *orchestrator.Orchestrator
	Gemini       *upstream.GeminiClient
	CodeAssist   *upstream.CodeAssistClient
	Vertex       *upstream.VertexClient
	Refresher    *tokenlifecycle.Refresher
	ConfigPath   string
	AdminToken   string
	ClientAPIKey string
}

// NewRouter builds the gin engine serving every external interface named
// in spec.md §6, plus the admin surface described in spec.md §9's "admin
// surface (C10) interface only" section.
func NewRouter(deps Dependencies) *gin.Engine {
	logging.SetupBaseLogger()

	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery(), logging.GinLogrusLogger())

	hub := newStatusHub(deps.Manager, deps.Storage, 2*time.Second)
	go hub.run()

	registerDispatchRoutes(engine, &deps)
	registerAdminRoutes(engine, &deps, hub)

	return engine
}

// writeError renders the proxy's error body, mapped to an HTTP status by
// credential.Error.HTTPStatus, matching spec.md §7's user-visible contract.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	if credErr, ok := err.(*credential.Error); ok {
		status = credErr.HTTPStatus()
		kind = credErr.Kind.String()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"kind": kind, "message": err.Error()}})
}

// logStreamError records a failure that happened after the response
// headers were already flushed, when writing a proxy error body is no
// longer possible; the client simply sees the SSE connection end.
func logStreamError(c *gin.Context, err error) {
	log.WithField("request_id", logging.GetGinRequestID(c)).WithError(err).Warn("api: stream dispatch failed")
}
