package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/veilgate/veilgate/internal/credential"
)

// registerDispatchRoutes wires every external interface named in
// spec.md §6's table: the Anthropic-style messages surfaces over the
// WebCookie pool, the Gemini native/OpenAI-compat surfaces over the
// ApiKey pool, the Code Assist surface over the CliToken pool, and the
// Vertex surface over the ServiceAccount pool.
func registerDispatchRoutes(engine *gin.Engine, deps *Dependencies) {
	auth := requireClientKey(deps.ClientAPIKey)

	engine.POST("/v1/messages", auth, messagesHandler(deps))
	engine.POST("/code/v1/messages", auth, messagesHandler(deps))
	// OpenAI-compat schema translation is out of scope (spec.md §1's
	// non-goals); the body is forwarded to the same web-cookie pool
	// dispatch path as-is, trusting the caller to already speak the
	// native wire format when it matters.
	engine.POST("/v1/chat/completions", auth, messagesHandler(deps))

	engine.POST("/v1/v1beta/*path", auth, geminiNativeHandler(deps))
	engine.POST("/gemini/chat/completions", auth, geminiOpenAIHandler(deps))
	engine.POST("/gemini/cli/*path", auth, codeAssistHandler(deps))
	engine.POST("/gemini/vertex/:model/:method", auth, vertexHandler(deps))
}

// messagesHandler dispatches against the WebCookie/Anthropic orchestrator,
// branching on the request body's `stream` field per the Anthropic
// messages API convention.
func messagesHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		model := gjson.GetBytes(body, "model").String()

		if gjson.GetBytes(body, "stream").Bool() {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Status(http.StatusOK)
			c.Writer.Flush()
			if err := deps.Anthropic.DispatchStream(c.Request.Context(), model, body, c.Writer); err != nil {
				logStreamError(c, err)
			}
			return
		}

		result, err := deps.Anthropic.Dispatch(c.Request.Context(), model, body)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(result.StatusCode, "application/json", result.Body)
	}
}
