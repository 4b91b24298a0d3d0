package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veilgate/veilgate/internal/credential"
)

// vertexHandler dispatches against the ServiceAccount/Vertex surface
// (spec.md §6: `POST /gemini/vertex/...`), exchanging the leased
// service-account key for a short-lived access token on every call
// rather than storing one back on the credential (see upstream.VertexClient).
func vertexHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		model := c.Param("model")
		method := c.Param("method")
		stream := method == "streamGenerateContent"

		resp, err := dispatchSimple(c.Request.Context(), deps.Manager.ServiceAccounts, deps.Config.MaxRetries+1, deps.Config.ForbiddenThreshold, nil,
			func(ctx context.Context, sa *credential.ServiceAccount) (*http.Response, error) {
				return deps.Vertex.GenerateContent(ctx, sa, model, method, body)
			})
		if err != nil {
			writeError(c, err)
			return
		}
		relayResponse(c, resp, stream)
	}
}
