package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilgate/veilgate/internal/credential"
)

// codeAssistHandler dispatches against the CliToken/Code-Assist surface
// (spec.md §6: `POST /gemini/cli/...`), refreshing the leased token
// in-place first when it is within 5 minutes of expiry (spec.md §4.4).
func codeAssistHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		stream := strings.HasSuffix(c.Param("path"), "streamGenerateContent") || c.Query("alt") == "sse"

		resp, err := dispatchSimple(c.Request.Context(), deps.Manager.CliTokens, deps.Config.MaxRetries+1, deps.Config.ForbiddenThreshold,
			func(ctx context.Context, tok *credential.CliToken) error {
				if !tok.NeedsRefresh(time.Now()) {
					return nil
				}
				if err := deps.Refresher.RefreshCliToken(ctx, tok); err != nil {
					return err
				}
				deps.Manager.CliTokens.Update(ctx, tok)
				return nil
			},
			func(ctx context.Context, tok *credential.CliToken) (*http.Response, error) {
				return deps.CodeAssist.GenerateContent(ctx, tok, stream, body)
			})
		if err != nil {
			writeError(c, err)
			return
		}
		relayResponse(c, resp, stream)
	}
}
