package api

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/veilgate/veilgate/internal/credential"
)

// geminiPathPattern extracts {model, method} from the Gemini native
// wildcard path, e.g. "/models/gemini-2.5-pro:streamGenerateContent".
var geminiPathPattern = regexp.MustCompile(`models/([^:/]+):(generateContent|streamGenerateContent)$`)

// geminiNativeHandler dispatches against the ApiKey/Gemini native surface
// (spec.md §6: `POST /v1/v1beta/{*path}` with `?key=`).
func geminiNativeHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		match := geminiPathPattern.FindStringSubmatch(c.Param("path"))
		if len(match) != 3 {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Message: "path does not name a model:method pair"})
			return
		}
		model, method := match[1], match[2]
		stream := method == "streamGenerateContent"

		resp, err := dispatchSimple(c.Request.Context(), deps.Manager.Keys, deps.Config.MaxRetries+1, deps.Config.ForbiddenThreshold, nil,
			func(ctx context.Context, key *credential.ApiKey) (*http.Response, error) {
				return deps.Gemini.GenerateContent(ctx, key, model, stream, body)
			})
		if err != nil {
			writeError(c, err)
			return
		}
		relayResponse(c, resp, stream)
	}
}

// geminiOpenAIHandler dispatches against the ApiKey/Gemini OpenAI-compat
// surface (spec.md §6: `POST /gemini/chat/completions`).
func geminiOpenAIHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		resp, err := dispatchSimple(c.Request.Context(), deps.Manager.Keys, deps.Config.MaxRetries+1, deps.Config.ForbiddenThreshold, nil,
			func(ctx context.Context, key *credential.ApiKey) (*http.Response, error) {
				return deps.Gemini.OpenAIChatCompletions(ctx, key, body)
			})
		if err != nil {
			writeError(c, err)
			return
		}
		relayResponse(c, resp, strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream"))
	}
}

// relayResponse copies an upstream response straight through to the
// client, flushing as it goes when the upstream framed it as SSE.
func relayResponse(c *gin.Context, resp *http.Response, stream bool) {
	defer resp.Body.Close()
	for k, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	if !stream {
		io.Copy(c.Writer, resp.Body)
		return
	}
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			c.Writer.Write(buf[:n])
			c.Writer.Flush()
		}
		if readErr != nil {
			return
		}
	}
}
