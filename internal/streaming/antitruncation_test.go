package streaming

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sseResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestAntiTruncationStopsOnFirstAttemptWhenSentinelInFirstChunk(t *testing.T) {
	calls := 0
	a := &AntiTruncation{
		Cfg:    AntiTruncationConfig{Sentinel: "[done]", ContinuationPrompt: "continue"},
		Inject: AnthropicSystemInjector,
		Dispatch: func(_ context.Context, body []byte) (*http.Response, error) {
			calls++
			require.Contains(t, string(body), "[done]")
			return sseResponse(`data: {"type":"content_block_delta","delta":{"text":"hello [done]"}}` + "\n\n"), nil
		},
	}

	var dst bytes.Buffer
	err := a.Run(context.Background(), &dst, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.NotContains(t, dst.String(), "[done]")
}

func TestAntiTruncationExhaustsMaxAttemptsWhenSentinelNeverSeen(t *testing.T) {
	calls := 0
	a := &AntiTruncation{
		Cfg:    AntiTruncationConfig{Sentinel: "[done]", ContinuationPrompt: "continue without repeating"},
		Inject: AnthropicSystemInjector,
		Dispatch: func(_ context.Context, body []byte) (*http.Response, error) {
			calls++
			if calls > 1 {
				require.Contains(t, string(body), "continue without repeating")
			}
			return sseResponse(`data: {"type":"content_block_delta","delta":{"text":"still going"}}` + "\n\n"), nil
		},
	}

	var dst bytes.Buffer
	err := a.Run(context.Background(), &dst, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, DefaultMaxAttempts, calls)
}

func TestAntiTruncationDowngradesNonSSEResponse(t *testing.T) {
	var dst bytes.Buffer
	a := &AntiTruncation{
		Cfg:    AntiTruncationConfig{Sentinel: "[done]", ContinuationPrompt: "continue"},
		Inject: AnthropicSystemInjector,
		Dispatch: func(_ context.Context, body []byte) (*http.Response, error) {
			return jsonResponse(`{"content":[{"type":"text","text":"whole thing"}]}`), nil
		},
		DispatchNonStreaming: func(_ context.Context, body []byte) (*http.Response, error) {
			return jsonResponse(`{"content":[{"type":"text","text":"whole thing"}]}`), nil
		},
	}

	err := a.Run(context.Background(), &dst, []byte(`{}`))
	require.NoError(t, err)
	require.Contains(t, dst.String(), "whole thing")
}

func TestAntiTruncationDowngradeWithoutFallbackReturnsError(t *testing.T) {
	var dst bytes.Buffer
	a := &AntiTruncation{
		Cfg:    AntiTruncationConfig{Sentinel: "[done]"},
		Inject: AnthropicSystemInjector,
		Dispatch: func(_ context.Context, body []byte) (*http.Response, error) {
			return jsonResponse(`{}`), nil
		},
	}

	err := a.Run(context.Background(), &dst, []byte(`{}`))
	require.Error(t, err)
}

func TestOpenAISystemMessageInjectorPrependsSystemMessage(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	out, err := OpenAISystemMessageInjector(body, 0, "[done]", "continue")
	require.NoError(t, err)
	require.Contains(t, string(out), `"role":"system"`)
	require.Contains(t, string(out), "[done]")
}
