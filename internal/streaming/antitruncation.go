package streaming

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultMaxAttempts is MAX_ATTEMPTS from spec.md §4.7(b).
const DefaultMaxAttempts = 3

// AttemptFunc dispatches one attempt's request body to the upstream and
// returns the raw response, already routed through whichever credential
// family's upstream client owns this dispatch.
type AttemptFunc func(ctx context.Context, body []byte) (*http.Response, error)

// BodyInjector rewrites a request body to carry the sentinel instruction
// on the first attempt, or the continuation instruction on subsequent
// ones. Upstream wire shapes differ (Anthropic "system" string vs. a
// leading OpenAI-format system message), so this is injected rather than
// fixed.
type BodyInjector func(body []byte, attempt int, sentinel, continuationPrompt string) ([]byte, error)

// AnthropicSystemInjector implements BodyInjector for the Anthropic
// messages wire shape: it appends the instruction onto the existing
// top-level "system" string field.
func AnthropicSystemInjector(body []byte, attempt int, sentinel, continuationPrompt string) ([]byte, error) {
	instruction := fmt.Sprintf("When your response is complete, end it with the exact token %s and nothing after it.", sentinel)
	if attempt > 0 {
		instruction = continuationPrompt
	}
	if existing := gjson.GetBytes(body, "system").String(); existing != "" {
		instruction = existing + "\n\n" + instruction
	}
	return sjson.SetBytes(body, "system", instruction)
}

// OpenAISystemMessageInjector implements BodyInjector for the OpenAI
// chat-completions wire shape: it prepends a leading system message.
func OpenAISystemMessageInjector(body []byte, attempt int, sentinel, continuationPrompt string) ([]byte, error) {
	instruction := fmt.Sprintf("When your response is complete, end it with the exact token %s and nothing after it.", sentinel)
	if attempt > 0 {
		instruction = continuationPrompt
	}
	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() || !messages.IsArray() || len(messages.Array()) == 0 {
		return sjson.SetBytes(body, "messages.0", map[string]any{"role": "system", "content": instruction})
	}
	first := messages.Array()[0]
	if first.Get("role").String() == "system" {
		combined := first.Get("content").String() + "\n\n" + instruction
		return sjson.SetBytes(body, "messages.0.content", combined)
	}
	raw, err := sjson.SetBytes([]byte(`{"role":"system"}`), "content", instruction)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(body, "messages.-1", raw)
}

// AntiTruncationConfig holds the configurable sentinel and continuation
// instruction text named in spec.md §4.7(b).
type AntiTruncationConfig struct {
	Sentinel           string
	ContinuationPrompt string
	MaxAttempts        int
}

// AntiTruncation wraps an upstream with the multi-attempt continuation
// loop. Dispatch issues a streaming attempt; DispatchNonStreaming, if
// set, is used for the content-type downgrade path (spec.md §4.7(b)
// step 3) when the upstream did not actually return an event stream.
type AntiTruncation struct {
	Cfg                  AntiTruncationConfig
	Inject               BodyInjector
	Dispatch             AttemptFunc
	DispatchNonStreaming AttemptFunc
}

// Run drives the attempt loop against body, forwarding to dst until the
// sentinel is observed or MaxAttempts is exhausted.
func (a *AntiTruncation) Run(ctx context.Context, dst io.Writer, body []byte) error {
	return a.run(ctx, dst, body, nil)
}

// RunFrom behaves like Run but treats firstResp as the already-dispatched
// attempt 0 response instead of calling Dispatch again — the orchestrator
// uses this to fold stream establishment (credential lease, probe
// classification, 429/403/5xx retry) into its own loop while handing the
// already-open successful response straight to the continuation loop.
func (a *AntiTruncation) RunFrom(ctx context.Context, dst io.Writer, body []byte, firstResp *http.Response) error {
	return a.run(ctx, dst, body, firstResp)
}

func (a *AntiTruncation) run(ctx context.Context, dst io.Writer, body []byte, firstResp *http.Response) error {
	maxAttempts := a.Cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var resp *http.Response
		var attemptBody []byte

		if attempt == 0 && firstResp != nil {
			resp = firstResp
			attemptBody = body
		} else {
			var err error
			attemptBody, err = a.Inject(body, attempt, a.Cfg.Sentinel, a.Cfg.ContinuationPrompt)
			if err != nil {
				return fmt.Errorf("streaming: inject attempt %d: %w", attempt, err)
			}
			resp, err = a.Dispatch(ctx, attemptBody)
			if err != nil {
				return err
			}
		}

		if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
			resp.Body.Close()
			finished, err := a.downgrade(ctx, dst, attemptBody)
			if err != nil {
				return err
			}
			if finished {
				return nil
			}
			continue
		}

		decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
		if err != nil {
			resp.Body.Close()
			return err
		}
		finished, err := forwardScanningForSentinel(dst, decoded, a.Cfg.Sentinel)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}
	return nil
}

// downgrade implements spec.md §4.7(b) step 3: the non-SSE fallback path.
func (a *AntiTruncation) downgrade(ctx context.Context, dst io.Writer, body []byte) (bool, error) {
	if a.DispatchNonStreaming == nil {
		return false, fmt.Errorf("streaming: upstream did not return an event stream and no non-streaming fallback is configured")
	}
	resp, err := a.DispatchNonStreaming(ctx, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	if err := writeFrame(dst, "", raw); err != nil {
		return false, err
	}
	return true, nil
}

// forwardScanningForSentinel forwards src to dst chunk by chunk, scanning
// each chunk for the sentinel and stripping every occurrence before
// forwarding. The scan is chunk-local: a sentinel straddling two network
// reads will not be detected, the accepted baseline limitation for this
// loop (a hardened variant would carry a trailing window across reads).
func forwardScanningForSentinel(dst io.Writer, src io.Reader, sentinel string) (bool, error) {
	buf := make([]byte, 32*1024)
	finished := false
	sentinelBytes := []byte(sentinel)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(sentinelBytes) > 0 && bytes.Contains(chunk, sentinelBytes) {
				chunk = bytes.ReplaceAll(chunk, sentinelBytes, nil)
				finished = true
			}
			if _, err := dst.Write(chunk); err != nil {
				return finished, err
			}
			if flusher, ok := dst.(interface{ Flush() }); ok {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return finished, nil
		}
		if readErr != nil {
			return finished, readErr
		}
	}
}
