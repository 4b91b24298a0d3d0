package streaming

import (
	"context"
	"io"

	"github.com/tidwall/gjson"

	"github.com/veilgate/veilgate/internal/credential"
)

// UsageObserver receives the accumulated usage once a passthrough stream
// completes (`message_stop`), so the caller can persist it into the
// credential's rolling buckets via the owning actor's Update message.
type UsageObserver func(ctx context.Context, model string, usage credential.UsageBreakdown)

// Passthrough forwards an SSE body verbatim while recognizing the
// messages-API usage events: `message_start` supplies the input token
// count, each `message_delta` contributes to a running output-token sum,
// and `message_stop` triggers the observer callback. Implements spec.md
// §4.7(a).
func Passthrough(ctx context.Context, dst io.Writer, src io.Reader, contentEncoding, model string, observe UsageObserver) error {
	decoded, err := decodeBody(contentEncoding, src)
	if err != nil {
		return err
	}

	var inputTokens, outputSum int64
	scanner := newFrameScanner(decoded)
	for {
		f, ok := scanner.next()
		if !ok {
			break
		}
		if len(f.raw) > 0 {
			if _, err := dst.Write(f.raw); err != nil {
				return err
			}
			if _, err := dst.Write([]byte("\n\n")); err != nil {
				return err
			}
			if flusher, ok := dst.(interface{ Flush() }); ok {
				flusher.Flush()
			}
		}

		if len(f.data) == 0 {
			continue
		}
		switch gjson.GetBytes(f.data, "type").String() {
		case "message_start":
			inputTokens = gjson.GetBytes(f.data, "message.usage.input_tokens").Int()
		case "message_delta":
			outputSum += gjson.GetBytes(f.data, "usage.output_tokens").Int()
		case "message_stop":
			if observe != nil {
				observe(ctx, model, credential.UsageBreakdown{InputTokens: inputTokens, OutputTokens: outputSum})
			}
		}
	}
	return nil
}
