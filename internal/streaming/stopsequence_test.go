package streaming

import (
	"bytes"
	"strings"
	"testing"

	"github.com/veilgate/veilgate/internal/stopmatcher"
)

func frameFor(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

func TestRewriteStopSequencesPassesThroughUnmatchedText(t *testing.T) {
	body := frameFor("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello"}}`) +
		frameFor("content_block_stop", `{"type":"content_block_stop","index":0}`)

	var dst bytes.Buffer
	matcher := stopmatcher.New([]string{"STOP"})
	if err := RewriteStopSequences(&dst, strings.NewReader(body), "", matcher); err != nil {
		t.Fatalf("RewriteStopSequences: %v", err)
	}
	out := dst.String()
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected unmatched text to pass through, got %q", out)
	}
	if !strings.Contains(out, "content_block_stop") {
		t.Fatalf("expected the content_block_stop frame to be forwarded, got %q", out)
	}
}

func TestRewriteStopSequencesSynthesizesTerminalBurstOnMatch(t *testing.T) {
	body := frameFor("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"wait STOP more"}}`) +
		frameFor("content_block_stop", `{"type":"content_block_stop","index":0}`)

	var dst bytes.Buffer
	matcher := stopmatcher.New([]string{"STOP"})
	if err := RewriteStopSequences(&dst, strings.NewReader(body), "", matcher); err != nil {
		t.Fatalf("RewriteStopSequences: %v", err)
	}
	out := dst.String()
	if strings.Contains(out, "more") {
		t.Fatalf("expected text after the match to be dropped, got %q", out)
	}
	if !strings.Contains(out, `"stop_reason":"stop_sequence"`) {
		t.Fatalf("expected a stop_reason=stop_sequence message_delta, got %q", out)
	}
	if !strings.Contains(out, `"stop_sequence":"STOP"`) {
		t.Fatalf("expected the matched sentinel to be reported, got %q", out)
	}
	if !strings.Contains(out, `"type":"message_stop"`) {
		t.Fatalf("expected a terminal message_stop event, got %q", out)
	}
	if strings.Contains(out, "content_block_stop\"index\":0}\n\nevent: content_block_stop") {
		t.Fatalf("expected the stream to close after the synthetic burst, not forward the original content_block_stop: %q", out)
	}
}

func TestRewriteStopSequencesFlushesTrailingBufferAtBlockEnd(t *testing.T) {
	body := frameFor("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial ST"}}`) +
		frameFor("content_block_stop", `{"type":"content_block_stop","index":0}`)

	var dst bytes.Buffer
	matcher := stopmatcher.New([]string{"STOP"})
	if err := RewriteStopSequences(&dst, strings.NewReader(body), "", matcher); err != nil {
		t.Fatalf("RewriteStopSequences: %v", err)
	}
	out := dst.String()
	if !strings.Contains(out, "ST") {
		t.Fatalf("expected the held-back prefix to be flushed once the block ends, got %q", out)
	}
}
