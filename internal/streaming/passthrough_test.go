package streaming

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/veilgate/veilgate/internal/credential"
)

func TestPassthroughForwardsVerbatimAndAccumulatesUsage(t *testing.T) {
	body := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":12}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","usage":{"output_tokens":5}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	var dst bytes.Buffer
	var observed credential.UsageBreakdown
	var observedModel string
	err := Passthrough(context.Background(), &dst, strings.NewReader(body), "", "claude-sonnet-4", func(_ context.Context, model string, usage credential.UsageBreakdown) {
		observedModel = model
		observed = usage
	})
	if err != nil {
		t.Fatalf("Passthrough: %v", err)
	}
	if observed.InputTokens != 12 || observed.OutputTokens != 5 {
		t.Fatalf("unexpected observed usage: %+v", observed)
	}
	if observedModel != "claude-sonnet-4" {
		t.Fatalf("unexpected observed model: %s", observedModel)
	}
	if !strings.Contains(dst.String(), `"content_block_delta"`) {
		t.Fatalf("expected the content_block_delta frame to be forwarded verbatim, got %q", dst.String())
	}
}

func TestPassthroughSumsMultipleMessageDeltaEvents(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"message_start","message":{"usage":{"input_tokens":3}}}`,
		``,
		`data: {"type":"message_delta","usage":{"output_tokens":4}}`,
		``,
		`data: {"type":"message_delta","usage":{"output_tokens":6}}`,
		``,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	var dst bytes.Buffer
	var observed credential.UsageBreakdown
	err := Passthrough(context.Background(), &dst, strings.NewReader(body), "", "claude-opus-4", func(_ context.Context, _ string, usage credential.UsageBreakdown) {
		observed = usage
	})
	if err != nil {
		t.Fatalf("Passthrough: %v", err)
	}
	if observed.OutputTokens != 10 {
		t.Fatalf("expected summed output tokens of 10, got %d", observed.OutputTokens)
	}
}
