package orchestrator

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"

	"github.com/veilgate/veilgate/internal/credential"
)

// extractUsage implements the usage-extraction fallback chain named in
// spec.md §4.6: prefer the upstream's explicit usage field; when absent,
// approximate by counting tokens in the response's content items. Grounded
// on the teacher's countOpenAIChatTokens (token_helpers.go), adapted from
// counting request payloads to counting an Anthropic-style messages
// response body.
func extractUsage(body []byte) (credential.UsageBreakdown, error) {
	root := gjson.ParseBytes(body)
	if usage := root.Get("usage"); usage.Exists() {
		in := usage.Get("input_tokens")
		out := usage.Get("output_tokens")
		if in.Exists() || out.Exists() {
			return credential.UsageBreakdown{InputTokens: in.Int(), OutputTokens: out.Int()}, nil
		}
	}
	return countContentTokens(body)
}

// countContentTokens approximates output tokens by encoding every text
// content block when the upstream response carries no usage field.
func countContentTokens(body []byte) (credential.UsageBreakdown, error) {
	root := gjson.ParseBytes(body)
	content := root.Get("content")
	if !content.Exists() || !content.IsArray() {
		return credential.UsageBreakdown{}, nil
	}

	var segments []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if text := strings.TrimSpace(block.Get("text").String()); text != "" {
				segments = append(segments, text)
			}
		}
		return true
	})
	if len(segments) == 0 {
		return credential.UsageBreakdown{}, nil
	}

	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return credential.UsageBreakdown{}, err
	}
	count, err := enc.Count(strings.Join(segments, "\n"))
	if err != nil {
		return credential.UsageBreakdown{}, err
	}
	return credential.UsageBreakdown{OutputTokens: int64(count)}, nil
}
