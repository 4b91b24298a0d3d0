package streaming

import (
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/veilgate/veilgate/internal/stopmatcher"
)

// RewriteStopSequences routes every `content_block_delta` text chunk
// through the trie matcher (C1) and, on a match, synthesizes the
// terminal event burst and closes the stream early. Implements spec.md
// §4.7(c).
func RewriteStopSequences(dst io.Writer, src io.Reader, contentEncoding string, matcher *stopmatcher.Matcher) error {
	decoded, err := decodeBody(contentEncoding, src)
	if err != nil {
		return err
	}

	scanner := newFrameScanner(decoded)
	var blockIndex int64

	for {
		f, ok := scanner.next()
		if !ok {
			return nil
		}
		if len(f.data) == 0 {
			if len(f.raw) > 0 {
				if err := forwardRaw(dst, f.raw); err != nil {
					return err
				}
			}
			continue
		}

		switch gjson.GetBytes(f.data, "type").String() {
		case "content_block_delta":
			blockIndex = gjson.GetBytes(f.data, "index").Int()
			text := gjson.GetBytes(f.data, "delta.text").String()
			safe, matched, found := matcher.Process(text)
			if found {
				if safe != "" {
					if err := emitContentBlockDelta(dst, blockIndex, safe); err != nil {
						return err
					}
				}
				return emitStopBurst(dst, blockIndex, matched)
			}
			if safe != "" {
				if err := emitContentBlockDelta(dst, blockIndex, safe); err != nil {
					return err
				}
			}
		case "content_block_stop":
			if rest := matcher.Flush(); rest != "" {
				if err := emitContentBlockDelta(dst, blockIndex, rest); err != nil {
					return err
				}
			}
			if err := forwardRaw(dst, f.raw); err != nil {
				return err
			}
		default:
			if err := forwardRaw(dst, f.raw); err != nil {
				return err
			}
		}
	}
}

func forwardRaw(dst io.Writer, raw []byte) error {
	if _, err := dst.Write(raw); err != nil {
		return err
	}
	_, err := dst.Write([]byte("\n\n"))
	return err
}

func emitContentBlockDelta(dst io.Writer, index int64, text string) error {
	payload, err := sjson.SetBytes([]byte(`{"type":"content_block_delta"}`), "index", index)
	if err != nil {
		return err
	}
	payload, err = sjson.SetBytes(payload, "delta.type", "text_delta")
	if err != nil {
		return err
	}
	payload, err = sjson.SetBytes(payload, "delta.text", text)
	if err != nil {
		return err
	}
	return writeFrame(dst, "content_block_delta", payload)
}

// emitStopBurst synthesizes the four-event terminal sequence spec.md
// §4.7(c) steps 2-4 require once a stop sequence is matched.
func emitStopBurst(dst io.Writer, index int64, matched string) error {
	stopPayload, err := sjson.SetBytes([]byte(`{"type":"content_block_stop"}`), "index", index)
	if err != nil {
		return err
	}
	if err := writeFrame(dst, "content_block_stop", stopPayload); err != nil {
		return err
	}

	deltaPayload := []byte(`{"type":"message_delta","delta":{"stop_reason":"stop_sequence"},"usage":{"input_tokens":0,"output_tokens":0}}`)
	deltaPayload, err = sjson.SetBytes(deltaPayload, "delta.stop_sequence", matched)
	if err != nil {
		return err
	}
	if err := writeFrame(dst, "message_delta", deltaPayload); err != nil {
		return err
	}

	return writeFrame(dst, "message_stop", []byte(`{"type":"message_stop"}`))
}
