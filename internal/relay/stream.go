package relay

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// recordMarker prefixes every event record on the upstream stream.
const recordMarker = "data:"

// streamSentinel is the terminal record closing a well-formed stream.
const streamSentinel = "[DONE]"

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// streamDecoder yields text increments from the upstream's newline-delimited
// event records. Records that are malformed or not yet complete are skipped
// rather than treated as stream-ending: upstream chunk boundaries do not align
// with record boundaries.
type streamDecoder struct {
	scanner *bufio.Scanner
}

func newStreamDecoder(r io.Reader) *streamDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &streamDecoder{scanner: scanner}
}

// next returns the next non-empty fragment. done is true on the terminal
// sentinel or natural end of stream; err reports transport-level failures only.
func (d *streamDecoder) next() (fragment string, done bool, err error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" || !strings.HasPrefix(line, recordMarker) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, recordMarker))
		if payload == streamSentinel {
			return "", true, nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return text, false, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return "", false, err
	}
	return "", true, nil
}
