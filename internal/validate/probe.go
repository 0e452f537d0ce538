package validate

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
)

// Text-showing operators inside PDF content streams. Literal strings before
// Tj/TJ/' are what a viewer can actually select, which is what the
// classifier cares about.
var (
	streamRe  = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
	literalRe = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*(?:Tj|')`)
	arrayRe   = regexp.MustCompile(`\[((?:\\.|[^\]])*)\]\s*TJ`)
	innerRe   = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
	hexRe     = regexp.MustCompile(`<([0-9A-Fa-f\s]+)>\s*Tj`)
)

// extractableTextLen estimates how many characters of selectable text the
// raw PDF buffer carries. Content streams are inspected as-is and, when
// Flate-compressed, after inflation. The estimate only has to be good enough
// to separate text-bearing pages from page images.
func extractableTextLen(data []byte) int {
	total := 0
	for _, m := range streamRe.FindAllSubmatch(data, -1) {
		body := m[1]
		if inflated, err := inflate(body); err == nil {
			body = inflated
		}
		total += countShownText(body)
	}
	return total
}

func inflate(body []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	// Cap the inflation: a page of text never needs more.
	return io.ReadAll(io.LimitReader(r, 1<<20))
}

func countShownText(body []byte) int {
	n := 0
	for _, m := range literalRe.FindAllSubmatch(body, -1) {
		n += len(m[1])
	}
	for _, m := range arrayRe.FindAllSubmatch(body, -1) {
		for _, lit := range innerRe.FindAllSubmatch(m[1], -1) {
			n += len(lit[1])
		}
	}
	for _, m := range hexRe.FindAllSubmatch(body, -1) {
		n += len(m[1]) / 2
	}
	return n
}
