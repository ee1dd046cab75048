// Package citemap encodes and decodes the trailing citation block that ends
// every answer stream:
//
//	\n\nCITATION_MAP: {"1": "<excerpt>", "2": "<excerpt>"}
package citemap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Sentinel introduces the citation block.
const Sentinel = "CITATION_MAP:"

// Separator precedes the sentinel.
const Separator = "\n\n"

// Render encodes excerpts as a citation block. excerpts[i] belongs to marker i+1.
// Keys are written in numeric order and HTML characters are not escaped.
func Render(excerpts []string) (string, error) {
	var b strings.Builder
	b.WriteString(Separator)
	b.WriteString(Sentinel)
	b.WriteString(" {")
	for i, ex := range excerpts {
		if i > 0 {
			b.WriteString(", ")
		}
		v, err := encode(ex)
		if err != nil {
			return "", fmt.Errorf("encode excerpt %d: %w", i+1, err)
		}
		b.WriteString(strconv.Quote(strconv.Itoa(i + 1)))
		b.WriteString(": ")
		b.Write(v)
	}
	b.WriteString("}")
	return b.String(), nil
}

func encode(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Map is a decoded citation block keyed by marker.
type Map map[int]string

// Markers returns the markers in ascending order.
func (m Map) Markers() []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Split separates a complete response body into prose and citation map.
// found is false when the body carries no citation block.
func Split(body string) (prose string, m Map, found bool, err error) {
	idx := strings.LastIndex(body, Separator+Sentinel)
	if idx < 0 {
		return body, Map{}, false, nil
	}
	prose = body[:idx]
	raw := strings.TrimSpace(body[idx+len(Separator)+len(Sentinel):])

	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return prose, nil, true, fmt.Errorf("decode citation map: %w", err)
	}
	m = make(Map, len(decoded))
	for k, v := range decoded {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			return prose, nil, true, fmt.Errorf("invalid citation marker %q", k)
		}
		m[n] = v
	}
	return prose, m, true, nil
}
