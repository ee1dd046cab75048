package answer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bookweather-chat/server/internal/agent/model"
)

var (
	// markerRe matches [3] and multi-id markers such as [2, 4].
	markerRe = regexp.MustCompile(`\[\s*\d+(?:\s*,\s*\d+)*\s*\]`)
	// partialRe matches a marker cut off at the end of a chunk.
	partialRe = regexp.MustCompile(`\[[\d,\s]*$`)
	digitsRe  = regexp.MustCompile(`\d+`)
)

// maxPending bounds how much text is held back waiting for a marker to close.
const maxPending = 64

func markerIDs(marker string) []int {
	raw := digitsRe.FindAllString(marker, -1)
	ids := make([]int, 0, len(raw))
	for _, r := range raw {
		if id, err := strconv.Atoi(r); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Renumberer rewrites reference ids in streamed text to citation markers
// numbered 1..n in order of first appearance. Multi-id markers are split, so
// [2, 4] becomes [1][2]. Ids without a source keep their text in parentheses:
// [1869] becomes (1869).
type Renumberer struct {
	sources  map[int]model.Source
	assigned map[int]int
	entries  []model.CitationEntry
	pending  string
}

func NewRenumberer(sources map[int]model.Source) *Renumberer {
	return &Renumberer{
		sources:  sources,
		assigned: make(map[int]int),
	}
}

// Write consumes the next chunk and returns the text that is safe to emit.
// A trailing partial marker is held back until a later Write or Flush.
func (r *Renumberer) Write(chunk string) string {
	buf := r.pending + chunk
	r.pending = ""
	if loc := partialRe.FindStringIndex(buf); loc != nil && len(buf)-loc[0] <= maxPending {
		r.pending = buf[loc[0]:]
		buf = buf[:loc[0]]
	}
	return r.rewrite(buf)
}

// Flush returns any held-back text.
func (r *Renumberer) Flush() string {
	buf := r.pending
	r.pending = ""
	return r.rewrite(buf)
}

// Citations returns the entries assigned so far, ordered by marker.
func (r *Renumberer) Citations() []model.CitationEntry {
	return append([]model.CitationEntry(nil), r.entries...)
}

func (r *Renumberer) rewrite(s string) string {
	if s == "" {
		return ""
	}
	return markerRe.ReplaceAllStringFunc(s, func(m string) string {
		var b strings.Builder
		var unknown []string
		for _, id := range markerIDs(m) {
			n, ok := r.assign(id)
			if !ok {
				unknown = append(unknown, strconv.Itoa(id))
				continue
			}
			b.WriteString("[")
			b.WriteString(strconv.Itoa(n))
			b.WriteString("]")
		}
		if len(unknown) > 0 {
			b.WriteString("(" + strings.Join(unknown, ", ") + ")")
		}
		return b.String()
	})
}

// Unmark rewrites marker-shaped brackets in text that carries no citations,
// so a user-typed [1] reads (1) and cannot collide with a citation marker.
func Unmark(s string) string {
	return markerRe.ReplaceAllStringFunc(s, func(m string) string {
		return "(" + strings.TrimSpace(m[1:len(m)-1]) + ")"
	})
}

func (r *Renumberer) assign(id int) (int, bool) {
	if n, ok := r.assigned[id]; ok {
		return n, true
	}
	src, ok := r.sources[id]
	if !ok {
		return 0, false
	}
	n := len(r.entries) + 1
	r.assigned[id] = n
	r.entries = append(r.entries, model.CitationEntry{Marker: n, Excerpt: src.Excerpt, Locator: src.Locator})
	return n, true
}

// UsedSources returns the subset of sources referenced by markers in text.
func UsedSources(text string, sources map[int]model.Source) map[int]model.Source {
	used := make(map[int]model.Source)
	for _, m := range markerRe.FindAllString(text, -1) {
		for _, id := range markerIDs(m) {
			if src, ok := sources[id]; ok {
				used[id] = src
			}
		}
	}
	return used
}

// Excerpt returns text trimmed to at most maxChars runes, cut at a word boundary.
func Excerpt(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:maxChars])
	if i := strings.LastIndexAny(cut, " \n\t"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
