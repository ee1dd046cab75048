package model

import (
	"io"
	"sync"
)

// Passage is one contiguous excerpt of the indexed corpus. Position is the
// passage's order in the document and breaks score ties.
type Passage struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Locator  string  `json:"locator"`
	Position int     `json:"position"`
	Score    float64 `json:"score"`
}

// Source is the verbatim excerpt a citation marker points at.
type Source struct {
	Excerpt string
	Locator string
}

// CitationEntry is a final, renumbered citation.
type CitationEntry struct {
	Marker  int    `json:"marker"`
	Excerpt string `json:"excerpt"`
	Locator string `json:"locator,omitempty"`
}

// ComposedAnswer is the merged answer for one request.
type ComposedAnswer struct {
	Prose     string
	Citations []CitationEntry
}

// Excerpts returns the citation excerpts indexed by marker-1.
func (a ComposedAnswer) Excerpts() []string {
	out := make([]string, len(a.Citations))
	for i, c := range a.Citations {
		out[i] = c.Excerpt
	}
	return out
}

// TokenStream is a lazy, finite sequence of text chunks. Recv returns io.EOF
// once the sequence is exhausted.
type TokenStream interface {
	Recv() (string, error)
	Close()
}

// SubAnswer is the output of one answerer. Markers in the prose are the
// answerer's reference ids and are keys of Sources.
type SubAnswer struct {
	// Prose holds the full text when Stream is nil.
	Prose   string
	// Stream yields the text incrementally; it can be consumed once.
	Stream  TokenStream
	Sources map[int]Source
}

// Open returns a stream over the answer text.
func (a *SubAnswer) Open() TokenStream {
	if a.Stream != nil {
		return a.Stream
	}
	return TextStream(a.Prose)
}

// Outcome is the result of invoking one answerer.
type Outcome struct {
	Answer *SubAnswer
	Err    error
}

// Failed reports whether the answerer produced no answer.
func (o *Outcome) Failed() bool {
	return o == nil || o.Err != nil || o.Answer == nil
}

type textStream struct {
	mu     sync.Mutex
	chunks []string
}

// TextStream returns a TokenStream over fixed chunks.
func TextStream(chunks ...string) TokenStream {
	return &textStream{chunks: chunks}
}

func (s *textStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *textStream) Close() {
	s.mu.Lock()
	s.chunks = nil
	s.mu.Unlock()
}
