package session

import (
	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/pkg/citemap"
)

// FrameKind tells prose apart from the terminal frames.
type FrameKind int

const (
	// FrameProse carries merged, renumbered answer text.
	FrameProse FrameKind = iota
	// FrameCitations is the trailing citation map. It is always last.
	FrameCitations
	// FrameError replaces the citation map when the answer failed mid-stream.
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameProse:
		return "prose"
	case FrameCitations:
		return "citations"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one unit of the response body. Text is written to the wire as is.
type Frame struct {
	kind FrameKind
	text string
}

func (f Frame) Kind() FrameKind { return f.kind }

func (f Frame) Text() string { return f.text }

// Terminal reports whether no frame follows f.
func (f Frame) Terminal() bool { return f.kind != FrameProse }

func proseFrame(text string) Frame {
	return Frame{kind: FrameProse, text: text}
}

func errorFrame(text string) Frame {
	return Frame{kind: FrameError, text: text}
}

// citationFrame renders the map of a finished answer.
func citationFrame(a model.ComposedAnswer) (Frame, error) {
	block, err := citemap.Render(a.Excerpts())
	if err != nil {
		return Frame{}, err
	}
	return Frame{kind: FrameCitations, text: block}, nil
}
