// Package composer merges the book and weather sub-answers of one request
// into a single prose stream with one sequential citation space.
package composer

import (
	"errors"
	"io"
	"strings"

	"github.com/bookweather-chat/server/internal/agent/answer"
	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	errx "github.com/bookweather-chat/server/internal/core/error"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

// Separator joins the weather and book parts of a mixed answer.
const Separator = "\n\n"

type Composer struct {
	msgs *prompts.Messages
}

func New(msgs *prompts.Messages) (*Composer, error) {
	if msgs == nil {
		return nil, errors.New("composer: messages are nil")
	}
	return &Composer{msgs: msgs}, nil
}

type segment struct {
	answer *model.SubAnswer
	cited  bool
}

// Plan returns the lazy, renumbered prose for the given outcomes. A nil
// outcome means that half was never requested; both nil yields the help text.
// Weather goes first. A place that could not be resolved is rendered as a
// sentence; any other failure of one half of a mixed request is annotated in
// prose. When nothing could be answered Plan fails with errx.ErrNoAnswer.
func (c *Composer) Plan(book, weather *model.Outcome) (*Plan, error) {
	p := &Plan{renum: answer.NewRenumberer(nil), msgs: c.msgs}
	if book == nil && weather == nil {
		p.segments = []segment{{answer: &model.SubAnswer{Prose: c.msgs.Help}}}
		return p, nil
	}

	mixed := book != nil && weather != nil
	var failures []error
	answered := 0

	if weather != nil {
		switch {
		case !weather.Failed():
			p.segments = append(p.segments, segment{answer: weather.Answer})
			answered++
		case errors.Is(weather.Err, errx.ErrPlaceNotFound):
			p.segments = append(p.segments, segment{answer: &model.SubAnswer{Prose: c.msgs.RenderPlaceNotFound(placeOf(weather.Err))}})
			answered++
		default:
			failures = append(failures, outcomeErr(weather))
			if mixed {
				p.segments = append(p.segments, segment{answer: &model.SubAnswer{Prose: c.msgs.WeatherUnavailable}})
			}
		}
	}

	if book != nil {
		if book.Failed() {
			failures = append(failures, outcomeErr(book))
			if mixed {
				p.segments = append(p.segments, segment{answer: &model.SubAnswer{Prose: c.msgs.BookUnavailable}})
			}
		} else {
			p.renum = answer.NewRenumberer(book.Answer.Sources)
			p.segments = append(p.segments, segment{answer: book.Answer, cited: true})
			p.summarize = !mixed
			answered++
		}
	}

	if answered == 0 {
		p.Close()
		return nil, errx.NoAnswer(errors.Join(failures...))
	}
	for _, err := range failures {
		logx.Warn().Err(err).Msg("Sub-answer unavailable, composing the remaining part")
	}
	return p, nil
}

// Compose drains a plan into a ComposedAnswer. Composing the same finished
// outcomes twice yields the same answer.
func (c *Composer) Compose(book, weather *model.Outcome) (model.ComposedAnswer, error) {
	p, err := c.Plan(book, weather)
	if err != nil {
		return model.ComposedAnswer{}, err
	}
	defer p.Close()
	for {
		if _, err := p.Next(); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return model.ComposedAnswer{}, err
		}
	}
	return p.Finish()
}

func placeOf(err error) string {
	var unknown *errx.UnknownPlaceError
	if errors.As(err, &unknown) {
		return unknown.Place
	}
	return ""
}

func outcomeErr(o *model.Outcome) error {
	if o.Err != nil {
		return o.Err
	}
	return errors.New("answerer returned no answer")
}

// Plan is the merged prose of one request, produced chunk by chunk. It is
// not safe for concurrent use and can be consumed once.
type Plan struct {
	segments  []segment
	renum     *answer.Renumberer
	msgs      *prompts.Messages
	summarize bool

	idx    int
	stream model.TokenStream
	prose  strings.Builder
	done   bool
	err    error
}

// Next returns the next chunk of renumbered prose, io.EOF after the last one,
// or the error that ended the plan early.
func (p *Plan) Next() (string, error) {
	for {
		if p.err != nil {
			return "", p.err
		}
		if p.done {
			return "", io.EOF
		}
		if p.stream == nil {
			if p.idx == len(p.segments) {
				p.done = true
				if tail := p.summary(); tail != "" {
					return p.emit(tail), nil
				}
				continue
			}
			p.stream = p.segments[p.idx].answer.Open()
			if p.idx > 0 {
				return p.emit(Separator), nil
			}
		}

		seg := p.segments[p.idx]
		chunk, err := p.stream.Recv()
		if errors.Is(err, io.EOF) {
			p.stream.Close()
			p.stream = nil
			p.idx++
			if seg.cited {
				if rest := p.renum.Flush(); rest != "" {
					return p.emit(rest), nil
				}
			}
			continue
		}
		if err != nil {
			p.fail(err)
			return "", p.err
		}
		if seg.cited {
			chunk = p.renum.Write(chunk)
		} else {
			chunk = answer.Unmark(chunk)
		}
		if chunk != "" {
			return p.emit(chunk), nil
		}
	}
}

// Finish returns the composed answer. It fails until Next has returned io.EOF.
func (p *Plan) Finish() (model.ComposedAnswer, error) {
	if p.err != nil {
		return model.ComposedAnswer{}, p.err
	}
	if !p.done {
		return model.ComposedAnswer{}, errors.New("composer: plan is not exhausted")
	}
	return model.ComposedAnswer{Prose: p.prose.String(), Citations: p.renum.Citations()}, nil
}

// Prose returns the text emitted so far.
func (p *Plan) Prose() string {
	return p.prose.String()
}

// Close releases any open sub-answer streams.
func (p *Plan) Close() {
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	for i := p.idx; i < len(p.segments); i++ {
		if s := p.segments[i].answer.Stream; s != nil {
			s.Close()
		}
	}
}

func (p *Plan) emit(s string) string {
	p.prose.WriteString(s)
	return s
}

func (p *Plan) summary() string {
	if !p.summarize {
		return ""
	}
	n := len(p.renum.Citations())
	if n == 0 {
		return ""
	}
	return Separator + p.msgs.RenderSummary(n)
}

func (p *Plan) fail(err error) {
	if !errors.Is(err, errx.ErrGeneration) {
		err = errx.Generation(err)
	}
	p.err = err
	p.Close()
}
