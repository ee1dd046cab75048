// Package session runs one request end to end: classify, answer, compose and
// stream the merged prose followed by exactly one terminal frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bookweather-chat/server/internal/agent/composer"
	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/core"
	errx "github.com/bookweather-chat/server/internal/core/error"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

// EmptyMessage is returned for blank queries.
const EmptyMessage = "Message must not be empty"

const chatLogTimeout = 5 * time.Second

type Classifier interface {
	Classify(ctx context.Context, query string) (model.Intent, error)
}

type Answerer interface {
	Answer(ctx context.Context, subQuery string) (*model.SubAnswer, error)
}

// BookAnswerer can also start an answer without waiting for the full text.
type BookAnswerer interface {
	Answerer
	Draft(ctx context.Context, subQuery string) (*model.SubAnswer, error)
}

// Config wires a Session. ChatLog is optional.
type Config struct {
	Classifier Classifier
	Book       BookAnswerer
	Weather    Answerer
	Composer   *composer.Composer
	Messages   *prompts.Messages
	ChatLog    model.ChatLogRepository

	// Streaming forwards model tokens as they arrive instead of buffering
	// the book answer first.
	Streaming bool
}

type Session struct {
	cfg Config
}

func New(cfg Config) (*Session, error) {
	switch {
	case cfg.Classifier == nil:
		return nil, errors.New("session: classifier is nil")
	case cfg.Book == nil:
		return nil, errors.New("session: book answerer is nil")
	case cfg.Weather == nil:
		return nil, errors.New("session: weather answerer is nil")
	case cfg.Composer == nil:
		return nil, errors.New("session: composer is nil")
	case cfg.Messages == nil:
		return nil, errors.New("session: messages are nil")
	}
	return &Session{cfg: cfg}, nil
}

// Prepare classifies the query, runs the answerers and plans the composed
// answer. Errors returned here happen before any output and map to an HTTP
// status through errx.StatusOf. The returned Run owns a context derived from
// ctx; cancelling ctx stops all work of the request.
func (s *Session) Prepare(ctx context.Context, query string) (*Run, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errx.BadRequest(EmptyMessage)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		session:   s,
		ctx:       runCtx,
		cancel:    cancel,
		requestID: core.RequestID(ctx),
		query:     query,
		started:   time.Now(),
	}
	r.transition(StateClassifying)

	intent, err := s.cfg.Classifier.Classify(runCtx, query)
	if err != nil {
		return nil, r.abort(fmt.Errorf("classify: %w", err))
	}
	r.intent = intent

	book, weather := s.answer(runCtx, r, intent)
	if err := ctx.Err(); err != nil {
		r.closeOutcomes(book, weather)
		return nil, r.abort(err)
	}

	r.transition(StateComposing)
	plan, err := s.cfg.Composer.Plan(book, weather)
	if err != nil {
		return nil, r.abort(err)
	}
	r.plan = plan
	return r, nil
}

// answer runs the answerers the intent asks for, concurrently when both are
// needed, and waits for both.
func (s *Session) answer(ctx context.Context, r *Run, intent model.Intent) (book, weather *model.Outcome) {
	var bookQuery, weatherQuery string
	var hasBook, hasWeather bool
	switch intent.Kind() {
	case model.IntentBook, model.IntentWeather, model.IntentMixed:
		bookQuery, hasBook = intent.BookQuery()
		weatherQuery, hasWeather = intent.WeatherQuery()
	case model.IntentNone:
		return nil, nil
	}

	var g errgroup.Group
	if hasBook {
		r.transition(StateRetrieving)
		book = &model.Outcome{}
		g.Go(func() error {
			if s.cfg.Streaming {
				book.Answer, book.Err = s.cfg.Book.Draft(ctx, bookQuery)
			} else {
				book.Answer, book.Err = s.cfg.Book.Answer(ctx, bookQuery)
			}
			return nil
		})
	}
	if hasWeather {
		r.transition(StateLookingUp)
		weather = &model.Outcome{}
		g.Go(func() error {
			weather.Answer, weather.Err = s.cfg.Weather.Answer(ctx, weatherQuery)
			return nil
		})
	}
	_ = g.Wait()

	for name, o := range map[string]*model.Outcome{"book": book, "weather": weather} {
		if o != nil && o.Err != nil {
			logx.Warn().Err(o.Err).Str("request_id", r.requestID).Str("answerer", name).Msg("Answerer failed")
		}
	}
	return book, weather
}

// Run is one prepared request. Stream must be called once.
type Run struct {
	session   *Session
	ctx       context.Context
	cancel    context.CancelFunc
	requestID string
	query     string
	intent    model.Intent
	plan      *composer.Plan
	started   time.Time

	mu     sync.Mutex
	states []State

	once sync.Once
}

func (r *Run) Intent() model.Intent { return r.intent }

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

// States returns every state the run has passed through, in order.
func (r *Run) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *Run) transition(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	logx.Debug().Str("request_id", r.requestID).Str("state", s.String()).Msg("Session state changed")
}

func (r *Run) abort(err error) error {
	r.transition(StateErrored)
	r.cancel()
	logx.Error().Err(err).Str("request_id", r.requestID).Msg("Request failed before streaming")
	r.record("", nil, true)
	return err
}

func (r *Run) closeOutcomes(outcomes ...*model.Outcome) {
	for _, o := range outcomes {
		if o != nil && o.Answer != nil && o.Answer.Stream != nil {
			o.Answer.Stream.Close()
		}
	}
}

// Stream starts producing frames: prose frames, then one citation frame, or
// one error frame if generation failed after prose was sent. The channel is
// closed after the terminal frame or when the request context is cancelled.
// Later calls return a closed channel.
func (r *Run) Stream() <-chan Frame {
	out := make(chan Frame)
	started := false
	r.once.Do(func() {
		started = true
		go r.stream(out)
	})
	if !started {
		close(out)
	}
	return out
}

// Close releases the run without streaming it.
func (r *Run) Close() {
	r.once.Do(func() {
		r.plan.Close()
		r.cancel()
	})
}

func (r *Run) stream(out chan<- Frame) {
	defer close(out)
	defer r.cancel()
	defer r.plan.Close()

	send := func(f Frame) bool {
		select {
		case out <- f:
			return true
		case <-r.ctx.Done():
			return false
		}
	}

	r.transition(StateStreaming)
	for {
		chunk, err := r.plan.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.fail(err, send)
			return
		}
		if !send(proseFrame(chunk)) {
			r.cancelled()
			return
		}
	}

	answer, err := r.plan.Finish()
	if err != nil {
		r.fail(err, send)
		return
	}
	r.transition(StateStreamingCitations)
	frame, err := citationFrame(answer)
	if err != nil {
		r.fail(err, send)
		return
	}
	if !send(frame) {
		r.cancelled()
		return
	}
	r.transition(StateDone)
	logx.Info().
		Str("request_id", r.requestID).
		Str("intent", r.intent.String()).
		Int("citations", len(answer.Citations)).
		Dur("duration", time.Since(r.started)).
		Msg("Answer streamed")
	r.record(answer.Prose, answer.Citations, false)
}

func (r *Run) fail(err error, send func(Frame) bool) {
	r.transition(StateErrored)
	logx.Error().Err(err).Str("request_id", r.requestID).Msg("Answer failed mid-stream")
	text := r.session.cfg.Messages.GenerationFailed
	prose := r.plan.Prose()
	if prose != "" {
		text = composer.Separator + text
	}
	send(errorFrame(text))
	r.record(prose+text, nil, true)
}

func (r *Run) cancelled() {
	r.transition(StateErrored)
	logx.Info().Str("request_id", r.requestID).Msg("Client went away, request cancelled")
}

// record stores the exchange in the chat log. Failures are logged only.
func (r *Run) record(response string, citations []model.CitationEntry, failed bool) {
	repo := r.session.cfg.ChatLog
	if repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), chatLogTimeout)
	defer cancel()
	entry := model.ChatLogEntry{
		ID:        uuid.NewString(),
		RequestID: r.requestID,
		Query:     r.query,
		Intent:    r.intent.String(),
		Response:  response,
		Citations: citations,
		Failed:    failed,
		State:     r.State().String(),
		Duration:  time.Since(r.started),
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Save(ctx, entry); err != nil {
		logx.Warn().Err(err).Str("request_id", r.requestID).Msg("Failed to save chat log entry")
	}
}
