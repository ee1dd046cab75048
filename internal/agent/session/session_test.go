package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookweather-chat/server/internal/agent/answer"
	"github.com/bookweather-chat/server/internal/agent/composer"
	"github.com/bookweather-chat/server/internal/agent/fakes"
	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/core"
	errx "github.com/bookweather-chat/server/internal/core/error"
	"github.com/bookweather-chat/server/pkg/citemap"
)

type classifierFunc func(ctx context.Context, query string) (model.Intent, error)

func (f classifierFunc) Classify(ctx context.Context, query string) (model.Intent, error) {
	return f(ctx, query)
}

func fixed(intent model.Intent) Classifier {
	return classifierFunc(func(context.Context, string) (model.Intent, error) { return intent, nil })
}

var twainPassages = []model.Passage{
	{ID: "p41", Text: "The Sphinx is grand in its loneliness; it is imposing in its magnitude.", Locator: "Chapter 58", Position: 41},
	{ID: "p42", Text: "There was a dignity not of earth in its mien.", Locator: "Chapter 58", Position: 42},
	{ID: "p07", Text: "We went ashore at Alexandria.", Locator: "Chapter 57", Position: 7},
}

type fixture struct {
	index   *fakes.PassageIndex
	chat    *fakes.ChatModel
	weather *fakes.WeatherLookup
	log     *fakes.ChatLog
}

func newFixture() *fixture {
	return &fixture{
		index: &fakes.PassageIndex{Passages: twainPassages},
		chat:  fakes.Reply("Twain found it dignified [2", "] and grand [1]."),
		weather: &fakes.WeatherLookup{Readings: map[string]model.WeatherReading{
			"paris": {Place: "Paris", Country: "FR", TemperatureC: 21, Description: "clear sky", Humidity: 40, WindSpeedMS: 3.6},
			"rome":  {Place: "Rome", Country: "IT", TemperatureC: 24.4, Description: "few clouds", Humidity: 55, WindSpeedMS: 2.1},
		}},
		log: &fakes.ChatLog{},
	}
}

func (f *fixture) session(t *testing.T, classifier Classifier, streaming bool) *Session {
	t.Helper()
	return f.sessionWith(t, f.index, f.weather, classifier, streaming)
}

// sessionWith builds a session over the given index and lookup instead of the fixture's fakes.
func (f *fixture) sessionWith(t *testing.T, idx model.PassageIndex, lookup model.WeatherLookup, classifier Classifier, streaming bool) *Session {
	t.Helper()
	msgs := prompts.MustLoadCatalog().Locale("en")

	book, err := answer.NewBook(answer.BookConfig{
		Index:           idx,
		ChatModel:       f.chat,
		ModelName:       "gemini-2.5-flash",
		Messages:        msgs,
		TopK:            5,
		ExcerptMaxChars: 600,
		Streaming:       streaming,
	})
	require.NoError(t, err)
	weather, err := answer.NewWeather(answer.WeatherConfig{Lookup: lookup, Messages: msgs})
	require.NoError(t, err)
	comp, err := composer.New(msgs)
	require.NoError(t, err)

	s, err := New(Config{
		Classifier: classifier,
		Book:       book,
		Weather:    weather,
		Composer:   comp,
		Messages:   msgs,
		ChatLog:    f.log,
		Streaming:  streaming,
	})
	require.NoError(t, err)
	return s
}

func collect(t *testing.T, run *Run) []Frame {
	t.Helper()
	var frames []Frame
	for f := range run.Stream() {
		frames = append(frames, f)
	}
	return frames
}

func body(frames []Frame) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f.Text())
	}
	return b.String()
}

// assertWellFormed checks that only the last frame is terminal.
func assertWellFormed(t *testing.T, frames []Frame, last FrameKind) {
	t.Helper()
	require.NotEmpty(t, frames)
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, FrameProse, f.Kind())
	}
	assert.Equal(t, last, frames[len(frames)-1].Kind())
	assert.Equal(t, 1, strings.Count(body(frames), citemap.Sentinel)+strings.Count(body(frames), "[The answer was interrupted"))
}

func TestSphinxBookQuestion(t *testing.T) {
	for _, streaming := range []bool{true, false} {
		f := newFixture()
		query := "What did Mark Twain say about the Sphinx?"
		run, err := f.session(t, fixed(model.BookIntent(query)), streaming).Prepare(context.Background(), query)
		require.NoError(t, err)
		assert.Equal(t, model.IntentBook, run.Intent().Kind())

		frames := collect(t, run)
		assertWellFormed(t, frames, FrameCitations)

		prose, cites, found, err := citemap.Split(body(frames))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "Twain found it dignified [1] and grand [2].\n\nBased on 2 cited passages from the book.", prose)
		assert.Equal(t, citemap.Map{1: twainPassages[1].Text, 2: twainPassages[0].Text}, cites)
		assert.NotContains(t, prose, "Current weather")

		assert.Equal(t, []State{StateClassifying, StateRetrieving, StateComposing, StateStreaming, StateStreamingCitations, StateDone}, run.States())

		entries := f.log.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, query, entries[0].Query)
		assert.Equal(t, "book", entries[0].Intent)
		assert.Len(t, entries[0].Citations, 2)
		assert.False(t, entries[0].Failed)
		assert.Equal(t, "done", entries[0].State)
	}
}

func TestParisWeatherQuestion(t *testing.T) {
	f := newFixture()
	query := "What's the weather in Paris?"
	run, err := f.session(t, fixed(model.WeatherIntent(query)), true).Prepare(context.Background(), query)
	require.NoError(t, err)

	frames := collect(t, run)
	assertWellFormed(t, frames, FrameCitations)
	assert.Equal(t, "Current weather in Paris, FR: clear sky, 21.0°C, humidity 40%, wind 3.6 m/s.\n\nCITATION_MAP: {}", body(frames))
	assert.Zero(t, f.chat.Calls())
	assert.Empty(t, f.index.Queries())
	assert.Contains(t, run.States(), StateLookingUp)
	assert.NotContains(t, run.States(), StateRetrieving)
}

func TestRomeMixedWithoutBookHalf(t *testing.T) {
	f := newFixture()
	query := "I'm visiting Rome soon; what's the weather like there now?"
	run, err := f.session(t, fixed(model.MixedIntent("", "weather in Rome")), true).Prepare(context.Background(), query)
	require.NoError(t, err)

	prose, cites, _, err := citemap.Split(body(collect(t, run)))
	require.NoError(t, err)
	assert.Equal(t, "Current weather in Rome, IT: few clouds, 24.4°C, humidity 55%, wind 2.1 m/s.", prose)
	assert.Empty(t, cites)
	assert.Empty(t, f.index.Queries())
	assert.Zero(t, f.chat.Calls())
}

func TestMixedQuestion(t *testing.T) {
	f := newFixture()
	run, err := f.session(t, fixed(model.MixedIntent("What did Twain think of the Sphinx?", "weather in Paris")), true).
		Prepare(context.Background(), "What did Twain think of the Sphinx, and is it sunny in Paris?")
	require.NoError(t, err)

	frames := collect(t, run)
	assertWellFormed(t, frames, FrameCitations)
	prose, cites, _, err := citemap.Split(body(frames))
	require.NoError(t, err)
	assert.Equal(t, "Current weather in Paris, FR: clear sky, 21.0°C, humidity 40%, wind 3.6 m/s.\n\nTwain found it dignified [1] and grand [2].", prose)
	assert.Len(t, cites, 2)
	assert.Equal(t, []string{"What did Twain think of the Sphinx?"}, f.index.Queries())
}

func TestAtlantisIsGraceful(t *testing.T) {
	f := newFixture()
	run, err := f.session(t, fixed(model.WeatherIntent("weather in Atlantis")), true).Prepare(context.Background(), "What's the weather in Atlantis?")
	require.NoError(t, err)

	frames := collect(t, run)
	assertWellFormed(t, frames, FrameCitations)
	assert.True(t, strings.HasPrefix(body(frames), `I could not find a place called "Atlantis"`))
}

func TestZeroPassages(t *testing.T) {
	f := newFixture()
	f.index.Passages = nil
	run, err := f.session(t, fixed(model.BookIntent("Who won the 2022 World Cup?")), true).Prepare(context.Background(), "Who won the 2022 World Cup?")
	require.NoError(t, err)

	assert.Equal(t, "I couldn't find anything about that in the text.\n\nCITATION_MAP: {}", body(collect(t, run)))
	assert.Zero(t, f.chat.Calls())
}

func TestNoIntentShortCircuits(t *testing.T) {
	f := newFixture()
	run, err := f.session(t, fixed(model.NoIntent()), true).Prepare(context.Background(), "hello there")
	require.NoError(t, err)

	assert.Equal(t, "I can answer questions about the book or current weather.\n\nCITATION_MAP: {}", body(collect(t, run)))
	assert.Zero(t, f.chat.Calls())
	assert.Empty(t, f.index.Queries())
	assert.NotContains(t, run.States(), StateRetrieving)
	assert.NotContains(t, run.States(), StateLookingUp)
}

func TestMidStreamFailure(t *testing.T) {
	f := newFixture()
	f.chat = &fakes.ChatModel{Chunks: []string{"Twain found it dignified [2] "}, StreamErr: errors.New("connection reset")}
	run, err := f.session(t, fixed(model.BookIntent("Sphinx?")), true).Prepare(context.Background(), "Sphinx?")
	require.NoError(t, err)

	frames := collect(t, run)
	assertWellFormed(t, frames, FrameError)
	assert.Equal(t, "Twain found it dignified [1] \n\n[The answer was interrupted because the language model failed. Please try again.]", body(frames))
	assert.NotContains(t, body(frames), citemap.Sentinel)
	assert.Equal(t, StateErrored, run.State())

	entries := f.log.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Failed)
	assert.Equal(t, "errored", entries[0].State)
}

func TestPrepareFailures(t *testing.T) {
	t.Run("empty message", func(t *testing.T) {
		f := newFixture()
		_, err := f.session(t, fixed(model.NoIntent()), true).Prepare(context.Background(), "   ")
		assert.ErrorIs(t, err, errx.ErrBadRequest)
		assert.Equal(t, EmptyMessage, errx.MessageOf(err))
	})

	t.Run("every answerer failed", func(t *testing.T) {
		f := newFixture()
		f.index.Err = errors.New("index offline")
		f.weather.Err = errors.New("provider down")
		_, err := f.session(t, fixed(model.MixedIntent("Sphinx?", "weather in Paris")), true).Prepare(context.Background(), "Sphinx and Paris?")
		assert.ErrorIs(t, err, errx.ErrNoAnswer)
		assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	})

	t.Run("one half failed", func(t *testing.T) {
		f := newFixture()
		f.weather.Err = errors.New("provider down")
		run, err := f.session(t, fixed(model.MixedIntent("Sphinx?", "weather in Paris")), true).Prepare(context.Background(), "Sphinx and Paris?")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(body(collect(t, run)), "Current weather information is unavailable right now.\n\nTwain found it dignified [1]"))
	})

	t.Run("classifier cancelled", func(t *testing.T) {
		f := newFixture()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		classifier := classifierFunc(func(ctx context.Context, _ string) (model.Intent, error) { return model.NoIntent(), ctx.Err() })
		_, err := f.session(t, classifier, true).Prepare(ctx, "Sphinx?")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClientDisconnectStopsStream(t *testing.T) {
	f := newFixture()
	chunks := make([]string, 200)
	for i := range chunks {
		chunks[i] = "word "
	}
	f.chat = fakes.Reply(chunks...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run, err := f.session(t, fixed(model.BookIntent("Sphinx?")), true).Prepare(ctx, "Sphinx?")
	require.NoError(t, err)

	stream := run.Stream()
	first := <-stream
	assert.Equal(t, FrameProse, first.Kind())
	cancel()

	for range stream {
	}
	assert.True(t, run.State().Terminal())
}

func TestStreamTwice(t *testing.T) {
	f := newFixture()
	run, err := f.session(t, fixed(model.NoIntent()), true).Prepare(context.Background(), "hi")
	require.NoError(t, err)
	collect(t, run)

	_, open := <-run.Stream()
	assert.False(t, open)
}

func TestRequestIDIsRecorded(t *testing.T) {
	f := newFixture()
	ctx := core.WithRequestID(context.Background(), "req-42")
	run, err := f.session(t, fixed(model.NoIntent()), true).Prepare(ctx, "hi")
	require.NoError(t, err)
	collect(t, run)

	entries := f.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-42", entries[0].RequestID)
}

// rendezvous releases its callers once want of them have arrived.
type rendezvous struct {
	want    int32
	arrived atomic.Int32
	all     chan struct{}
}

func newRendezvous(want int32) *rendezvous {
	return &rendezvous{want: want, all: make(chan struct{})}
}

func (r *rendezvous) arrive(ctx context.Context) error {
	if r.arrived.Add(1) == r.want {
		close(r.all)
	}
	select {
	case <-r.all:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("the other answerer never started")
	}
}

type gatedIndex struct {
	model.PassageIndex
	gate *rendezvous
}

func (g gatedIndex) Search(ctx context.Context, query string, topK int) ([]model.Passage, error) {
	if err := g.gate.arrive(ctx); err != nil {
		return nil, err
	}
	return g.PassageIndex.Search(ctx, query, topK)
}

type gatedLookup struct {
	model.WeatherLookup
	gate *rendezvous
}

func (g gatedLookup) Geocode(ctx context.Context, place string) (model.Location, error) {
	if err := g.gate.arrive(ctx); err != nil {
		return model.Location{}, err
	}
	return g.WeatherLookup.Geocode(ctx, place)
}

func TestMixedAnswerersRunConcurrently(t *testing.T) {
	f := newFixture()
	gate := newRendezvous(2)
	s := f.sessionWith(t, gatedIndex{f.index, gate}, gatedLookup{f.weather, gate},
		fixed(model.MixedIntent("What did Twain think of the Sphinx?", "weather in Paris")), true)

	run, err := s.Prepare(context.Background(), "Sphinx and Paris?")
	require.NoError(t, err)

	prose, cites, _, err := citemap.Split(body(collect(t, run)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prose, "Current weather in Paris, FR"))
	assert.NotContains(t, prose, "unavailable")
	assert.Len(t, cites, 2)
}

// stalled blocks every call until ctx is done.
type stalled struct {
	started   chan string
	cancelled atomic.Int32
	returned  atomic.Int32
}

func (s *stalled) wait(ctx context.Context, who string) error {
	defer s.returned.Add(1)
	s.started <- who
	<-ctx.Done()
	s.cancelled.Add(1)
	return ctx.Err()
}

type stalledIndex struct{ *stalled }

func (s stalledIndex) Search(ctx context.Context, _ string, _ int) ([]model.Passage, error) {
	return nil, s.wait(ctx, "index")
}

type stalledLookup struct{ *stalled }

func (s stalledLookup) Geocode(ctx context.Context, _ string) (model.Location, error) {
	return model.Location{}, s.wait(ctx, "lookup")
}

func (s stalledLookup) CurrentConditions(ctx context.Context, _ model.Location) (model.WeatherReading, error) {
	return model.WeatherReading{}, s.wait(ctx, "lookup")
}

func TestDisconnectCancelsRunningAnswerers(t *testing.T) {
	f := newFixture()
	st := &stalled{started: make(chan string, 2)}
	s := f.sessionWith(t, stalledIndex{st}, stalledLookup{st},
		fixed(model.MixedIntent("Sphinx?", "weather in Paris")), true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		run *Run
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, err := s.Prepare(ctx, "Sphinx and Paris?")
		done <- result{run, err}
	}()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case who := <-st.started:
			seen[who] = true
		case <-time.After(2 * time.Second):
			t.Fatal("answerers did not start")
		}
	}
	cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Prepare did not return after cancellation")
	}
	assert.Nil(t, res.run)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, int32(2), st.cancelled.Load())
	assert.Equal(t, int32(2), st.returned.Load())
	assert.Zero(t, f.chat.Calls())

	entries := f.log.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Failed)
	assert.Equal(t, StateErrored.String(), entries[0].State)
}
