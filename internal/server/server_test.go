package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookweather-chat/server/internal/agent/answer"
	"github.com/bookweather-chat/server/internal/agent/composer"
	"github.com/bookweather-chat/server/internal/agent/fakes"
	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/agent/session"
	"github.com/bookweather-chat/server/internal/core"
	"github.com/bookweather-chat/server/pkg/citemap"
)

type classifierFunc func(ctx context.Context, query string) (model.Intent, error)

func (f classifierFunc) Classify(ctx context.Context, query string) (model.Intent, error) {
	return f(ctx, query)
}

// byKeyword routes queries mentioning weather to the weather answerer.
var byKeyword = classifierFunc(func(_ context.Context, q string) (model.Intent, error) {
	if strings.Contains(strings.ToLower(q), "weather") {
		return model.WeatherIntent(q), nil
	}
	return model.BookIntent(q), nil
})

type env struct {
	index   *fakes.PassageIndex
	chat    *fakes.ChatModel
	weather *fakes.WeatherLookup
	log     *fakes.ChatLog
}

func newEnv() *env {
	return &env{
		index: &fakes.PassageIndex{Passages: []model.Passage{
			{ID: "p1", Text: "The Sphinx is grand in its loneliness.", Locator: "Chapter 58", Position: 1},
			{ID: "p2", Text: "There was a dignity not of earth in its mien.", Locator: "Chapter 58", Position: 2},
		}},
		chat: fakes.Reply("It is grand [1] ", "and dignified [2]."),
		weather: &fakes.WeatherLookup{Readings: map[string]model.WeatherReading{
			"paris": {Place: "Paris", Country: "FR", TemperatureC: 18.2, Description: "light rain", Humidity: 81, WindSpeedMS: 4.1},
		}},
		log: &fakes.ChatLog{},
	}
}

func (e *env) service(t *testing.T) *session.Session {
	t.Helper()
	msgs := prompts.MustLoadCatalog().Locale("en")
	book, err := answer.NewBook(answer.BookConfig{
		Index:           e.index,
		ChatModel:       e.chat,
		ModelName:       "gemini-2.5-flash",
		Messages:        msgs,
		TopK:            5,
		ExcerptMaxChars: 600,
		Streaming:       true,
	})
	require.NoError(t, err)
	weather, err := answer.NewWeather(answer.WeatherConfig{Lookup: e.weather, Messages: msgs})
	require.NoError(t, err)
	comp, err := composer.New(msgs)
	require.NoError(t, err)

	s, err := session.New(session.Config{
		Classifier: byKeyword,
		Book:       book,
		Weather:    weather,
		Composer:   comp,
		Messages:   msgs,
		ChatLog:    e.log,
		Streaming:  true,
	})
	require.NoError(t, err)
	return s
}

func (e *env) server(t *testing.T) *Server {
	t.Helper()
	return New(Config{Addr: ":0"}, e.service(t), WithChatLog(e.log))
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp detailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Detail
}

func TestChatStreamsBookAnswer(t *testing.T) {
	e := newEnv()
	rec := postChat(t, e.server(t).Handler(), `{"message": "What did Twain say about the Sphinx?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentTypeStream, rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, citemap.Sentinel))
	prose, cites, found, err := citemap.Split(body)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "It is grand [1] and dignified [2].\n\nBased on 2 cited passages from the book.", prose)
	assert.Equal(t, citemap.Map{1: "The Sphinx is grand in its loneliness.", 2: "There was a dignity not of earth in its mien."}, cites)
}

func TestChatStreamsWeatherAnswer(t *testing.T) {
	e := newEnv()
	rec := postChat(t, e.server(t).Handler(), `{"message": "What's the weather in Paris?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Current weather in Paris, FR: light rain, 18.2°C, humidity 81%, wind 4.1 m/s.\n\nCITATION_MAP: {}", rec.Body.String())
}

func TestChatRequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{name: "malformed json", body: `{"message": `, status: http.StatusBadRequest, detail: malformedMessage},
		{name: "missing message", body: `{"text": "hi"}`, status: http.StatusBadRequest, detail: malformedMessage},
		{name: "wrong type", body: `{"message": 42}`, status: http.StatusBadRequest, detail: malformedMessage},
		{name: "empty message", body: `{"message": "   "}`, status: http.StatusBadRequest, detail: session.EmptyMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv()
			rec := postChat(t, e.server(t).Handler(), tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.detail, detailOf(t, rec))
			assert.Zero(t, e.chat.Calls())
		})
	}
}

func TestChatNoAnswerIsBadGateway(t *testing.T) {
	e := newEnv()
	e.index.Err = errors.New("index offline")
	rec := postChat(t, e.server(t).Handler(), `{"message": "Sphinx?"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "no answer could be produced", detailOf(t, rec))
}

func TestErrorCauseFollowsEnvironment(t *testing.T) {
	tests := []struct {
		env       core.Environment
		withCause bool
	}{
		{env: core.Production, withCause: false},
		{env: core.Staging, withCause: false},
		{env: core.Development, withCause: true},
		{env: core.Testing, withCause: true},
	}
	for _, tt := range tests {
		t.Run(tt.env.String(), func(t *testing.T) {
			e := newEnv()
			e.index.Err = errors.New("index offline")
			srv := New(Config{}, e.service(t), WithEnvironment(tt.env))

			rec := postChat(t, srv.Handler(), `{"message": "Sphinx?"}`)
			assert.Equal(t, http.StatusBadGateway, rec.Code)
			detail := detailOf(t, rec)
			assert.True(t, strings.HasPrefix(detail, "no answer could be produced"))
			assert.Equal(t, tt.withCause, strings.Contains(detail, "index offline"), detail)

			// client errors never carry a cause
			rec = postChat(t, srv.Handler(), `{"message": "  "}`)
			assert.Equal(t, session.EmptyMessage, detailOf(t, rec))
		})
	}
}

func TestChatNotReady(t *testing.T) {
	e := newEnv()
	srv := e.server(t)
	srv.SetReady(false)

	rec := postChat(t, srv.Handler(), `{"message": "Sphinx?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, notReadyMessage, detailOf(t, rec))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	nilSrv := New(Config{}, nil)
	rec = postChat(t, nilSrv.Handler(), `{"message": "Sphinx?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newEnv().server(t)
	tests := []struct {
		path string
		want statusResponse
	}{
		{path: "/health", want: statusResponse{Status: "ok", Detail: "Service is healthy"}},
		{path: "/liveness", want: statusResponse{Status: "alive", Detail: "Service is live"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var got statusResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCORS(t *testing.T) {
	srv := newEnv().server(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/chat", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liveness", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagates(t *testing.T) {
	e := newEnv()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message": "Sphinx?"}`))
	req.Header.Set(HeaderRequestID, "req-7")
	rec := httptest.NewRecorder()
	e.server(t).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-7", rec.Header().Get(HeaderRequestID))
	entries := e.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-7", entries[0].RequestID)
}

func TestChatLogEndpoint(t *testing.T) {
	e := newEnv()
	h := e.server(t).Handler()
	postChat(t, h, `{"message": "Sphinx?"}`)
	postChat(t, h, `{"message": "weather in Paris"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatlog?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []model.ChatLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "weather in Paris", entries[0].Query)
	assert.Equal(t, "weather", entries[0].Intent)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatlog?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	New(Config{}, e.service(t)).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatlog", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatOverRealConnection(t *testing.T) {
	e := newEnv()
	ts := httptest.NewServer(e.server(t).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"message": "Sphinx?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), `"2": "There was a dignity not of earth in its mien."}`))
}

func TestRequestIDReachesContext(t *testing.T) {
	var seen string
	h := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = core.RequestID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
}
