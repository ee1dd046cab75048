package answer

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/bookweather-chat/server/internal/agent/graph/observers"
	"github.com/bookweather-chat/server/internal/agent/model"
	errx "github.com/bookweather-chat/server/internal/core/error"
)

const nodeAnswerChatModel = "AnswerChatModel"

// messageStream adapts a chat model stream to model.TokenStream. Closing it
// releases the generation context.
type messageStream struct {
	sr        *schema.StreamReader[*schema.Message]
	cancel    context.CancelFunc
	modelName string
	once      sync.Once
}

func newMessageStream(sr *schema.StreamReader[*schema.Message], cancel context.CancelFunc, modelName string) *messageStream {
	return &messageStream{sr: sr, cancel: cancel, modelName: modelName}
}

func (s *messageStream) Recv() (string, error) {
	for {
		msg, err := s.sr.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", errx.Generation(err)
		}
		if cost, ok := model.NewUsageCost(s.modelName, msg); ok {
			observers.LogUsage(nodeAnswerChatModel, cost)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		return msg.Content, nil
	}
}

func (s *messageStream) Close() {
	s.once.Do(func() {
		s.sr.Close()
		s.cancel()
	})
}

// drain reads a stream to the end and closes it.
func drain(ts model.TokenStream) (string, error) {
	defer ts.Close()
	var b []byte
	for {
		chunk, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			return string(b), nil
		}
		if err != nil {
			return string(b), err
		}
		b = append(b, chunk...)
	}
}
