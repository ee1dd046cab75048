// Package fakes provides in-memory collaborators for tests.
package fakes

import (
	"context"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel is a scripted einomodel.BaseChatModel.
type ChatModel struct {
	mu sync.Mutex

	// Chunks is the reply, streamed chunk by chunk or joined for Generate.
	Chunks []string
	// Err fails the call before any output.
	Err error
	// ErrTimes limits Err to the first ErrTimes calls. Zero fails every call.
	ErrTimes int
	// StreamErr is delivered after Chunks when streaming.
	StreamErr error
	// Usage is attached to Generate replies and the last streamed chunk.
	Usage *schema.TokenUsage

	inputs [][]*schema.Message
}

var _ einomodel.BaseChatModel = (*ChatModel)(nil)

// Reply returns a ChatModel answering with chunks.
func Reply(chunks ...string) *ChatModel {
	return &ChatModel{Chunks: chunks}
}

// record stores the input and returns the error this call fails with.
func (m *ChatModel) record(input []*schema.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	if m.ErrTimes > 0 && len(m.inputs) > m.ErrTimes {
		return nil
	}
	return m.Err
}

// Calls returns the number of model calls.
func (m *ChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// LastInput returns the messages of the most recent call.
func (m *ChatModel) LastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if err := m.record(input); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := schema.AssistantMessage(strings.Join(m.Chunks, ""), nil)
	if m.Usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: m.Usage}
	}
	return msg, nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := m.record(input); err != nil {
		return nil, err
	}
	sr, sw := schema.Pipe[*schema.Message](len(m.Chunks) + 1)
	chunks, streamErr, usage := m.Chunks, m.StreamErr, m.Usage
	go func() {
		defer sw.Close()
		for i, c := range chunks {
			msg := schema.AssistantMessage(c, nil)
			if usage != nil && i == len(chunks)-1 {
				msg.ResponseMeta = &schema.ResponseMeta{Usage: usage}
			}
			select {
			case <-ctx.Done():
				sw.Send(nil, ctx.Err())
				return
			default:
			}
			if closed := sw.Send(msg, nil); closed {
				return
			}
		}
		if streamErr != nil {
			sw.Send(nil, streamErr)
		}
	}()
	return sr, nil
}
