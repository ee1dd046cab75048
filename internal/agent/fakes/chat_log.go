package fakes

import (
	"context"
	"sync"

	"github.com/bookweather-chat/server/internal/agent/model"
)

// ChatLog keeps entries in memory.
type ChatLog struct {
	mu      sync.Mutex
	entries []model.ChatLogEntry
	Err     error
}

func (c *ChatLog) Save(ctx context.Context, entry model.ChatLogEntry) error {
	if c.Err != nil {
		return c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *ChatLog) Recent(ctx context.Context, limit int) ([]model.ChatLogEntry, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChatLogEntry, 0, len(c.entries))
	for i := len(c.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, c.entries[i])
	}
	return out, nil
}

// Entries returns every saved entry in insertion order.
func (c *ChatLog) Entries() []model.ChatLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ChatLogEntry(nil), c.entries...)
}
