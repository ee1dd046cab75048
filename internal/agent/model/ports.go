package model

import (
	"context"
	"time"
)

// PassageIndex searches the indexed corpus. Results are ordered by score
// descending, ties broken by document position.
type PassageIndex interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

// WeatherLookup resolves places and fetches current conditions.
// Geocode fails with errx.ErrPlaceNotFound for unknown places.
type WeatherLookup interface {
	Geocode(ctx context.Context, place string) (Location, error)
	CurrentConditions(ctx context.Context, loc Location) (WeatherReading, error)
}

// Embedder turns text into a dense vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatLogEntry records one answered request.
type ChatLogEntry struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id,omitempty"`
	Query     string          `json:"query"`
	Intent    string          `json:"intent"`
	Response  string          `json:"response"`
	Citations []CitationEntry `json:"citations,omitempty"`
	Failed    bool            `json:"failed,omitempty"`
	// State is the final session state, e.g. "done" or "errored".
	State     string          `json:"state"`
	Duration  time.Duration   `json:"duration"`
	CreatedAt time.Time       `json:"created_at"`
}

type ChatLogRepository interface {
	// Save appends an entry to the log.
	Save(ctx context.Context, entry ChatLogEntry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]ChatLogEntry, error)
}
