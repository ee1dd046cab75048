package answer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/bookweather-chat/server/internal/agent/graph/observers"
	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	errx "github.com/bookweather-chat/server/internal/core/error"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

// BookConfig configures the book answerer. Streaming selects
// ChatModel.Stream over ChatModel.Generate. A model call that fails before
// its first token is retried up to MaxRetries times.
type BookConfig struct {
	Index     model.PassageIndex
	ChatModel einomodel.BaseChatModel
	ModelName string
	Messages  *prompts.Messages

	TopK              int
	ExcerptMaxChars   int
	Streaming         bool
	CallTimeout       time.Duration
	GenerationTimeout time.Duration
	MaxRetries        int
	RetryInterval     time.Duration
}

// Book answers questions from the indexed corpus with inline citation markers.
type Book struct {
	cfg BookConfig
}

func NewBook(cfg BookConfig) (*Book, error) {
	if cfg.Index == nil {
		return nil, errors.New("book answerer: passage index is nil")
	}
	if cfg.ChatModel == nil {
		return nil, errors.New("book answerer: chat model is nil")
	}
	if cfg.Messages == nil {
		return nil, errors.New("book answerer: messages are nil")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	return &Book{cfg: cfg}, nil
}

// Draft retrieves passages and starts generation. The returned answer streams
// the model's text with its reference ids; Sources holds every retrieved
// passage by reference id. Failures before the first token are returned as
// errx.ErrRetrieval or errx.ErrGeneration.
func (b *Book) Draft(ctx context.Context, subQuery string) (*model.SubAnswer, error) {
	passages, err := b.retrieve(ctx, subQuery)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		logx.Debug().Str("query", subQuery).Msg("No passages found")
		return &model.SubAnswer{Prose: b.cfg.Messages.NotInText}, nil
	}

	tagged := make([]prompts.TaggedPassage, len(passages))
	sources := make(map[int]model.Source, len(passages))
	for i, p := range passages {
		ref := i + 1
		tagged[i] = prompts.TaggedPassage{Ref: ref, Locator: p.Locator, Text: p.Text}
		sources[ref] = model.Source{Excerpt: Excerpt(p.Text, b.cfg.ExcerptMaxChars), Locator: p.Locator}
	}

	genCtx, cancel := b.generationContext(ctx)
	msgs, err := prompts.RenderAnswerMessages(genCtx, b.cfg.Messages, subQuery, tagged)
	if err != nil {
		cancel()
		return nil, errx.Generation(err)
	}

	if b.cfg.Streaming {
		var sr *schema.StreamReader[*schema.Message]
		err := b.retry(genCtx, func() (err error) {
			sr, err = b.cfg.ChatModel.Stream(genCtx, msgs)
			return err
		})
		if err != nil {
			cancel()
			return nil, errx.Generation(err)
		}
		return &model.SubAnswer{Stream: newMessageStream(sr, cancel, b.cfg.ModelName), Sources: sources}, nil
	}

	defer cancel()
	var out *schema.Message
	err = b.retry(genCtx, func() (err error) {
		out, err = b.cfg.ChatModel.Generate(genCtx, msgs)
		return err
	})
	if err != nil {
		return nil, errx.Generation(err)
	}
	if out == nil {
		return nil, errx.Generation(errors.New("empty model response"))
	}
	if cost, ok := model.NewUsageCost(b.cfg.ModelName, out); ok {
		observers.LogUsage(nodeAnswerChatModel, cost)
	}
	return &model.SubAnswer{Prose: out.Content, Sources: sources}, nil
}

// Answer is Draft fully buffered: the prose is complete and Sources holds
// only the passages the prose cites.
func (b *Book) Answer(ctx context.Context, subQuery string) (*model.SubAnswer, error) {
	draft, err := b.Draft(ctx, subQuery)
	if err != nil {
		return nil, err
	}
	text, err := drain(draft.Open())
	if err != nil {
		if errors.Is(err, errx.ErrGeneration) {
			return nil, err
		}
		return nil, errx.Generation(err)
	}
	return &model.SubAnswer{Prose: text, Sources: UsedSources(text, draft.Sources)}, nil
}

func (b *Book) retrieve(ctx context.Context, query string) ([]model.Passage, error) {
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}
	passages, err := b.cfg.Index.Search(ctx, query, b.cfg.TopK)
	if err != nil {
		return nil, errx.Retrieval(fmt.Errorf("search %q: %w", query, err))
	}
	if len(passages) > b.cfg.TopK {
		passages = passages[:b.cfg.TopK]
	}
	return passages, nil
}

func (b *Book) generationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      nodeAnswerChatModel,
		Type:      b.cfg.ModelName,
		Component: components.ComponentOfChatModel,
	}, observers.NewAllCallbacks())
	if b.cfg.GenerationTimeout > 0 {
		return context.WithTimeout(ctx, b.cfg.GenerationTimeout)
	}
	return context.WithCancel(ctx)
}

// retry runs call until it succeeds, the retries are spent or ctx is done.
// Only the call that opens the reply is retried; a started stream is never
// replayed.
func (b *Book) retry(ctx context.Context, call func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.cfg.RetryInterval
	eb.MaxInterval = 5 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(b.cfg.MaxRetries)), ctx)

	op := func() error {
		err := call()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		logx.Warn().Err(err).Str("model", b.cfg.ModelName).Dur("retry_in", wait).Msg("Answer model call failed, retrying")
	})
}
