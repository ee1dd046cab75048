package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/answer_system.txt
var answerSystemPrompt string

//go:embed template/answer_user.txt
var answerUserPrompt string

// TaggedPassage is a passage as shown to the answer model.
type TaggedPassage struct {
	Ref     int
	Locator string
	Text    string
}

// RenderAnswerMessages renders the grounded answer prompt and triggers prompt callbacks.
func RenderAnswerMessages(ctx context.Context, msgs *Messages, question string, passages []TaggedPassage) ([]*schema.Message, error) {
	if msgs == nil {
		return nil, fmt.Errorf("answer prompt: messages catalog is nil")
	}
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(answerSystemPrompt),
		schema.UserMessage(answerUserPrompt),
	)
	out, err := tpl.Format(ctx, map[string]any{
		"Unknown":  msgs.Unknown,
		"Language": msgs.Language,
		"Passages": passages,
		"Question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("answer prompt render: %w", err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("answer prompt render: expected 2 messages, got %d", len(out))
	}
	return out, nil
}
