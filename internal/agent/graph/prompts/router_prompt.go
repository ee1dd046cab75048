package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Router output delimiters.
const (
	TupleDelimiter    = "<||>"
	RecordDelimiter   = "##"
	CompleteDelimiter = "<|COMPLETE|>"
)

//go:embed template/router_prompt.txt
var routerSystemPrompt string

// RenderRouterSystem renders the router system prompt via Eino prompt component.
// This triggers Prompt callbacks and returns the final system prompt string.
func RenderRouterSystem(ctx context.Context) (string, error) {
	// Replace known tokens only; the template is not a Go template.
	content := strings.NewReplacer(
		"{TD}", TupleDelimiter,
		"{RD}", RecordDelimiter,
		"{CD}", CompleteDelimiter,
	).Replace(routerSystemPrompt)

	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("router prompt callbacks: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("router prompt callbacks: empty result")
	}
	return msgs[0].Content, nil
}
