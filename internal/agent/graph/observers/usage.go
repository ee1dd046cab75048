package observers

import (
	"github.com/bookweather-chat/server/internal/agent/model"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

// LogUsage logs the priced token usage of one model call.
func LogUsage(node string, cost model.UsageCost) {
	logx.Debug().
		Str("node", node).
		Str("model", cost.Model).
		Int("prompt_tokens", cost.PromptTokens).
		Int("completion_tokens", cost.CompletionTokens).
		Int("total_tokens", cost.TotalTokens).
		Float64("input_cost_usd", cost.InputCost).
		Float64("output_cost_usd", cost.OutputCost).
		Float64("total_cost_usd", cost.TotalCost).
		Msg("LLM usage")
}
