package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/bookweather-chat/server/internal/agent/graph/observers"
	"github.com/bookweather-chat/server/internal/agent/graph/parsers"
	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

// NewInputConverterPreHandler records the query in the graph state.
func NewInputConverterPreHandler() func(context.Context, model.QueryInput, *model.RouterState) (model.QueryInput, error) {
	return func(ctx context.Context, in model.QueryInput, s *model.RouterState) (model.QueryInput, error) {
		s.RequestID = in.RequestID
		s.Query = strings.TrimSpace(in.Query)
		s.Decision = nil
		s.TotalCostUSD = 0
		logx.Debug().Str("request_id", in.RequestID).Msg("Router graph started")
		return in, nil
	}
}

// NewInputConverterNode renders the router prompt for the query.
func NewInputConverterNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, input model.QueryInput) ([]*schema.Message, error) {
		query := strings.TrimSpace(input.Query)
		if query == "" {
			return nil, fmt.Errorf("empty query")
		}

		systemPrompt, err := prompts.RenderRouterSystem(ctx)
		if err != nil {
			return nil, fmt.Errorf("render router system prompt: %w", err)
		}

		return []*schema.Message{
			schema.SystemMessage(systemPrompt),
			schema.UserMessage(query),
		}, nil
	})
}

// NewRouterChatModelPostHandler computes and logs usage cost for the router model.
func NewRouterChatModelPostHandler(modelName string) func(context.Context, *schema.Message, *model.RouterState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.RouterState) (*schema.Message, error) {
		cost, ok := model.NewUsageCost(modelName, out)
		if !ok {
			return out, nil
		}
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		out.Extra["usage_cost"] = cost.Extra()
		observers.LogUsage(NodeRouterChatModel, cost)

		state.TotalCostUSD += cost.TotalCost
		out.Extra["usage_cost_total_usd"] = state.TotalCostUSD
		return out, nil
	}
}

// NewRouteParserNode parses the router model output.
func NewRouteParserNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, resp *schema.Message) (model.RouteDecision, error) {
		if resp == nil {
			return model.RouteDecision{ParseErrors: []string{"nil router message"}}, nil
		}
		result, err := parsers.ParseRoute(resp.Content)
		if err != nil {
			logx.Error().Err(err).Msg("Error parsing router response")
			return model.RouteDecision{}, err
		}
		if result == nil {
			return model.RouteDecision{}, fmt.Errorf("parsing returned nil result")
		}
		return *result, nil
	})
}

// NewRouteParserPostHandler stores the parsed decision in the graph state.
func NewRouteParserPostHandler() func(context.Context, model.RouteDecision, *model.RouterState) (model.RouteDecision, error) {
	return func(ctx context.Context, out model.RouteDecision, state *model.RouterState) (model.RouteDecision, error) {
		decision := out
		state.Decision = &decision
		if len(out.ParseErrors) > 0 {
			logx.Debug().Strs("parse_errors", out.ParseErrors).Msg("Router output had malformed records")
		}
		return out, nil
	}
}

// NewRouteCondition sends unrecognized decisions to the keyword fallback.
func NewRouteCondition() func(context.Context, model.RouteDecision) (string, error) {
	return func(ctx context.Context, in model.RouteDecision) (string, error) {
		if in.Recognized {
			logx.Debug().Str("route", in.Route).Msg("Route recognized")
			return compose.END, nil
		}
		logx.Debug().Msg("Route not recognized - using keyword fallback")
		return NodeKeywordFallback, nil
	}
}

// NewKeywordFallbackNode classifies the stored query with the keyword heuristic.
func NewKeywordFallbackNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.RouteDecision) (model.RouteDecision, error) {
		var query string
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.RouterState) error {
			query = state.Query
			return nil
		})
		if err != nil {
			return model.RouteDecision{}, fmt.Errorf("failed to access state: %w", err)
		}

		out := KeywordDecision(query)
		out.ParseErrors = in.ParseErrors
		return out, nil
	})
}
