package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	"github.com/bookweather-chat/server/internal/agent/graph/nodes"
	"github.com/bookweather-chat/server/internal/agent/graph/observers"
	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/core"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

const maxRunSteps = 10

// RouterConfig holds everything needed to build the intent router.
type RouterConfig struct {
	ChatModel einomodel.BaseChatModel
	ModelName string
	// Timeout bounds one classification; zero means no extra bound.
	Timeout time.Duration
}

// Router classifies queries into intents with the router graph.
type Router struct {
	runnable compose.Runnable[model.QueryInput, model.RouteDecision]
	timeout  time.Duration
}

// GraphBuilder handles the construction of the router graph
type GraphBuilder struct {
	config *RouterConfig
	graph  *compose.Graph[model.QueryInput, model.RouteDecision]
}

// NewRouter builds and compiles the router graph.
func NewRouter(ctx context.Context, cfg RouterConfig) (*Router, error) {
	runnable, err := BuildGraph(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	logx.Debug().Str("model", cfg.ModelName).Msg("Router graph built successfully")
	return &Router{runnable: runnable, timeout: cfg.Timeout}, nil
}

// Classify returns the intent of query. A failing router model is not fatal:
// the keyword heuristic decides instead. Only a cancelled ctx is returned as an error.
func (r *Router) Classify(ctx context.Context, query string) (model.Intent, error) {
	query = strings.TrimSpace(query)

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	decision, err := r.runnable.Invoke(callCtx, model.QueryInput{RequestID: core.RequestID(ctx), Query: query}, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.NoIntent(), ctxErr
		}
		logx.Warn().Err(err).Msg("Router failed - using keyword fallback")
		decision = nodes.KeywordDecision(query)
	}

	intent := decision.Intent(query)
	logx.Debug().
		Str("request_id", core.RequestID(ctx)).
		Str("intent", intent.String()).
		Bool("fallback", decision.Fallback).
		Msg("Query classified")
	return intent, nil
}

// BuildGraph constructs and returns the compiled router graph
func BuildGraph(ctx context.Context, config *RouterConfig) (compose.Runnable[model.QueryInput, model.RouteDecision], error) {
	if config == nil {
		return nil, fmt.Errorf("router config is nil")
	}
	if config.ChatModel == nil {
		return nil, errors.New("router chat model is not initialized")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.QueryInput, model.RouteDecision](
			compose.WithGenLocalState(func(ctx context.Context) *model.RouterState {
				return &model.RouterState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	if err := b.graph.AddLambdaNode(nodes.NodeInputConverter,
		nodes.NewInputConverterNode(),
		compose.WithStatePreHandler(nodes.NewInputConverterPreHandler()),
	); err != nil {
		return fmt.Errorf("add %s: %w", nodes.NodeInputConverter, err)
	}

	if err := b.graph.AddChatModelNode(nodes.NodeRouterChatModel,
		b.config.ChatModel,
		compose.WithStatePostHandler(nodes.NewRouterChatModelPostHandler(b.config.ModelName)),
	); err != nil {
		return fmt.Errorf("add %s: %w", nodes.NodeRouterChatModel, err)
	}

	if err := b.graph.AddLambdaNode(nodes.NodeRouteParser,
		nodes.NewRouteParserNode(),
		compose.WithStatePostHandler(nodes.NewRouteParserPostHandler()),
	); err != nil {
		return fmt.Errorf("add %s: %w", nodes.NodeRouteParser, err)
	}

	if err := b.graph.AddLambdaNode(nodes.NodeKeywordFallback,
		nodes.NewKeywordFallbackNode(),
	); err != nil {
		return fmt.Errorf("add %s: %w", nodes.NodeKeywordFallback, err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeInputConverter},
		{nodes.NodeInputConverter, nodes.NodeRouterChatModel},
		{nodes.NodeRouterChatModel, nodes.NodeRouteParser},
		{nodes.NodeKeywordFallback, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	routeBranch := compose.NewGraphBranch(
		nodes.NewRouteCondition(),
		map[string]bool{
			compose.END:               true,
			nodes.NodeKeywordFallback: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeRouteParser, routeBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding route branch")
		return fmt.Errorf("error adding route branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.QueryInput, model.RouteDecision], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxRunSteps), compose.WithGraphName("IntentRouter"))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
