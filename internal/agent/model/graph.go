package model

// RouterState stores per-invocation state for the router graph.
// It is registered via compose.WithGenLocalState and touched only inside
// state handlers or compose.ProcessState.
type RouterState struct {
	RequestID string
	Query     string
	Decision  *RouteDecision

	// Accumulated LLM cost (USD) for this classification
	TotalCostUSD float64
}

// QueryInput is the router graph input.
type QueryInput struct {
	RequestID string `json:"request_id"`
	Query     string `json:"query"`
}

// RouteDecision is the parsed router model output.
type RouteDecision struct {
	Route        string
	BookQuery    string
	WeatherQuery string
	// Recognized is false when the model output carried no usable route.
	Recognized   bool
	Fallback     bool
	ParseErrors  []string
}

// Intent turns the decision into an Intent. Missing sub-queries fall back to
// the original query; a route label contradicted by a sub-query leans to Mixed.
func (d RouteDecision) Intent(query string) Intent {
	or := func(s string) string {
		if s == "" {
			return query
		}
		return s
	}
	switch d.Route {
	case "book":
		if d.WeatherQuery != "" {
			return MixedIntent(or(d.BookQuery), d.WeatherQuery)
		}
		return BookIntent(or(d.BookQuery))
	case "weather":
		if d.BookQuery != "" {
			return MixedIntent(d.BookQuery, or(d.WeatherQuery))
		}
		return WeatherIntent(or(d.WeatherQuery))
	case "mixed":
		if d.BookQuery == "" && d.WeatherQuery == "" {
			return MixedIntent(query, query)
		}
		return MixedIntent(d.BookQuery, d.WeatherQuery)
	default:
		return NoIntent()
	}
}
