package nodes

import (
	"strings"

	"github.com/bookweather-chat/server/internal/agent/model"
)

// Router graph node names.
const (
	NodeInputConverter  = "InputConverter"
	NodeRouterChatModel = "RouterChatModel"
	NodeRouteParser     = "RouteParser"
	NodeKeywordFallback = "KeywordFallback"
)

var weatherKeywords = []string{"weather", "forecast", "temperature", "rain", "wind", "humid", "snow"}

// KeywordIntent classifies a query without a model. Weather keywords route to
// Mixed so the book is still consulted; everything else goes to the book.
func KeywordIntent(query string) model.Intent {
	q := strings.ToLower(query)
	for _, kw := range weatherKeywords {
		if strings.Contains(q, kw) {
			return model.MixedIntent(query, query)
		}
	}
	return model.BookIntent(query)
}

// KeywordDecision is KeywordIntent expressed as a route decision.
func KeywordDecision(query string) model.RouteDecision {
	in := KeywordIntent(query)
	d := model.RouteDecision{Route: in.Kind().String(), Fallback: true}
	d.BookQuery, _ = in.BookQuery()
	d.WeatherQuery, _ = in.WeatherQuery()
	return d
}
