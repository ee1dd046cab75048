package parsers

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 16 * 1024
	maxRecords    = 16
	maxTupleLen   = 2 * 1024
	maxQueryLen   = 1024
	maxErrSnippet = 200
)

var knownRoutes = map[string]bool{
	"book":    true,
	"weather": true,
	"mixed":   true,
	"none":    true,
}

type rawTuple struct {
	Type  string
	Parts []string
}

func parseRawTuple(s string) (*rawTuple, error) {
	if s == "" {
		return nil, fmt.Errorf("empty tuple")
	}
	if len(s) > maxTupleLen {
		return nil, fmt.Errorf("tuple too large")
	}

	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("invalid tuple parens")
	}
	// remove the outermost parens only
	inner := s[1 : len(s)-1]
	parts := strings.SplitN(inner, prompts.TupleDelimiter, 2)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid tuple parts")
	}
	return &rawTuple{Type: strings.ToLower(strings.TrimSpace(parts[0])), Parts: parts}, nil
}

// ParseRoute parses router model output of the form
//
//	(route<||>mixed)##(book<||>...)##(weather<||>...)<|COMPLETE|>
//
// Malformed records are skipped and reported in ParseErrors. The decision is
// Recognized only when a known route label was found.
func ParseRoute(content string) (resp *model.RouteDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "route_parser").Msgf("panic recovered: %v", r)
			resp = &model.RouteDecision{ParseErrors: []string{"parser panic"}}
			err = nil
		}
	}()

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "route_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}
	// honor completion delimiter if present
	if idx := strings.Index(content, prompts.CompleteDelimiter); idx >= 0 {
		content = content[:idx]
	}
	content = stripCodeFence(content)

	resp = &model.RouteDecision{}
	addErr := func(msg string) {
		resp.ParseErrors = append(resp.ParseErrors, msg)
	}

	records := strings.Split(content, prompts.RecordDelimiter)
	processed := 0
	for _, rec := range records {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		if processed >= maxRecords {
			addErr("records capped")
			break
		}
		processed++

		rt, rerr := parseRawTuple(rec)
		if rerr != nil {
			addErr(fmt.Sprintf("bad_record: %s", safeSnippet(rec)))
			continue
		}
		value := strings.TrimSpace(rt.Parts[1])
		if !utf8.ValidString(value) {
			addErr(rt.Type + ": invalid utf8")
			continue
		}

		switch rt.Type {
		case "route":
			label := strings.ToLower(value)
			if !knownRoutes[label] {
				addErr("route: unknown label " + safeSnippet(label))
				continue
			}
			if resp.Route == "" {
				resp.Route = label
			}
		case "book":
			if q, ok := cleanQuery(value); ok && resp.BookQuery == "" {
				resp.BookQuery = q
			}
		case "weather":
			if q, ok := cleanQuery(value); ok && resp.WeatherQuery == "" {
				resp.WeatherQuery = q
			}
		default:
			addErr("unknown tuple type")
		}
	}

	resp.Recognized = resp.Route != ""
	return resp, nil
}

// --- helpers ---

func cleanQuery(s string) (string, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" || len(s) > maxQueryLen {
		return "", false
	}
	return s, true
}

// stripCodeFence removes a surrounding markdown code fence some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
