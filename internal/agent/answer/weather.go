package answer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	errx "github.com/bookweather-chat/server/internal/core/error"
)

var placeMarkers = []string{" in ", " at ", " for "}

// trailing phrases that qualify time rather than place
var timeSuffixes = []string{
	"right now", "at the moment", "currently", "today", "tonight", "now",
	"this morning", "this afternoon", "this evening",
}

// ExtractPlace returns the place a weather sub-query asks about: the text
// after the first of " in ", " at ", " for ", without trailing time phrases
// and punctuation. Without a marker the whole query is used.
func ExtractPlace(query string) string {
	lower := strings.ToLower(query)
	place := query
	for _, marker := range placeMarkers {
		if i := strings.Index(lower, marker); i >= 0 {
			place = query[i+len(marker):]
			break
		}
	}
	if i := strings.IndexAny(place, ";?!"); i >= 0 {
		place = place[:i]
	}
	place = trimPlace(place)
	for changed := true; changed; {
		changed = false
		lp := strings.ToLower(place)
		for _, suffix := range timeSuffixes {
			if lp == suffix {
				return ""
			}
			if strings.HasSuffix(lp, " "+suffix) {
				place = trimPlace(place[:len(place)-len(suffix)])
				changed = true
				break
			}
		}
	}
	return place
}

func trimPlace(s string) string {
	return strings.Trim(strings.TrimSpace(s), "?!. ,")
}

// WeatherConfig configures the weather answerer.
type WeatherConfig struct {
	Lookup      model.WeatherLookup
	Messages    *prompts.Messages
	CallTimeout time.Duration
}

// Weather answers current-conditions questions with one deterministic sentence.
type Weather struct {
	cfg WeatherConfig
}

func NewWeather(cfg WeatherConfig) (*Weather, error) {
	if cfg.Lookup == nil {
		return nil, errors.New("weather answerer: lookup is nil")
	}
	if cfg.Messages == nil {
		return nil, errors.New("weather answerer: messages are nil")
	}
	return &Weather{cfg: cfg}, nil
}

// Answer fails with errx.ErrPlaceNotFound or errx.ErrProvider. The answer
// carries no citations.
func (w *Weather) Answer(ctx context.Context, subQuery string) (*model.SubAnswer, error) {
	place := ExtractPlace(subQuery)
	if place == "" {
		return nil, errx.PlaceNotFound(strings.TrimSpace(subQuery))
	}

	if w.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
		defer cancel()
	}

	loc, err := w.cfg.Lookup.Geocode(ctx, place)
	if err != nil {
		return nil, providerError(err)
	}
	reading, err := w.cfg.Lookup.CurrentConditions(ctx, loc)
	if err != nil {
		return nil, providerError(err)
	}
	if reading.Place == "" {
		reading.Place = loc.Name
	}
	if reading.Country == "" {
		reading.Country = loc.Country
	}

	return &model.SubAnswer{Prose: w.cfg.Messages.RenderWeather(reading)}, nil
}

func providerError(err error) error {
	if errors.Is(err, errx.ErrPlaceNotFound) || errors.Is(err, errx.ErrProvider) {
		return err
	}
	return errx.Provider(err)
}
