package fakes

import (
	"context"
	"strings"

	"github.com/bookweather-chat/server/internal/agent/model"
	errx "github.com/bookweather-chat/server/internal/core/error"
)

// WeatherLookup resolves places from a fixed table.
type WeatherLookup struct {
	Readings map[string]model.WeatherReading
	Err      error
}

func (w *WeatherLookup) Geocode(ctx context.Context, place string) (model.Location, error) {
	if w.Err != nil {
		return model.Location{}, w.Err
	}
	r, ok := w.Readings[strings.ToLower(place)]
	if !ok {
		return model.Location{}, errx.PlaceNotFound(place)
	}
	return model.Location{Name: r.Place, Country: r.Country, Coordinates: r.Coordinates}, nil
}

func (w *WeatherLookup) CurrentConditions(ctx context.Context, loc model.Location) (model.WeatherReading, error) {
	if w.Err != nil {
		return model.WeatherReading{}, w.Err
	}
	if err := ctx.Err(); err != nil {
		return model.WeatherReading{}, err
	}
	return w.Readings[strings.ToLower(loc.Name)], nil
}
