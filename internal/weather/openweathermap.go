// Package weather adapts OpenWeatherMap to model.WeatherLookup.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bookweather-chat/server/internal/agent/model"
	errx "github.com/bookweather-chat/server/internal/core/error"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

const (
	geocodePath = "/geo/1.0/direct"
	currentPath = "/data/2.5/weather"
)

// Client queries the OpenWeatherMap geocoding and current weather APIs.
// Transient failures (network errors, 429 and 5xx) are retried with
// exponential backoff up to maxRetries times.
type Client struct {
	baseURL         string
	apiKey          string
	maxRetries      int
	initialInterval time.Duration
	client          *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRetryInterval sets the first backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.initialInterval = d }
}

func NewClient(cfg model.WeatherConfig, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("weather: missing OPENWEATHERMAP_API_KEY")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openweathermap.org"
	}
	c := &Client{
		baseURL:         base,
		apiKey:          cfg.APIKey,
		maxRetries:      max(cfg.MaxRetries, 0),
		initialInterval: 200 * time.Millisecond,
		client:          &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type geocodeItem struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Geocode resolves place to its best match. An empty result is errx.ErrPlaceNotFound.
func (c *Client) Geocode(ctx context.Context, place string) (model.Location, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("limit", "1")

	var items []geocodeItem
	if err := c.getJSON(ctx, geocodePath, q, &items); err != nil {
		return model.Location{}, errx.Provider(fmt.Errorf("geocode %q: %w", place, err))
	}
	if len(items) == 0 {
		return model.Location{}, errx.PlaceNotFound(place)
	}
	it := items[0]
	return model.Location{
		Name:        it.Name,
		Country:     it.Country,
		Coordinates: model.Coordinates{Lat: it.Lat, Lon: it.Lon},
	}, nil
}

type currentResponse struct {
	Name string `json:"name"`
	Dt   int64  `json:"dt"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// CurrentConditions fetches the current reading at loc in metric units.
func (c *Client) CurrentConditions(ctx context.Context, loc model.Location) (model.WeatherReading, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Coordinates.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(loc.Coordinates.Lon, 'f', -1, 64))
	q.Set("units", "metric")

	var resp currentResponse
	if err := c.getJSON(ctx, currentPath, q, &resp); err != nil {
		return model.WeatherReading{}, errx.Provider(fmt.Errorf("current weather for %q: %w", loc.Name, err))
	}

	reading := model.WeatherReading{
		Place:        loc.Name,
		Country:      loc.Country,
		Coordinates:  loc.Coordinates,
		TemperatureC: resp.Main.Temp,
		Humidity:     resp.Main.Humidity,
		WindSpeedMS:  resp.Wind.Speed,
		Description:  "unknown conditions",
	}
	if reading.Place == "" {
		reading.Place = resp.Name
	}
	if reading.Country == "" {
		reading.Country = resp.Sys.Country
	}
	if len(resp.Weather) > 0 && resp.Weather[0].Description != "" {
		reading.Description = resp.Weather[0].Description
	}
	if resp.Dt > 0 {
		reading.ObservedAt = time.Unix(resp.Dt, 0).UTC()
	}
	return reading, nil
}

type statusError struct {
	path   string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.path, e.status, http.StatusText(e.status))
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("appid", c.apiKey)
	endpoint := c.baseURL + path + "?" + q.Encode()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			// url.Error carries the query string, which holds the API key
			var uerr *url.Error
			if errors.As(err, &uerr) {
				err = fmt.Errorf("%s %s: %w", uerr.Op, path, uerr.Err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusMultipleChoices {
			serr := &statusError{path: path, status: resp.StatusCode}
			if retryable(resp.StatusCode) {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", path, err))
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	eb.MaxInterval = 5 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxRetries)), ctx)

	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		logx.Warn().Err(err).Str("path", path).Dur("retry_in", wait).Msg("Weather provider call failed, retrying")
	})
}

var _ model.WeatherLookup = (*Client)(nil)
