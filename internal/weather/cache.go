package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookweather-chat/server/internal/agent/model"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

// geocodeTTL bounds how long a resolved place is reused.
const geocodeTTL = 24 * time.Hour

// CachedLookup serves repeated lookups from Redis. Cache failures are
// logged and the request goes to the wrapped lookup.
type CachedLookup struct {
	next model.WeatherLookup
	rdb  redis.Cmdable
	ttl  time.Duration
}

// NewCachedLookup caches current conditions for ttl and geocoding results for a day.
func NewCachedLookup(next model.WeatherLookup, rdb redis.Cmdable, ttl time.Duration) *CachedLookup {
	return &CachedLookup{next: next, rdb: rdb, ttl: ttl}
}

func geocodeKey(place string) string {
	return "weather:geo:" + strings.ToLower(strings.TrimSpace(place))
}

func currentKey(c model.Coordinates) string {
	return fmt.Sprintf("weather:current:%.3f,%.3f", c.Lat, c.Lon)
}

func (l *CachedLookup) Geocode(ctx context.Context, place string) (model.Location, error) {
	key := geocodeKey(place)
	var loc model.Location
	if l.get(ctx, key, &loc) {
		return loc, nil
	}
	loc, err := l.next.Geocode(ctx, place)
	if err != nil {
		return model.Location{}, err
	}
	l.set(ctx, key, loc, geocodeTTL)
	return loc, nil
}

func (l *CachedLookup) CurrentConditions(ctx context.Context, loc model.Location) (model.WeatherReading, error) {
	key := currentKey(loc.Coordinates)
	var reading model.WeatherReading
	if l.get(ctx, key, &reading) {
		return reading, nil
	}
	reading, err := l.next.CurrentConditions(ctx, loc)
	if err != nil {
		return model.WeatherReading{}, err
	}
	if l.ttl > 0 {
		l.set(ctx, key, reading, l.ttl)
	}
	return reading, nil
}

func (l *CachedLookup) get(ctx context.Context, key string, out any) bool {
	raw, err := l.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logx.Warn().Err(err).Str("key", key).Msg("weather cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("weather cache entry is corrupt")
		return false
	}
	logx.Debug().Str("key", key).Msg("weather cache hit")
	return true
}

func (l *CachedLookup) set(ctx context.Context, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("failed to marshal weather cache entry")
		return
	}
	if err := l.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("weather cache write failed")
	}
}

var _ model.WeatherLookup = (*CachedLookup)(nil)
