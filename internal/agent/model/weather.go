package model

import "time"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a geocoded place.
type Location struct {
	Name        string      `json:"name"`
	Country     string      `json:"country"`
	Coordinates Coordinates `json:"coordinates"`
}

// WeatherReading is one current-conditions observation.
type WeatherReading struct {
	Place        string      `json:"place"`
	Country      string      `json:"country"`
	Coordinates  Coordinates `json:"coordinates"`
	TemperatureC float64     `json:"temperature_c"`
	Description  string      `json:"description"`
	Humidity     int         `json:"humidity"`
	WindSpeedMS  float64     `json:"wind_speed_ms"`
	ObservedAt   time.Time   `json:"observed_at"`
}
