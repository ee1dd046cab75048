package model

import "strings"

// IntentKind enumerates the routes a query can take.
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentBook
	IntentWeather
	IntentMixed
)

// String returns the label used in logs and router output.
func (k IntentKind) String() string {
	switch k {
	case IntentBook:
		return "book"
	case IntentWeather:
		return "weather"
	case IntentMixed:
		return "mixed"
	default:
		return "none"
	}
}

// Intent is the classification of one query. It is built once through the
// constructors below and never mutated.
type Intent struct {
	kind    IntentKind
	book    string
	weather string
}

// NoIntent is the intent of a query that needs neither the book nor the weather.
func NoIntent() Intent {
	return Intent{kind: IntentNone}
}

// BookIntent routes the whole query to the book answerer.
func BookIntent(query string) Intent {
	return Intent{kind: IntentBook, book: strings.TrimSpace(query)}
}

// WeatherIntent routes the whole query to the weather answerer.
func WeatherIntent(query string) Intent {
	return Intent{kind: IntentWeather, weather: strings.TrimSpace(query)}
}

// MixedIntent carries two self-contained sub-queries. Either half may be empty,
// in which case that answerer is not invoked. Two empty halves yield NoIntent.
func MixedIntent(book, weather string) Intent {
	book, weather = strings.TrimSpace(book), strings.TrimSpace(weather)
	if book == "" && weather == "" {
		return NoIntent()
	}
	return Intent{kind: IntentMixed, book: book, weather: weather}
}

func (i Intent) Kind() IntentKind {
	return i.kind
}

// BookQuery returns the book sub-query, if any.
func (i Intent) BookQuery() (string, bool) {
	switch i.kind {
	case IntentBook, IntentMixed:
		return i.book, i.book != ""
	default:
		return "", false
	}
}

// WeatherQuery returns the weather sub-query, if any.
func (i Intent) WeatherQuery() (string, bool) {
	switch i.kind {
	case IntentWeather, IntentMixed:
		return i.weather, i.weather != ""
	default:
		return "", false
	}
}

func (i Intent) String() string {
	return i.kind.String()
}
