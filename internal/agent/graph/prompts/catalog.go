package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/bookweather-chat/server/internal/agent/model"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

// DefaultLocale is used for unknown locale tags.
const DefaultLocale = "en"

//go:embed template/messages.yaml
var messagesYAML []byte

// Messages holds the user-facing sentences of one locale.
type Messages struct {
	Language           string `yaml:"language"`
	Help               string `yaml:"help"`
	NotInText          string `yaml:"not_in_text"`
	Unknown            string `yaml:"unknown"`
	PlaceNotFound      string `yaml:"place_not_found"`
	Weather            string `yaml:"weather"`
	BookUnavailable    string `yaml:"book_unavailable"`
	WeatherUnavailable string `yaml:"weather_unavailable"`
	Summary            string `yaml:"summary"`
	GenerationFailed   string `yaml:"generation_failed"`

	locale     string
	placeTpl   *template.Template
	weatherTpl *template.Template
	summaryTpl *template.Template
}

// Catalog maps locale tags to their messages.
type Catalog struct {
	locales map[string]*Messages
}

// LoadCatalog parses the embedded message catalog.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(messagesYAML)
}

// ParseCatalog parses a YAML catalog keyed by locale tag.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[string]*Messages
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode message catalog: %w", err)
	}
	if _, ok := raw[DefaultLocale]; !ok {
		return nil, fmt.Errorf("message catalog has no %q locale", DefaultLocale)
	}
	for tag, m := range raw {
		if m == nil {
			return nil, fmt.Errorf("message catalog: locale %q is empty", tag)
		}
		m.locale = tag
		var err error
		if m.placeTpl, err = template.New(tag + ".place_not_found").Parse(m.PlaceNotFound); err != nil {
			return nil, fmt.Errorf("message catalog %s: %w", tag, err)
		}
		if m.weatherTpl, err = template.New(tag + ".weather").Parse(m.Weather); err != nil {
			return nil, fmt.Errorf("message catalog %s: %w", tag, err)
		}
		if m.summaryTpl, err = template.New(tag + ".summary").Parse(m.Summary); err != nil {
			return nil, fmt.Errorf("message catalog %s: %w", tag, err)
		}
	}
	return &Catalog{locales: raw}, nil
}

// MustLoadCatalog is LoadCatalog that panics on error.
func MustLoadCatalog() *Catalog {
	c, err := LoadCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// Locale returns the messages for tag ("de", "de-DE", ...), falling back to English.
func (c *Catalog) Locale(tag string) *Messages {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if m, ok := c.locales[tag]; ok {
		return m
	}
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		if m, ok := c.locales[tag[:i]]; ok {
			return m
		}
	}
	return c.locales[DefaultLocale]
}

// RenderWeather renders the deterministic weather sentence.
func (m *Messages) RenderWeather(r model.WeatherReading) string {
	return m.execute(m.weatherTpl, r)
}

// RenderPlaceNotFound renders the sentence for an unresolvable place.
func (m *Messages) RenderPlaceNotFound(place string) string {
	return m.execute(m.placeTpl, struct{ Place string }{Place: place})
}

// RenderSummary renders the summary line for count cited passages.
func (m *Messages) RenderSummary(count int) string {
	return m.execute(m.summaryTpl, struct{ Count int }{Count: count})
}

func (m *Messages) execute(tpl *template.Template, data any) string {
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		logx.Error().Err(err).Str("locale", m.locale).Str("template", tpl.Name()).Msg("failed to render message")
		return tpl.Root.String()
	}
	return b.String()
}
