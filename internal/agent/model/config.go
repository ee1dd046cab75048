package model

import "time"

// ================ Config ================
type RouterModelConfig struct {
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"256"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0"`
}

type AnswerModelConfig struct {
	Model       string  `envconfig:"ANSWER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ANSWER_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"ANSWER_TEMPERATURE" default:"0.2"`
	Streaming   bool    `envconfig:"ANSWER_STREAMING" default:"true"`
	MaxRetries  int     `envconfig:"ANSWER_MAX_RETRIES" default:"2"`
}

type RetrievalConfig struct {
	TopK             int    `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	ExcerptMaxChars  int    `envconfig:"RETRIEVAL_EXCERPT_MAX_CHARS" default:"600"`
	Backend          string `envconfig:"INDEX_BACKEND" default:"memory"`
	PassagesFile     string `envconfig:"INDEX_PASSAGES_FILE" default:"data/passages.json"`
	SQLitePath       string `envconfig:"INDEX_SQLITE_PATH" default:"data/passages.db"`
	QdrantHost       string `envconfig:"INDEX_QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"INDEX_QDRANT_PORT" default:"6334"`
	QdrantCollection string `envconfig:"INDEX_QDRANT_COLLECTION" default:"book_passages"`
	PostgresDSN      string `envconfig:"INDEX_PG_DSN"`
	Embedder         string `envconfig:"EMBEDDER" default:"gemini"`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	OllamaHost       string `envconfig:"OLLAMA_HOST" default:"http://localhost:11434"`
}

type WeatherConfig struct {
	APIKey     string        `envconfig:"OPENWEATHERMAP_API_KEY"`
	BaseURL    string        `envconfig:"WEATHER_BASE_URL" default:"https://api.openweathermap.org"`
	MaxRetries int           `envconfig:"WEATHER_MAX_RETRIES" default:"2"`
	CacheTTL   time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"10m"`
}

type TimeoutConfig struct {
	Call       time.Duration `envconfig:"CALL_TIMEOUT" default:"20s"`
	Generation time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
}

type ChatLogConfig struct {
	TTL        time.Duration `envconfig:"CHATLOG_TTL" default:"168h"`
	MaxEntries int           `envconfig:"CHATLOG_MAX_ENTRIES" default:"1000"`
}

type ResponseConfig struct {
	Locale string `envconfig:"RESPONSE_LOCALE" default:"en"`
}
