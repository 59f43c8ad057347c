// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Process modes selected with the -mode flag.
const (
	ModeServer = "server"
	ModeWorker = "worker"
	ModeAll    = "all"
)

// Queue backends.
const (
	QueueRedis    = "redis"
	QueuePostgres = "postgres"
	QueueMemory   = "memory"
)

type RuntimeConfig struct {
	Dev  bool
	Mode string
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr          string        `yaml:"addr"`
	MaxUploadMB   int64         `yaml:"max_upload_mb"`
	StreamTimeout time.Duration `yaml:"stream_timeout"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"` // empty disables auth on /api/v1
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // chat history ttl
}

type QueueConfig struct {
	Backend string `yaml:"backend"` // redis|postgres|memory
	Prefix  string `yaml:"prefix"`  // redis key prefix
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	IdleDelay   time.Duration `yaml:"idle_delay"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
}

type SessionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"` // 0 waits until the caller cancels
	Assist       bool          `yaml:"assist"`   // drain the queue in-process while waiting
}

type MediaConfig struct {
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	LongClip        time.Duration `yaml:"long_clip"`
	VADThreshold    float64       `yaml:"vad_threshold"`
	MinSpeech       time.Duration `yaml:"min_speech"`
	MinSilence      time.Duration `yaml:"min_silence"`
	SpeechPad       time.Duration `yaml:"speech_pad"`
	DecodeTimeout   time.Duration `yaml:"decode_timeout"`
	EnergyReference float64       `yaml:"energy_reference"`
}

type AIConfig struct {
	Provider        string `yaml:"provider"` // openai|gemini|noop
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	LLMModel        string `yaml:"llm_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent LLM calls

	ASR         ASRConfig         `yaml:"asr"`
	Translation TranslationConfig `yaml:"translation"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
}

type ASRConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	Models  map[string]string `yaml:"models"` // model_config -> served model name
}

type TranslationConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type ClassifierConfig struct {
	URL    string `yaml:"url"` // empty uses the LLM prompt classifier
	APIKey string `yaml:"api_key"`
}

type SearchConfig struct {
	APIKey   string        `yaml:"api_key"`
	Endpoint string        `yaml:"endpoint"`
	Site     string        `yaml:"site"`
	TopPages int           `yaml:"top_pages"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AssistantConfig struct {
	OpenLabels        []string      `yaml:"open_labels"`
	AnswerLanguage    string        `yaml:"answer_language"`
	FilterConcurrency int           `yaml:"filter_concurrency"`
	RateLimit         int           `yaml:"rate_limit"`
	RateWindow        time.Duration `yaml:"rate_window"`
}

type BotConfig struct {
	Token          string        `yaml:"token"`
	Workers        int           `yaml:"workers"`
	Language       string        `yaml:"language"`        // ui locale
	TranscribeLang string        `yaml:"transcribe_lang"` // main_lang for voice messages
	ModelConfig    string        `yaml:"model_config"`
	EditInterval   time.Duration `yaml:"edit_interval"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Session   SessionConfig   `yaml:"session"`
	Media     MediaConfig     `yaml:"media"`
	AI        AIConfig        `yaml:"ai"`
	Search    SearchConfig    `yaml:"search"`
	Assistant AssistantConfig `yaml:"assistant"`
	Bot       BotConfig       `yaml:"bot"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the yaml file at path, applies env overrides and defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(b, dev)
}

func parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.AI.OpenAIKey, "OPENAI_API_KEY")
	override(&cfg.AI.GeminiKey, "GEMINI_API_KEY")
	override(&cfg.Search.APIKey, "SEARCH_API_KEY")
	override(&cfg.Bot.Token, "TELEGRAM_BOT_TOKEN")
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		cfg.HTTP.MaxUploadMB = 100
	}
	if cfg.HTTP.StreamTimeout <= 0 {
		cfg.HTTP.StreamTimeout = 10 * time.Minute
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = QueueRedis
	}
	if cfg.Queue.Prefix == "" {
		cfg.Queue.Prefix = "asrq"
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.IdleDelay <= 0 {
		cfg.Worker.IdleDelay = time.Second
	}
	if cfg.Worker.JobTimeout <= 0 {
		cfg.Worker.JobTimeout = 2 * time.Minute
	}
	if cfg.Session.PollInterval <= 0 {
		cfg.Session.PollInterval = 250 * time.Millisecond
	}

	if cfg.Media.FFmpegPath == "" {
		cfg.Media.FFmpegPath = "ffmpeg"
	}
	if cfg.Media.LongClip <= 0 {
		cfg.Media.LongClip = 29 * time.Second
	}
	if cfg.Media.VADThreshold <= 0 {
		cfg.Media.VADThreshold = 0.5
	}
	if cfg.Media.MinSpeech <= 0 {
		cfg.Media.MinSpeech = 250 * time.Millisecond
	}
	if cfg.Media.MinSilence <= 0 {
		cfg.Media.MinSilence = 500 * time.Millisecond
	}
	if cfg.Media.SpeechPad <= 0 {
		cfg.Media.SpeechPad = 100 * time.Millisecond
	}
	if cfg.Media.DecodeTimeout <= 0 {
		cfg.Media.DecodeTimeout = time.Minute
	}

	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "openai"
	}
	if cfg.AI.LLMModel == "" {
		cfg.AI.LLMModel = "gpt-3.5-turbo-instruct"
	}
	if cfg.AI.EmbeddingModel == "" {
		cfg.AI.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if len(cfg.AI.ASR.Models) == 0 {
		cfg.AI.ASR.Models = map[string]string{"small": "whisper-1", "large": "whisper-1"}
	}
	if cfg.AI.Translation.Model == "" {
		cfg.AI.Translation.Model = "gpt-4o-mini"
	}

	if cfg.Search.Endpoint == "" {
		cfg.Search.Endpoint = "https://google.serper.dev/search"
	}
	if cfg.Search.TopPages <= 0 {
		cfg.Search.TopPages = 3
	}
	if cfg.Search.Timeout <= 0 {
		cfg.Search.Timeout = 15 * time.Second
	}

	if len(cfg.Assistant.OpenLabels) == 0 {
		cfg.Assistant.OpenLabels = []string{"open_qa"}
	}
	if cfg.Assistant.AnswerLanguage == "" {
		cfg.Assistant.AnswerLanguage = "the language of the question"
	}
	if cfg.Assistant.FilterConcurrency <= 0 {
		cfg.Assistant.FilterConcurrency = 4
	}
	if cfg.Assistant.RateLimit <= 0 {
		cfg.Assistant.RateLimit = 30
	}
	if cfg.Assistant.RateWindow <= 0 {
		cfg.Assistant.RateWindow = time.Minute
	}

	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Bot.Language == "" {
		cfg.Bot.Language = "en"
	}
	if cfg.Bot.TranscribeLang == "" {
		cfg.Bot.TranscribeLang = "german"
	}
	if cfg.Bot.ModelConfig == "" {
		cfg.Bot.ModelConfig = "small"
	}
	if cfg.Bot.EditInterval <= 0 {
		cfg.Bot.EditInterval = 1500 * time.Millisecond
	}
}

// Validate checks the settings required by the given process mode.
func (c *Config) Validate(mode string) error {
	switch mode {
	case ModeServer, ModeWorker, ModeAll:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	switch c.Queue.Backend {
	case QueueRedis:
		if c.Redis.URL == "" {
			return errors.New("redis.url is required")
		}
	case QueuePostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required")
		}
	case QueueMemory:
		if mode != ModeAll {
			return errors.New("queue.backend memory requires mode all")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}

	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAIKey == "" && c.AI.OpenAIBaseURL == "" {
			return errors.New("ai.openai_key or ai.openai_base_url is required")
		}
	case "gemini":
		if c.AI.GeminiKey == "" {
			return errors.New("ai.gemini_key is required")
		}
	case "noop":
		if !c.Runtime.Dev {
			return errors.New("ai.provider noop is only allowed with -dev")
		}
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
