package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local-openai-compatible"
)

type Config struct {
	Provider       string  `yaml:"provider"`
	APIBaseURL     string  `yaml:"api_base_url"`
	APIKey         string  `yaml:"api_key"`
	ModelName      string  `yaml:"model_name"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`

	OCR       OCRConfig       `yaml:"ocr"`
	ASR       ASRConfig       `yaml:"asr"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Output    OutputConfig    `yaml:"output"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Media     MediaConfig     `yaml:"media"`
}

type OCRConfig struct {
	Languages         []string `yaml:"languages"`
	MinConfidence     float64  `yaml:"min_confidence"`
	Parallelism       int      `yaml:"parallelism"`
	MaxTokensPerFrame int      `yaml:"max_tokens_per_frame"`
}

type ASRConfig struct {
	ModelSize      string `yaml:"model_size"`
	Language       string `yaml:"language"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type SamplingConfig struct {
	EveryNSeconds float64 `yaml:"every_n_seconds"`
	MaxFrames     int     `yaml:"max_frames"`
	Strategy      string  `yaml:"strategy"`
}

type OutputConfig struct {
	Language         string `yaml:"language"`
	StructuredFormat string `yaml:"structured_format"`
}

type AnalyticsConfig struct {
	DBPath string `yaml:"db_path"`
}

type TelegramConfig struct {
	APIKey string `yaml:"api_key"`
	ChatID string `yaml:"chat_id"`
}

type ServerConfig struct {
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	UploadDir      string `yaml:"upload_dir"`
}

type PipelineConfig struct {
	MaxConcurrentJobs  int  `yaml:"max_concurrent_jobs"`
	DedupWindowSeconds int  `yaml:"dedup_window_seconds"`
	KeepScratch        bool `yaml:"keep_scratch"`
}

type MediaConfig struct {
	MaxDurationSeconds int `yaml:"max_duration_seconds"`
}

// Load reads the YAML config file over a fully defaulted struct and overlays
// environment variables. Unmarshalling over the defaults means an explicit
// zero in the document (temperature: 0, max_retries: 0) is honored rather
// than replaced. The returned struct is treated as immutable for the process
// lifetime; components receive only the slices they need.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if v := os.Getenv("TOKINTEL_API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_API_KEY"); v != "" && cfg.Telegram.APIKey == "" {
		cfg.Telegram.APIKey = v
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	parallelism := runtime.NumCPU()
	if parallelism > 4 {
		parallelism = 4
	}

	return &Config{
		Provider:       ProviderOpenAI,
		ModelName:      "gpt-4o-mini",
		Temperature:    0.3,
		MaxTokens:      1024,
		TimeoutSeconds: 30,
		MaxRetries:     2,
		OCR: OCRConfig{
			Languages:     []string{"ita", "eng"},
			MinConfidence: 0.5,
			Parallelism:   parallelism,
		},
		ASR: ASRConfig{
			ModelSize:      "base",
			Language:       "auto",
			TimeoutSeconds: 120,
		},
		Sampling: SamplingConfig{
			EveryNSeconds: 1.0,
			MaxFrames:     120,
			Strategy:      "uniform",
		},
		Output: OutputConfig{
			Language:         "it",
			StructuredFormat: "json",
		},
		Analytics: AnalyticsConfig{
			DBPath: "./tokintel.db",
		},
		Server: ServerConfig{
			Port:           8080,
			MaxUploadBytes: 500 * 1024 * 1024,
			UploadDir:      "./uploads",
		},
		Pipeline: PipelineConfig{
			MaxConcurrentJobs:  2,
			DedupWindowSeconds: 3600,
		},
		Media: MediaConfig{
			MaxDurationSeconds: 900,
		},
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderLocal:
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
	if c.Provider == ProviderLocal && c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required for provider %s", ProviderLocal)
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return fmt.Errorf("ocr.min_confidence must be in [0,1], got %f", c.OCR.MinConfidence)
	}
	switch c.ASR.ModelSize {
	case "tiny", "base", "small", "medium", "large":
	default:
		return fmt.Errorf("unsupported asr.model_size: %s", c.ASR.ModelSize)
	}
	switch c.Sampling.Strategy {
	case "uniform", "scene-change":
	default:
		return fmt.Errorf("unsupported sampling.strategy: %s", c.Sampling.Strategy)
	}
	switch c.Output.StructuredFormat {
	case "json", "kv":
	default:
		return fmt.Errorf("unsupported output.structured_format: %s", c.Output.StructuredFormat)
	}
	return nil
}
