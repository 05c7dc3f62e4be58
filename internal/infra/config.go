package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoragePath string

	TextBaseURL   string
	TextModel     string
	TextAPIKey    string
	VisionBaseURL string
	VisionModel   string
	VisionAPIKey  string
	QwenAPIKey    string
	QwenBaseURL   string
	QwenModel     string
	QwenSeed      int
	ReconBaseURL  string
	SceneBaseURL  string
	Offline       bool

	ImageGateAttempts      int
	ModelGateAttempts      int
	PlacementAttempts      int
	MaxIterations          int
	ReviewAttempts         int
	MaxQuantityPerAsset    int
	RetryDelay             time.Duration
	CallTimeout            time.Duration
	StepTimeout            time.Duration
	GenerationConcurrency  int
	ModelRequestsPerMinute int

	WorkerPollInterval time.Duration
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSOrigins        []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoragePath: getEnv("STORAGE_PATH", "./data"),

		TextBaseURL:  getEnv("TEXT_BASE_URL", "http://127.0.0.1:8011/v1"),
		TextModel:    getEnv("TEXT_MODEL", "Qwen3-Next-80B-A3B-Thinking-FP8"),
		TextAPIKey:   os.Getenv("TEXT_API_KEY"),
		QwenAPIKey:   os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:  getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:    getEnv("QWEN_MODEL", "qwen-image-plus"),
		QwenSeed:     getEnvInt("QWEN_SEED", 0),
		ReconBaseURL: os.Getenv("RECON_BASE_URL"),
		SceneBaseURL: os.Getenv("SCENE_BASE_URL"),
		Offline:      getEnvBool("OFFLINE", false),

		ImageGateAttempts:      getEnvInt("IMAGE_GATE_ATTEMPTS", 3),
		ModelGateAttempts:      getEnvInt("MODEL_GATE_ATTEMPTS", 3),
		PlacementAttempts:      getEnvInt("PLACEMENT_ATTEMPTS", 5),
		MaxIterations:          getEnvInt("MAX_ITERATIONS", 2),
		ReviewAttempts:         getEnvInt("REVIEW_ATTEMPTS", 2),
		MaxQuantityPerAsset:    getEnvInt("MAX_QUANTITY_PER_ASSET", 20),
		RetryDelay:             time.Millisecond * time.Duration(getEnvInt("RETRY_DELAY_MS", 1000)),
		CallTimeout:            time.Second * time.Duration(getEnvInt("CALL_TIMEOUT_SECONDS", 300)),
		StepTimeout:            time.Second * time.Duration(getEnvInt("STEP_TIMEOUT_SECONDS", 0)),
		GenerationConcurrency:  getEnvInt("GENERATION_CONCURRENCY", 1),
		ModelRequestsPerMinute: getEnvInt("MODEL_REQUESTS_PER_MINUTE", 60),

		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_SECONDS", 5)),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:        getEnvList("CORS_ALLOWED_ORIGINS"),
	}
	cfg.VisionBaseURL = getEnv("VISION_BASE_URL", "http://127.0.0.1:8012/v1")
	cfg.VisionModel = getEnv("VISION_MODEL", "Qwen3-VL-32B-Thinking")
	cfg.VisionAPIKey = getEnv("VISION_API_KEY", cfg.TextAPIKey)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	positive := func(key string, v int) {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", key, v))
		}
	}
	positive("IMAGE_GATE_ATTEMPTS", c.ImageGateAttempts)
	positive("MODEL_GATE_ATTEMPTS", c.ModelGateAttempts)
	positive("PLACEMENT_ATTEMPTS", c.PlacementAttempts)
	positive("MAX_ITERATIONS", c.MaxIterations)
	positive("REVIEW_ATTEMPTS", c.ReviewAttempts)
	positive("MAX_QUANTITY_PER_ASSET", c.MaxQuantityPerAsset)
	positive("GENERATION_CONCURRENCY", c.GenerationConcurrency)
	if c.RetryDelay < 0 || c.CallTimeout < 0 || c.StepTimeout < 0 {
		errs = append(errs, errors.New("delays and timeouts must not be negative"))
	}
	if strings.TrimSpace(c.StoragePath) == "" {
		errs = append(errs, errors.New("STORAGE_PATH is required"))
	}
	return errors.Join(errs...)
}

// RequireDatabase reports an error when no DATABASE_URL is configured. The API
// and worker need one; the CLI does not.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// ModelLimiter returns a fresh limiter pacing calls to one model endpoint, or
// nil when pacing is disabled.
func (c *Config) ModelLimiter() *rate.Limiter {
	return NewPerMinuteLimiter(c.ModelRequestsPerMinute)
}

// NewPerMinuteLimiter allows perMinute events per minute with a burst of one.
// A non-positive rate disables limiting and returns nil.
func NewPerMinuteLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
