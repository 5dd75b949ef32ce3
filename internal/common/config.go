package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	OCR    OCRConfig
	AI     AIConfig
	Cache  CacheConfig
	Render RenderConfig
	Batch  BatchConfig
}

// OCRConfig holds settings for the external OCR service
type OCRConfig struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      uint64
	DetLimitSideLen int
}

// AIConfig holds settings for the hosted AI parsing service
type AIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// CacheConfig holds recognition-cache settings
type CacheConfig struct {
	Path       string // bbolt file; empty disables the persistent layer
	MaxEntries int
}

// RenderConfig holds page rasterization settings
type RenderConfig struct {
	OCRScale     float64 // OCR accuracy is resolution-sensitive; keep >= 3.0
	PreviewScale float64
}

// BatchConfig holds worker-pool settings
type BatchConfig struct {
	Workers    int
	DocTimeout time.Duration
	MinAIConf  float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		OCR: OCRConfig{
			BaseURL:         getEnv("OCR_URL", "http://127.0.0.1:1224"),
			Timeout:         getEnvAsDuration("OCR_TIMEOUT", 120*time.Second),
			MaxRetries:      uint64(getEnvAsInt("OCR_MAX_RETRIES", 3)),
			DetLimitSideLen: getEnvAsInt("OCR_DET_LIMIT_SIDE_LEN", 1024),
		},
		AI: AIConfig{
			APIKey:    getEnv("AI_API_KEY", ""),
			BaseURL:   getEnv("AI_BASE_URL", "https://open.bigmodel.cn/api/anthropic"),
			Model:     getEnv("AI_MODEL", "glm-4.6"),
			MaxTokens: getEnvAsInt("AI_MAX_TOKENS", 2048),
			Timeout:   getEnvAsDuration("AI_TIMEOUT", 45*time.Second),
		},
		Cache: CacheConfig{
			Path:       getEnv("RECOGNITION_CACHE_PATH", ""),
			MaxEntries: getEnvAsInt("RECOGNITION_CACHE_ENTRIES", 512),
		},
		Render: RenderConfig{
			OCRScale:     getEnvAsFloat("RENDER_OCR_SCALE", 3.0),
			PreviewScale: getEnvAsFloat("RENDER_PREVIEW_SCALE", 1.5),
		},
		Batch: BatchConfig{
			Workers:    getEnvAsInt("BATCH_WORKERS", 3),
			DocTimeout: getEnvAsDuration("BATCH_DOC_TIMEOUT", 5*time.Minute),
			MinAIConf:  getEnvAsFloat("AI_MIN_CONFIDENCE", 0.70),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.OCR.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "OCR_URL is required", ErrInvalidInput)
	}
	if c.Batch.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "BATCH_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Render.OCRScale < 1.0 {
		return NewAppError("CONFIG_ERROR", "RENDER_OCR_SCALE must be >= 1.0", ErrInvalidInput)
	}
	return nil
}
