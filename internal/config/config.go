// Package config gathers the process configuration from the
// environment. Missing required values are fatal at startup, never per
// document.
package config

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/caselight/backend/internal/util"
	"github.com/caselight/backend/pkg/logger"
)

// Config is the full runtime configuration of a worker or CLI process.
type Config struct {
	DatabaseURL string

	AIAdapter       string
	EmbedModel      string
	ChatModel       string
	ExtractionModel string
	VisionModel     string

	EmbedURL  string
	EmbedKey  string
	ChatURL   string
	ChatKey   string
	VisionURL string
	VisionKey string

	RateLimitPerSecond float64
	ChunkDelay         time.Duration

	Debug bool
}

// Load reads the configuration. requireDB and requireAI control which
// missing values are fatal: the worker needs both, storage-only CLI
// commands need neither model nor adapter settings.
func Load(requireDB, requireAI bool) Config {
	util.LoadEnv()

	cfg := Config{
		DatabaseURL: util.GetEnv("DATABASE_URL"),

		AIAdapter:       util.GetEnvString("AI_ADAPTER", "openai"),
		EmbedModel:      util.GetEnv("AI_EMBED_MODEL"),
		ChatModel:       util.GetEnv("AI_CHAT_MODEL"),
		ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
		VisionModel:     util.GetEnv("AI_VISION_MODEL"),

		EmbedURL:  util.GetEnv("AI_EMBED_URL"),
		EmbedKey:  util.GetEnv("AI_EMBED_KEY"),
		ChatURL:   util.GetEnv("AI_CHAT_URL"),
		ChatKey:   util.GetEnv("AI_CHAT_KEY"),
		VisionURL: util.GetEnv("AI_VISION_URL"),
		VisionKey: util.GetEnv("AI_VISION_KEY"),

		RateLimitPerSecond: util.GetEnvFloat("AI_RATE_LIMIT", 5),
		ChunkDelay:         time.Duration(util.GetEnvInt("AI_CHUNK_DELAY_MS", 200)) * time.Millisecond,

		Debug: util.GetEnvBool("DEBUG", false),
	}

	if requireDB && cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	if requireAI && cfg.EmbedModel == "" {
		logger.Fatal("AI_EMBED_MODEL is required")
	}
	if requireAI && cfg.ChatModel == "" {
		logger.Fatal("AI_CHAT_MODEL is required")
	}
	if cfg.ExtractionModel == "" {
		cfg.ExtractionModel = cfg.ChatModel
	}

	return cfg
}

// RateLimiter builds the shared AI request limiter from the configured
// per-second rate, with a burst of twice the rate.
func RateLimiter(cfg Config) *rate.Limiter {
	burst := int(cfg.RateLimitPerSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
}
