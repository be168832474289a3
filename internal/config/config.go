package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for the question answering service
type Config struct {
	Source     SourceConfig
	Politeness PolitenessConfig
	Ranking    RankingConfig
	Cache      CacheConfig
	Server     ServerConfig
	Tracing    TracingConfig
	Log        LogConfig
}

// SourceConfig describes the remote document API and its relay fallback
type SourceConfig struct {
	BaseURL   string
	PostsPath string
	PerPage   int
	RelayURL  string
	Timeout   time.Duration
	UserAgent string
}

// PolitenessConfig holds outbound request gate configuration
type PolitenessConfig struct {
	MinDelay            time.Duration
	HostConcurrency     int
	CleanupInterval     time.Duration
	HostStateExpiry     time.Duration
	RobotsCacheDuration time.Duration
	EnableRobotsCheck   bool
}

// RankingConfig tunes the relevance ranker and the answer text
type RankingConfig struct {
	TopK          int
	MinSimilarity float64
	MinQueryRunes int
	DateLayout    string
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	TTL time.Duration
}

type ServerConfig struct {
	Addr string
}

type TracingConfig struct {
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

type LogConfig struct {
	Level string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:   GetStringEnv("SOURCE_BASE_URL", "http://localhost:8081"),
			PostsPath: GetStringEnv("SOURCE_POSTS_PATH", "/wp-json/wp/v2/posts"),
			PerPage:   GetIntEnv("SOURCE_PER_PAGE", 20),
			RelayURL:  GetStringEnv("SOURCE_RELAY_URL", "https://api.allorigins.win/get?url="),
			Timeout:   GetDurationEnv("SOURCE_TIMEOUT", 15*time.Second),
			UserAgent: GetStringEnv("SOURCE_USER_AGENT", "siteqa/1.0"),
		},
		Politeness: PolitenessConfig{
			MinDelay:            GetDurationEnv("POLITENESS_MIN_DELAY", 0),
			HostConcurrency:     GetIntEnv("POLITENESS_HOST_CONCURRENCY", 4),
			CleanupInterval:     GetDurationEnv("POLITENESS_CLEANUP_INTERVAL", 10*time.Minute),
			HostStateExpiry:     GetDurationEnv("POLITENESS_HOST_STATE_EXPIRY", 1*time.Hour),
			RobotsCacheDuration: GetDurationEnv("POLITENESS_ROBOTS_CACHE_DURATION", 24*time.Hour),
			EnableRobotsCheck:   GetBoolEnv("POLITENESS_ENABLE_ROBOTS_CHECK", false),
		},
		Ranking: RankingConfig{
			TopK:          GetIntEnv("RANKING_TOP_K", 5),
			MinSimilarity: GetFloatEnv("RANKING_MIN_SIMILARITY", 0.01),
			MinQueryRunes: GetIntEnv("RANKING_MIN_QUERY_RUNES", 3),
			DateLayout:    GetStringEnv("RANKING_DATE_LAYOUT", "02.01.2006"),
		},
		Cache: CacheConfig{
			TTL: GetDurationEnv("CACHE_TTL", 30*time.Minute),
		},
		Server: ServerConfig{
			Addr: GetStringEnv("SERVER_ADDR", ":8080"),
		},
		Tracing: TracingConfig{
			ServiceName:  GetStringEnv("TRACING_SERVICE_NAME", "siteqa"),
			OTLPEndpoint: GetStringEnv("TRACING_OTLP_ENDPOINT", ""),
			SampleRate:   GetFloatEnv("TRACING_SAMPLE_RATE", 1.0),
		},
		Log: LogConfig{
			Level: GetStringEnv("LOG_LEVEL", "info"),
		},
	}
}

func GetStringEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
