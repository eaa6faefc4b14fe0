package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	WebRTC     WebRTCConfig
	Push       PushConfig
	AWS        AWSConfig
	Moderation ModerationConfig
	Tasks      TasksConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// WebRTCConfig holds STUN/TURN ICE server URLs used as room defaults for peer-media sessions.
type WebRTCConfig struct {
	ICEUrls []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
}

// PushConfig holds ZEGOCLOUD credentials for external-push ingest sessions.
type PushConfig struct {
	AppID        uint32
	ServerSecret string // must be 32 characters per token04
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// ModerationConfig holds chat screening settings.
type ModerationConfig struct {
	BannedTerms        []string // hard-block terms (comma-separated in env)
	WatchTerms         []string // borderline terms that trigger deferred analysis
	RateLimitPerMinute int      // max chat messages per sender per minute
	SeverityThreshold  float64  // async verdict score at/above which a message is redacted
	ViolationWindowSec int      // rolling window for the violation policy signal
	AnalysisEngineURL  string   // external analysis engine endpoint (worker only)
}

// TasksConfig holds analysis task queue settings.
type TasksConfig struct {
	MaxRetries      int
	BackoffBaseSec  int
	BackoffCapSec   int
	PollIntervalSec int
	StaleAfterSec   int // processing rows older than this are reclaimed to pending
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))
	pushAppID, _ := strconv.ParseUint(getEnv("PUSH_APP_ID", "0"), 10, 32)
	severity, _ := strconv.ParseFloat(getEnv("MODERATION_SEVERITY_THRESHOLD", "0.7"), 64)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/campuslive?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "campuslive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		WebRTC: WebRTCConfig{
			ICEUrls: splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		Push: PushConfig{
			AppID:        uint32(pushAppID),
			ServerSecret: getEnv("PUSH_SERVER_SECRET", ""),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "campuslive-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Moderation: ModerationConfig{
			BannedTerms:        splitTrim(getEnv("MODERATION_BANNED_TERMS", ""), ","),
			WatchTerms:         splitTrim(getEnv("MODERATION_WATCH_TERMS", ""), ","),
			RateLimitPerMinute: getEnvInt("MODERATION_RATE_LIMIT_PER_MINUTE", 20),
			SeverityThreshold:  severity,
			ViolationWindowSec: getEnvInt("MODERATION_VIOLATION_WINDOW_SEC", 600),
			AnalysisEngineURL:  getEnv("ANALYSIS_ENGINE_URL", ""),
		},
		Tasks: TasksConfig{
			MaxRetries:      getEnvInt("TASK_MAX_RETRIES", 3),
			BackoffBaseSec:  getEnvInt("TASK_BACKOFF_BASE_SEC", 10),
			BackoffCapSec:   getEnvInt("TASK_BACKOFF_CAP_SEC", 600),
			PollIntervalSec: getEnvInt("TASK_POLL_INTERVAL_SEC", 2),
			StaleAfterSec:   getEnvInt("TASK_STALE_AFTER_SEC", 300),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
