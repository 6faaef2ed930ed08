package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds realtime-service configuration.
type Config struct {
	AppEnv   string // APP_ENV
	AppHost  string // APP_HOST
	HTTPPort string // APP_PORT or HTTP_PORT
	LogLevel string // LOG_LEVEL

	// PostgreSQL
	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	// Identity token verification (issuance is external)
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// WebSocket
	WSReadBufferSize  int
	WSWriteBufferSize int
	WSMaxMessageSize  int64

	// Realtime coordination
	TypingExpiry        time.Duration // typing entry with no refresh in this window is stale
	SessionMaxObservers int

	// Calls
	QualitySampleInterval time.Duration
	QualityLowScore       int // samples at or below this score count toward a degrade streak
	QualityDegradeStreak  int
	LowTimeThreshold      time.Duration // extensions allowed only below this remaining time
	ExtensionMinInterval  time.Duration // rate limit between extension requests
	MaxExtensionMinutes   int

	// Object store collaborator (recording upload handoff)
	ObjectStoreBaseURL string
	ObjectStoreTimeout time.Duration
}

// Load loads config from environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	readBuf, _ := strconv.Atoi(getEnv("WS_READ_BUFFER_SIZE", "4096"))
	writeBuf, _ := strconv.Atoi(getEnv("WS_WRITE_BUFFER_SIZE", "4096"))
	maxMsg, _ := strconv.ParseInt(getEnv("WS_MAX_MESSAGE_SIZE", "65536"), 10, 64)
	maxObs, _ := strconv.Atoi(getEnv("SESSION_MAX_OBSERVERS", "5"))
	lowScore, _ := strconv.Atoi(getEnv("QUALITY_LOW_SCORE", "2"))
	streak, _ := strconv.Atoi(getEnv("QUALITY_DEGRADE_STREAK", "3"))
	maxExt, _ := strconv.Atoi(getEnv("MAX_EXTENSION_MINUTES", "30"))

	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		AppHost:               getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:              firstEnv("APP_PORT", "HTTP_PORT", "8093"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:             getEnv("JWT_ISSUER", "samia-platform"),
		JWTAudience:           getEnv("JWT_AUDIENCE", "realtime"),
		WSReadBufferSize:      readBuf,
		WSWriteBufferSize:     writeBuf,
		WSMaxMessageSize:      maxMsg,
		TypingExpiry:          durationEnv("TYPING_EXPIRY", 4*time.Second),
		SessionMaxObservers:   maxObs,
		QualitySampleInterval: durationEnv("QUALITY_SAMPLE_INTERVAL", 5*time.Second),
		QualityLowScore:       lowScore,
		QualityDegradeStreak:  streak,
		LowTimeThreshold:      durationEnv("LOW_TIME_THRESHOLD", 5*time.Minute),
		ExtensionMinInterval:  durationEnv("EXTENSION_MIN_INTERVAL", time.Minute),
		MaxExtensionMinutes:   maxExt,
		ObjectStoreBaseURL:    getEnv("OBJECT_STORE_URL", ""),
		ObjectStoreTimeout:    durationEnv("OBJECT_STORE_TIMEOUT", 30*time.Second),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "realtime_service")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

// Validate checks required fields and production safety.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return errors.New("config: DB_HOST is required")
	}
	if c.DB.User == "" {
		return errors.New("config: DB_USER is required")
	}
	if c.DB.Database == "" {
		return errors.New("config: DB_DATABASE is required")
	}
	if c.AppEnv == "production" {
		if c.DB.Password == "" {
			return errors.New("config: in production DB_PASSWORD is required")
		}
		if c.JWTSecret == "" || c.JWTSecret == "dev-secret-change-me" {
			return errors.New("config: in production JWT_SECRET is required")
		}
	}
	if c.TypingExpiry <= 0 {
		return errors.New("config: TYPING_EXPIRY must be positive")
	}
	if c.QualitySampleInterval <= 0 {
		return errors.New("config: QUALITY_SAMPLE_INTERVAL must be positive")
	}
	return nil
}

// DSN returns PostgreSQL connection string for GORM.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

// DatabaseURL returns postgres URL for golang-migrate.
func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

// Addr returns listen address for HTTP server.
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	keys := keysAndDef[:len(keysAndDef)-1]
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
