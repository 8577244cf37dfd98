package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the agent
type Config struct {
	App      AppConfig
	Upstream UpstreamConfig
	Channel  ChannelConfig
	Tracking TrackingConfig
	Session  SessionConfig
	Map      MapConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Operator OperatorConfig
	MinIO    MinIOConfig
	CORS     CORSConfig
	SMTP     SMTPConfig
	Firebase FirebaseConfig
}

type AppConfig struct {
	Env      string
	Port     string
	LogLevel slog.Level
}

// UpstreamConfig points at the tracking server REST API. Either Token is set,
// or Email/Password are used to log in at startup.
type UpstreamConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Token    string
	Email    string
	Password string
}

type ChannelConfig struct {
	Transport        string // websocket | mqtt
	URL              string
	MQTTBroker       string
	MaxRetries       int
	RetryInterval    time.Duration
	HandshakeTimeout time.Duration
}

type TrackingConfig struct {
	DeviceID   string
	Source     string // none | static | replay
	ReplayFile string
	Interval   time.Duration
	Latitude   float64
	Longitude  float64
	Accuracy   float64
	AutoStart  bool
}

type SessionConfig struct {
	RosterRefresh time.Duration
	StaleAfter    time.Duration
	NoticeTTL     time.Duration
	AlertCapacity int
}

type MapConfig struct {
	Width  int
	Height int
}

type DBConfig struct {
	Driver     string // sqlite | postgres
	SQLitePath string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
}

// DSN returns the PostgreSQL connection string
func (d DBConfig) DSN() string {
	return "host=" + d.Host +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" port=" + d.Port +
		" sslmode=" + d.SSLMode
}

// URL returns the PostgreSQL connection URL (for golang-migrate)
func (d DBConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password +
		"@" + d.Host + ":" + d.Port +
		"/" + d.Name + "?sslmode=" + d.SSLMode
}

// RedisConfig is optional; an empty Host disables Redis.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// Enabled reports whether a Redis host is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

// OperatorConfig is the single dashboard login.
type OperatorConfig struct {
	Email        string
	PasswordHash string
}

// MinIOConfig is optional; an empty Endpoint disables report archiving.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type CORSConfig struct {
	Origins []string
}

type SMTPConfig struct {
	Host       string
	Port       string
	Username   string
	Password   string
	From       string
	FromName   string
	Recipients []string
}

type FirebaseConfig struct {
	CredentialsFile string
	OperatorTokens  []string
}

// Load reads configuration from .env file and environment variables
func Load() *Config {
	// Load .env file (ignore error if not exists - e.g. in Docker)
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment variables")
	}

	return &Config{
		App: AppConfig{
			Env:      getEnv("APP_ENV", "development"),
			Port:     getEnv("APP_PORT", "8080"),
			LogLevel: getLevel("LOG_LEVEL", slog.LevelInfo),
		},
		Upstream: UpstreamConfig{
			BaseURL:  getEnv("UPSTREAM_URL", "http://localhost:5000"),
			Timeout:  getDuration("UPSTREAM_TIMEOUT", 10*time.Second),
			Token:    getEnv("UPSTREAM_TOKEN", ""),
			Email:    getEnv("UPSTREAM_EMAIL", ""),
			Password: getEnv("UPSTREAM_PASSWORD", ""),
		},
		Channel: ChannelConfig{
			Transport:        getEnv("CHANNEL_TRANSPORT", "websocket"),
			URL:              getEnv("CHANNEL_URL", "ws://localhost:5000/ws"),
			MQTTBroker:       getEnv("CHANNEL_MQTT_BROKER", "tcp://localhost:1883"),
			MaxRetries:       getInt("CHANNEL_MAX_RETRIES", 5),
			RetryInterval:    getDuration("CHANNEL_RETRY_INTERVAL", time.Second),
			HandshakeTimeout: getDuration("CHANNEL_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Tracking: TrackingConfig{
			DeviceID:   getEnv("DEVICE_ID", ""),
			Source:     getEnv("TRACKING_SOURCE", "none"),
			ReplayFile: getEnv("TRACKING_REPLAY_FILE", ""),
			Interval:   getDuration("TRACKING_INTERVAL", 5*time.Second),
			Latitude:   getFloat("TRACKING_LAT", 0),
			Longitude:  getFloat("TRACKING_LON", 0),
			Accuracy:   getFloat("TRACKING_ACCURACY", 10),
			AutoStart:  getEnv("TRACKING_AUTOSTART", "false") == "true",
		},
		Session: SessionConfig{
			RosterRefresh: getDuration("SESSION_ROSTER_REFRESH", 0),
			StaleAfter:    getDuration("SESSION_STALE_AFTER", 5*time.Minute),
			NoticeTTL:     getDuration("SESSION_NOTICE_TTL", 3*time.Second),
			AlertCapacity: getInt("SESSION_ALERT_CAPACITY", 5),
		},
		Map: MapConfig{
			Width:  getInt("MAP_WIDTH", 1024),
			Height: getInt("MAP_HEIGHT", 768),
		},
		DB: DBConfig{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "fleetwatch.db"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "fleetwatch"),
			Password:   getEnv("DB_PASSWORD", "fleetwatch"),
			Name:       getEnv("DB_NAME", "fleetwatch"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "default-secret"),
			Expiry: getDuration("JWT_EXPIRY", 24*time.Hour),
		},
		Operator: OperatorConfig{
			Email:        getEnv("OPERATOR_EMAIL", "operator@fleetwatch.local"),
			PasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("MINIO_BUCKET", "fleetwatch-reports"),
			UseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		},
		CORS: CORSConfig{
			Origins: getList("CORS_ORIGINS", "http://localhost:3000"),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnv("SMTP_PORT", "1025"),
			Username:   getEnv("SMTP_USERNAME", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			From:       getEnv("SMTP_FROM", "alerts@fleetwatch.local"),
			FromName:   getEnv("SMTP_FROM_NAME", "Fleetwatch"),
			Recipients: getList("ALERT_EMAIL_RECIPIENTS", ""),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			OperatorTokens:  getList("FIREBASE_OPERATOR_TOKENS", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getLevel(key string, fallback slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv(key, ""))); err != nil {
		return fallback
	}
	return level
}

// getList splits a comma separated value, skipping blanks.
func getList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
