package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"delphi/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	AI            AIConfig
	ErrorTracking ErrorTrackingConfig
	Engine        EngineConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"delphi"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"true"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"delphi"`
}

type AIConfig struct {
	OpenAIKey      string        `envconfig:"OPENAI_API_KEY"`
	Model          string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string        `envconfig:"AI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	RequestTimeout time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"90s"`
	RatePerMinute  int           `envconfig:"AI_RATE_PER_MINUTE" default:"300"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// EngineConfig tunes the deliberation task engine.
// StepRetries bounds local retries of a single agent/memory step before the
// enclosing task fails; ZombieThreshold is how long a Running task may go
// without progress before the reaper flags it.
type EngineConfig struct {
	PoolSize        int           `envconfig:"ENGINE_POOL_SIZE" default:"4"`
	QueueSize       int           `envconfig:"ENGINE_QUEUE_SIZE" default:"256"`
	StepTimeout     time.Duration `envconfig:"ENGINE_STEP_TIMEOUT" default:"120s"`
	StepRetries     int           `envconfig:"ENGINE_STEP_RETRIES" default:"3"`
	RetryPause      time.Duration `envconfig:"ENGINE_RETRY_PAUSE" default:"2s"`
	ZombieThreshold time.Duration `envconfig:"ENGINE_ZOMBIE_THRESHOLD" default:"10m"`
	ZombieSweep     time.Duration `envconfig:"ENGINE_ZOMBIE_SWEEP_INTERVAL" default:"2m"`
	MemoryEnabled   bool          `envconfig:"ENGINE_MEMORY_STORE_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
