package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	AutomationBaseURL string `env:"AUTOMATION_BASE_URL,required=true"`
	ArtifactDir       string `env:"ARTIFACT_DIR,default=/var/lib/invoice-pipeline/artifacts"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	MaxRetries        int    `env:"MAX_RETRIES,default=3"`
	GroupConcurrency  int    `env:"GROUP_CONCURRENCY,default=4"`
	ConsumerPrefetch  int    `env:"CONSUMER_PREFETCH,default=1"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
