package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working
// directory of the service binary.
const ConfigPath = "config.yaml"

// Bus transport selectors.
const (
	BusRedis = "redis"
	BusAMQP  = "amqp"
)

// Generation provider selectors.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// DatabaseURL selects the Postgres store; when empty the service falls
	// back to the in-process store (single-instance deployments and tests).
	DatabaseURL string `yaml:"databaseURL"`

	BusProvider string `yaml:"busProvider"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	EventStream   string `yaml:"eventStream"`
	EventGroup    string `yaml:"eventGroup"`

	AMQPURL   string `yaml:"amqpURL"`
	AMQPQueue string `yaml:"amqpQueue"`

	WorkerConcurrency int `yaml:"workerConcurrency"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	// SignTTLMinutes bounds the lifetime of signed artifact URLs handed to
	// clients.
	SignTTLMinutes int `yaml:"signTTLMinutes"`

	GenerationProvider       string `yaml:"generationProvider"`
	GenerationBaseURL        string `yaml:"generationBaseURL"`
	GenerationAPIKey         string `yaml:"generationAPIKey"`
	GenerationModel          string `yaml:"generationModel"`
	GenerationTimeoutSeconds int    `yaml:"generationTimeoutSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("GENERATION_PROVIDER"); v != "" {
		cfg.GenerationProvider = v
	}
	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		cfg.GenerationAPIKey = v
	}
	if v := os.Getenv("GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.BusProvider == "" {
		cfg.BusProvider = BusRedis
	}
	if cfg.EventStream == "" {
		cfg.EventStream = "draftforge:events"
	}
	if cfg.EventGroup == "" {
		cfg.EventGroup = "draftforge-workers"
	}
	if cfg.AMQPQueue == "" {
		cfg.AMQPQueue = "draftforge.events"
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 2
	}
	if cfg.SignTTLMinutes <= 0 {
		cfg.SignTTLMinutes = 60
	}
	if cfg.GenerationTimeoutSeconds <= 0 {
		cfg.GenerationTimeoutSeconds = 120
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.BusProvider {
	case BusRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis bus (set in config.yaml or REDIS_ADDR)")
		}
	case BusAMQP:
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required for the amqp bus (set in config.yaml or AMQP_URL)")
		}
	default:
		return fmt.Errorf("config: unknown busProvider %q (redis or amqp)", cfg.BusProvider)
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml or MINIO_ACCESS_KEY)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml or MINIO_SECRET_KEY)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	switch cfg.GenerationProvider {
	case ProviderGemini:
		if cfg.GenerationAPIKey == "" {
			return errors.New("config: generationAPIKey is required for gemini (set in config.yaml or GENERATION_API_KEY)")
		}
	case ProviderOllama:
		if cfg.GenerationBaseURL == "" {
			return errors.New("config: generationBaseURL is required for ollama (set in config.yaml)")
		}
	case ProviderOpenAI:
		if cfg.GenerationBaseURL == "" {
			return errors.New("config: generationBaseURL is required for openai (set in config.yaml)")
		}
	default:
		return fmt.Errorf("config: unknown generationProvider %q (gemini, ollama or openai)", cfg.GenerationProvider)
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml)")
	}
	return nil
}
