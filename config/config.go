package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// RateLimitConfig holds the two admission windows: one per user, one per
// user+template. Windows are fixed, counted in Redis.
type RateLimitConfig struct {
	UserMaxRequests       int `yaml:"user_max_requests"`
	UserWindowMinutes     int `yaml:"user_window_minutes"`
	TemplateMaxRequests   int `yaml:"template_max_requests"`
	TemplateWindowMinutes int `yaml:"template_window_minutes"`
}

// DeliveryConfig controls channel consumers and provider adapters.
type DeliveryConfig struct {
	MaxAttempts            int    `yaml:"max_attempts"`
	ProviderTimeoutSeconds int    `yaml:"provider_timeout_seconds"`
	EmailProviderURL       string `yaml:"email_provider_url"`
	SMSProviderURL         string `yaml:"sms_provider_url"`
	PushProviderURL        string `yaml:"push_provider_url"`
}

// PoolConfig bounds the admission worker pool.
type PoolConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// SweepConfig controls the stuck-record retry sweeper.
type SweepConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	CutoffMinutes   int `yaml:"cutoff_minutes"`
	BatchSize       int `yaml:"batch_size"`
}

type Config struct {
	DB        DBConfig        `yaml:"db"`
	MQ        MQConfig        `yaml:"mq"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Pool      PoolConfig      `yaml:"pool"`
	Sweep     SweepConfig     `yaml:"sweep"`
}

func Load() *Config {
	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.RateLimit.UserMaxRequests == 0 {
		cfg.RateLimit.UserMaxRequests = 5
	}
	if cfg.RateLimit.UserWindowMinutes == 0 {
		cfg.RateLimit.UserWindowMinutes = 1
	}
	if cfg.RateLimit.TemplateMaxRequests == 0 {
		cfg.RateLimit.TemplateMaxRequests = 2
	}
	if cfg.RateLimit.TemplateWindowMinutes == 0 {
		cfg.RateLimit.TemplateWindowMinutes = 5
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = 3
	}
	if cfg.Delivery.ProviderTimeoutSeconds == 0 {
		cfg.Delivery.ProviderTimeoutSeconds = 5
	}
	if cfg.Pool.Workers == 0 {
		cfg.Pool.Workers = 10
	}
	if cfg.Pool.QueueSize == 0 {
		cfg.Pool.QueueSize = 100
	}
	if cfg.Sweep.IntervalSeconds == 0 {
		cfg.Sweep.IntervalSeconds = 60
	}
	if cfg.Sweep.CutoffMinutes == 0 {
		cfg.Sweep.CutoffMinutes = 5
	}
	if cfg.Sweep.BatchSize == 0 {
		cfg.Sweep.BatchSize = 100
	}
}

func (c RateLimitConfig) UserWindow() time.Duration {
	return time.Duration(c.UserWindowMinutes) * time.Minute
}

func (c RateLimitConfig) TemplateWindow() time.Duration {
	return time.Duration(c.TemplateWindowMinutes) * time.Minute
}

func (c DeliveryConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c SweepConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c SweepConfig) Cutoff() time.Duration {
	return time.Duration(c.CutoffMinutes) * time.Minute
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if v := os.Getenv("RATE_LIMIT_USER_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.UserMaxRequests = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_USER_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.UserWindowMinutes = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_TEMPLATE_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.TemplateMaxRequests = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_TEMPLATE_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.TemplateWindowMinutes = n
		}
	}
}
