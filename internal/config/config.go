package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (dispatch claims)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Email sending
	EmailProvider string // "log" or "ses"
	AWSRegion     string
	SESFromEmail  string

	// Due-reminder sweep
	SweepInterval  time.Duration
	SweepBatchSize int

	// Delivery queue drain
	DeliveryPollInterval time.Duration
	DeliveryBatchSize    int
	DeliveryMaxAttempts  int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "classpulse",
		DBPassword: "",
		DBName:     "classpulse",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		EmailProvider: "log",
		AWSRegion:     "us-east-1",
		SESFromEmail:  "noreply@classpulse.local",

		SweepInterval:  1 * time.Minute,
		SweepBatchSize: 50,

		DeliveryPollInterval: 15 * time.Second,
		DeliveryBatchSize:    20,
		DeliveryMaxAttempts:  3,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Email config
	if provider := os.Getenv("EMAIL_PROVIDER"); provider != "" {
		if provider != "log" && provider != "ses" {
			return nil, fmt.Errorf("invalid EMAIL_PROVIDER: %q (want log or ses)", provider)
		}
		cfg.EmailProvider = provider
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// Sweep config
	if interval := os.Getenv("SWEEP_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}

	if size := os.Getenv("SWEEP_BATCH_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_BATCH_SIZE: %w", err)
		}
		cfg.SweepBatchSize = n
	}

	// Delivery config
	if interval := os.Getenv("DELIVERY_POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_POLL_INTERVAL: %w", err)
		}
		cfg.DeliveryPollInterval = d
	}

	if size := os.Getenv("DELIVERY_BATCH_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_BATCH_SIZE: %w", err)
		}
		cfg.DeliveryBatchSize = n
	}

	if max := os.Getenv("DELIVERY_MAX_ATTEMPTS"); max != "" {
		n, err := strconv.Atoi(max)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_MAX_ATTEMPTS: %w", err)
		}
		cfg.DeliveryMaxAttempts = n
	}

	return cfg, nil
}
