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

	// Redis (job queue, live-update events, send throttle)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Campaign pipeline
	CampaignBatchSize    int           // contacts fetched per fan-out batch
	CampaignBatchPause   time.Duration // pause between fan-out batches
	CampaignScanInterval time.Duration // how often the promotion scan runs
	CampaignLookahead    time.Duration // scheduled-at window the scan promotes

	// Scheduled one-off messages
	ScheduleScanInterval time.Duration
	ScheduleWindow       time.Duration // send-at window the monitor promotes
	ScheduleSendDelay    time.Duration

	// Per-connection send throttle for scheduled messages
	SendLimit  int
	SendWindow time.Duration

	// WhatsApp gateway
	GatewayURL     string
	GatewayToken   string
	GatewayTimeout time.Duration

	// Base directory for campaign media and file lists
	PublicDir string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "disparo",
		DBName:    "disparo",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		CampaignBatchSize:    30,
		CampaignBatchPause:   5 * time.Second,
		CampaignScanInterval: 20 * time.Second,
		CampaignLookahead:    1 * time.Hour,

		ScheduleScanInterval: 5 * time.Second,
		ScheduleWindow:       5 * time.Minute,
		ScheduleSendDelay:    40 * time.Second,

		SendLimit:  1,
		SendWindow: 3 * time.Second,

		GatewayURL:     "http://localhost:3000",
		GatewayTimeout: 30 * time.Second,

		PublicDir: "public",
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

	// Campaign pipeline config
	if size := os.Getenv("CAMPAIGN_BATCH_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid CAMPAIGN_BATCH_SIZE: %w", err)
		}
		cfg.CampaignBatchSize = n
	}

	if pause := os.Getenv("CAMPAIGN_BATCH_PAUSE"); pause != "" {
		d, err := time.ParseDuration(pause)
		if err != nil {
			return nil, fmt.Errorf("invalid CAMPAIGN_BATCH_PAUSE: %w", err)
		}
		cfg.CampaignBatchPause = d
	}

	if interval := os.Getenv("CAMPAIGN_SCAN_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid CAMPAIGN_SCAN_INTERVAL: %w", err)
		}
		cfg.CampaignScanInterval = d
	}

	if lookahead := os.Getenv("CAMPAIGN_LOOKAHEAD"); lookahead != "" {
		d, err := time.ParseDuration(lookahead)
		if err != nil {
			return nil, fmt.Errorf("invalid CAMPAIGN_LOOKAHEAD: %w", err)
		}
		cfg.CampaignLookahead = d
	}

	if interval := os.Getenv("SCHEDULE_SCAN_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULE_SCAN_INTERVAL: %w", err)
		}
		cfg.ScheduleScanInterval = d
	}

	if window := os.Getenv("SCHEDULE_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULE_WINDOW: %w", err)
		}
		cfg.ScheduleWindow = d
	}

	if delay := os.Getenv("SCHEDULE_SEND_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULE_SEND_DELAY: %w", err)
		}
		cfg.ScheduleSendDelay = d
	}

	if limit := os.Getenv("SEND_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_LIMIT: %w", err)
		}
		cfg.SendLimit = n
	}

	if window := os.Getenv("SEND_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_WINDOW: %w", err)
		}
		cfg.SendWindow = d
	}

	// Gateway config
	if url := os.Getenv("GATEWAY_URL"); url != "" {
		cfg.GatewayURL = url
	}

	if token := os.Getenv("GATEWAY_TOKEN"); token != "" {
		cfg.GatewayToken = token
	}

	if timeout := os.Getenv("GATEWAY_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
		}
		cfg.GatewayTimeout = d
	}

	if dir := os.Getenv("PUBLIC_DIR"); dir != "" {
		cfg.PublicDir = dir
	}

	return cfg, nil
}
