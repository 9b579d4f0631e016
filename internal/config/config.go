package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Store     StoreConfig
	Scanner   ScannerConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Heartbeat HeartbeatConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type BackendConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	ProbeEvery   time.Duration
	ProbeTimeout time.Duration
}

type StoreConfig struct {
	// Path is the SQLite DSN for the device-local store. ":memory:" is only
	// useful in tests; a real device needs durability across restarts.
	Path string
}

type ScannerConfig struct {
	EventID     string
	GateName    string
	QRSecretKey string
	Cooldown    time.Duration
	HistorySize int
	CacheStale  time.Duration
	Retention   time.Duration
	PruneEvery  time.Duration
}

type RedisConfig struct {
	Addr    string
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Enabled bool
}

type HeartbeatConfig struct {
	DeviceID string
	Interval time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8090"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:      getEnv("BACKEND_URL", "http://localhost:8080"),
			Token:        getEnv("BACKEND_TOKEN", ""),
			Timeout:      getEnvDuration("BACKEND_TIMEOUT_SECONDS", 10*time.Second),
			ProbeEvery:   getEnvDuration("CONNECTIVITY_PROBE_SECONDS", 15*time.Second),
			ProbeTimeout: getEnvDuration("CONNECTIVITY_PROBE_TIMEOUT_SECONDS", 3*time.Second),
		},
		Store: StoreConfig{
			Path: getEnv("SCANNER_DB_PATH", "file:scanner.db?cache=shared"),
		},
		Scanner: ScannerConfig{
			EventID:     getEnv("SCANNER_EVENT_ID", ""),
			GateName:    getEnv("SCANNER_GATE_NAME", "main-gate"),
			QRSecretKey: getEnv("QR_SECRET_KEY", ""),
			Cooldown:    time.Duration(getEnvInt("SCAN_COOLDOWN_MS", 2500)) * time.Millisecond,
			HistorySize: getEnvInt("SCAN_HISTORY_SIZE", 10),
			CacheStale:  time.Duration(getEnvInt("CACHE_STALE_MINUTES", 10)) * time.Minute,
			Retention:   time.Duration(getEnvInt("QUEUE_RETENTION_HOURS", 48)) * time.Hour,
			PruneEvery:  time.Duration(getEnvInt("QUEUE_PRUNE_MINUTES", 30)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Topic:   getEnv("KAFKA_TOPIC_TICKET_EVENTS", "ticket-events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "gate-scanner"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
		},
		Heartbeat: HeartbeatConfig{
			DeviceID: getEnv("DEVICE_ID", "scanner-001"),
			Interval: getEnvDuration("HEARTBEAT_SECONDS", 30*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return defaultValue
}
