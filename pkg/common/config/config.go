package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerHost   string
	IntakePort   string
	ContactPort  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string

	// Generation oracle
	OracleAPIKey  string
	OracleBaseURL string
	OracleModel   string
	OracleTimeout time.Duration

	// Referral
	AllowlistPath    string
	AllowlistRefresh time.Duration

	// Turn serialization
	TurnLockTTL time.Duration
}

func Load() *Config {
	return &Config{
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		IntakePort:   getEnv("INTAKE_PORT", "8080"),
		ContactPort:  getEnv("CONTACT_PORT", "8081"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 60*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "anamnesis"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "anamnesis123"),
		PostgresDB:       getEnv("POSTGRES_DB", "anamnesis"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "anamnesis-platform"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "intake.events"),

		OracleAPIKey:  getEnv("ORACLE_API_KEY", ""),
		OracleBaseURL: getEnv("ORACLE_BASE_URL", "https://api.openai.com/v1"),
		OracleModel:   getEnv("ORACLE_MODEL_NAME", "gpt-4o"),
		OracleTimeout: getDuration("ORACLE_TIMEOUT", 45*time.Second),

		AllowlistPath:    getEnv("REFERRAL_ALLOWLIST_PATH", ""),
		AllowlistRefresh: getDuration("REFERRAL_ALLOWLIST_REFRESH", time.Minute),

		TurnLockTTL: getDuration("TURN_LOCK_TTL", 90*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
