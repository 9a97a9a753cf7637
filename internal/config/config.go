package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	ServiceName    = "stockledger"
	ServiceVersion = "0.1.0"
)

// Config holds the settings that change between environments. Everything has
// a default that works for local development; a Kafka broker or OTLP endpoint
// left empty disables that integration.
type Config struct {
	HTTPAddr     string
	GRPCAddr     string
	StoreBackend string
	MySQLDSN     string
	RedisAddr    string
	KafkaBroker  string
	KafkaTopic   string
	OTLPEndpoint string

	DispatchWorkers   int
	DispatchQueueSize int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTPAddr:     getEnvOrDefault("HTTP_ADDR", ":8080"),
		GRPCAddr:     getEnvOrDefault("GRPC_ADDR", ":50051"),
		StoreBackend: getEnvOrDefault("STORE_BACKEND", "memory"),
		MySQLDSN:     getEnvOrDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockledger?parseTime=true"),
		RedisAddr:    getEnvOrDefault("REDIS_ADDR", ""),
		KafkaBroker:  getEnvOrDefault("KAFKA_BROKER", ""),
		KafkaTopic:   getEnvOrDefault("KAFKA_TOPIC", "inventory-changes"),
		OTLPEndpoint: getEnvOrDefault("OTLP_ENDPOINT", ""),
	}

	var err error
	if cfg.DispatchWorkers, err = getEnvIntOrDefault("DISPATCH_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.DispatchQueueSize, err = getEnvIntOrDefault("DISPATCH_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}

	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "mysql" {
		return nil, fmt.Errorf("STORE_BACKEND must be memory or mysql, got %q", cfg.StoreBackend)
	}
	if cfg.DispatchWorkers < 1 {
		return nil, fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", cfg.DispatchWorkers)
	}
	if cfg.DispatchQueueSize < 1 {
		return nil, fmt.Errorf("DISPATCH_QUEUE_SIZE must be positive, got %d", cfg.DispatchQueueSize)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return parsed, nil
}
