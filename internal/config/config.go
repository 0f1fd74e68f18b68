package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port               int
	NatsURL            string
	NatsToken          string
	DatabaseURL        string
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	LogLevel           string
	LogFile            string
	APIToken           string
	KnownIDsPath       string
	ExportDir          string
}

func Load() Config {
	return Config{
		Port:               envInt("DIAGFLOW_PORT", 8760),
		NatsURL:            envStr("NATS_URL", "nats://nats:4222"),
		NatsToken:          envStr("NATS_TOKEN", ""),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		ClickHouseAddr:     envStr("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: envStr("CLICKHOUSE_DATABASE", "diagflow"),
		ClickHouseUser:     envStr("CLICKHOUSE_USER", "default"),
		ClickHousePassword: envStr("CLICKHOUSE_PASSWORD", ""),
		LogLevel:           envStr("LOG_LEVEL", "info"),
		LogFile:            envStr("DIAGFLOW_LOG_FILE", ""),
		APIToken:           envStr("DIAGFLOW_API_TOKEN", ""),
		KnownIDsPath:       envStr("DIAGFLOW_KNOWN_IDS", ""),
		ExportDir:          envStr("DIAGFLOW_EXPORT_DIR", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
