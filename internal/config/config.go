package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port           string
	StorageBackend string

	// postgres
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// memory（STORAGE_BACKEND=memoryのとき。空ならファイル永続化なし）
	DataDir string

	JWTSecret string

	PaymentTimeout time.Duration
	PaymentLatency time.Duration
}

// 環境変数から設定を読み込む。必須項目が欠けていればerror。
func Load() (Config, error) {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		StorageBackend: getEnv("STORAGE_BACKEND", BackendPostgres),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		DataDir: os.Getenv("DATA_DIR"),

		JWTSecret: os.Getenv("JWT_SECRET"),
	}

	port, err := strconv.Atoi(getEnv("POSTGRES_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}
	cfg.PostgresPort = port

	cfg.PaymentTimeout, err = getDuration("PAYMENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.PaymentLatency, err = getDuration("PAYMENT_LATENCY", 50*time.Millisecond)
	if err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StorageBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" && (cfg.PostgresUser == "" || cfg.PostgresDB == "") {
			return Config{}, fmt.Errorf("DATABASE_URL or POSTGRES_USER/POSTGRES_DB is required")
		}
	case BackendMemory:
		// DataDirは任意
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_BACKEND: %s", cfg.StorageBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
