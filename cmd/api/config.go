package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string
	DSN            string
	DBTimeout      time.Duration
	InternalSecret string
	CallbackTTL    time.Duration

	LogLevel         string
	LogFormat        string
	DebugLogCapacity int

	LocalCommand string
	LocalArgs    []string
	LocalWorkDir string

	WorkerBaseURL    string
	WorkerToken      string
	WorkerRPS        int
	WorkerMaxRetries int
	QueuePrefix      string

	MissLimit         int
	ReconcileSchedule string

	HealthWindow    time.Duration
	HealthRulesFile string

	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
}

func loadEnvFiles() {
	// Values already in the environment win over both files.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

func loadConfig() (Config, error) {
	cfg := Config{
		Addr:              getEnv("APP_ADDR", ":8080"),
		DSN:               os.Getenv("DB_DSN"),
		InternalSecret:    os.Getenv("INTERNAL_SECRET"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "auto"),
		LocalCommand:      os.Getenv("LOCAL_EXECUTOR_CMD"),
		LocalArgs:         getEnvList("LOCAL_EXECUTOR_ARGS", " "),
		LocalWorkDir:      getEnv("LOCAL_WORK_DIR", "var/runs"),
		WorkerBaseURL:     os.Getenv("WORKER_BASE_URL"),
		WorkerToken:       os.Getenv("WORKER_TOKEN"),
		QueuePrefix:       getEnv("WORKER_QUEUE_PREFIX", "books"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 30s"),
		HealthRulesFile:   os.Getenv("HEALTH_RULES_FILE"),
		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", ","),
	}

	var err error
	if cfg.DBTimeout, err = getEnvDuration("DB_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CallbackTTL, err = getEnvDuration("CALLBACK_TOKEN_TTL", 12*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.DebugLogCapacity, err = getEnvInt("DEBUG_LOG_CAPACITY", 500); err != nil {
		return Config{}, err
	}
	if cfg.WorkerRPS, err = getEnvInt("WORKER_RPS", 5); err != nil {
		return Config{}, err
	}
	if cfg.WorkerMaxRetries, err = getEnvInt("WORKER_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.MissLimit, err = getEnvInt("POLL_MISS_LIMIT", 3); err != nil {
		return Config{}, err
	}
	if cfg.HealthWindow, err = getEnvDuration("HEALTH_WINDOW", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = getEnvFloat("RATE_LIMIT_RPS", 20); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", 40); err != nil {
		return Config{}, err
	}

	if cfg.LocalCommand == "" && cfg.WorkerBaseURL == "" {
		return Config{}, fmt.Errorf("no executor configured: set LOCAL_EXECUTOR_CMD and/or WORKER_BASE_URL")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", key, v)
	}
	return n, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", key, v)
	}
	return f, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", key, v)
	}
	return d, nil
}

func getEnvList(key, sep string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func redactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}
