package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	StoreMongo  = "mongo"
	StoreSQLite = "sqlite"
)

// Broker backends
const (
	BrokerRedis  = "redis"
	BrokerMemory = "memory"
)

// Lifecycle modes
const (
	LifecycleSession = "session"
	LifecycleCode    = "code"
)

type Config struct {
	HTTPPort string

	Store      string
	MongoURI   string
	MongoDB    string
	SQLitePath string

	Broker    string
	RedisAddr string

	Lifecycle      string
	AllowedOrigins []string

	JWTSecret     string
	AdminUsername string
	AdminPassword string

	MetricsTick time.Duration
}

func Load() *Config {
	return &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		Store:          getEnv("STORE", StoreMongo),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:        getEnv("MONGO_DB", "omnirelay"),
		SQLitePath:     getEnv("SQLITE_PATH", "omnirelay.db"),
		Broker:         getEnv("BROKER", BrokerRedis),
		RedisAddr:      redisAddr(getEnv("REDIS_URI", "localhost:6379")),
		Lifecycle:      getEnv("LIFECYCLE", LifecycleSession),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),
		JWTSecret:      getEnv("JWT_SECRET", "super-secret-key-change-in-production"),
		AdminUsername:  getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:  getEnv("ADMIN_PASSWORD", "password123"),
		MetricsTick:    getEnvDuration("METRICS_TICK", 60*time.Second),
	}
}

// redisAddr strips the redis:// scheme go-redis Options.Addr does not accept
func redisAddr(uri string) string {
	return strings.TrimPrefix(uri, "redis://")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Warning: invalid %s=%q, using %s", key, val, defaultVal)
	return defaultVal
}
